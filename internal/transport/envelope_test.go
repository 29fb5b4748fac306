package transport

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeCommandRoundTrip(t *testing.T) {
	cases := []Command{
		{Cmd: "get_status"},
		{Cmd: "start_recording", Params: map[string]any{"session_name": "sess_a", "duration": float64(70)}},
	}
	for _, c := range cases {
		wire, err := EncodeCommand(c)
		if err != nil {
			t.Fatalf("EncodeCommand(%+v): %v", c, err)
		}
		got, err := DecodeCommand(wire)
		if err != nil {
			t.Fatalf("DecodeCommand(%q): %v", wire, err)
		}
		if got.Cmd != c.Cmd {
			t.Errorf("Cmd = %q, want %q", got.Cmd, c.Cmd)
		}
		if !reflect.DeepEqual(got.Params, c.Params) {
			t.Errorf("Params = %#v, want %#v", got.Params, c.Params)
		}
	}
}

func TestDecodeCommandKVParams(t *testing.T) {
	got, err := DecodeCommand("set_config camera.fps=60 camera.mode=color")
	if err != nil {
		t.Fatalf("DecodeCommand: %v", err)
	}
	if got.Cmd != "set_config" {
		t.Errorf("Cmd = %q, want set_config", got.Cmd)
	}
	if got.Params["camera.fps"] != "60" {
		t.Errorf("camera.fps = %v, want 60", got.Params["camera.fps"])
	}
	if got.Params["camera.mode"] != "color" {
		t.Errorf("camera.mode = %v, want color", got.Params["camera.mode"])
	}
}

func TestDecodeCommandRejectsEmpty(t *testing.T) {
	if _, err := DecodeCommand("   "); err == nil {
		t.Error("expected error decoding empty command")
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	s := Status{
		Type:       StatusHeartbeat,
		Timestamp:  1234,
		ModuleID:   "camera_dc67",
		ModuleName: "lobby-cam",
		Extra:      map[string]any{"recording": true, "streaming": false},
	}
	data, err := s.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var got Status
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if got.Type != s.Type || got.ModuleID != s.ModuleID || got.ModuleName != s.ModuleName {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Extra["recording"] != true {
		t.Errorf("Extra[recording] = %v, want true", got.Extra["recording"])
	}
}
