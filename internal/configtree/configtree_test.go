package configtree

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestTree(t *testing.T) (*Tree, string) {
	t.Helper()
	dir := t.TempDir()
	persist := filepath.Join(dir, "active_config.json")
	base := map[string]any{
		"camera": map[string]any{"fps": 30, "resolution": "1080p"},
		"_build": "abc123",
	}
	typeDefaults := map[string]any{
		"camera": map[string]any{"resolution": "4k"},
	}
	tr, err := New(base, typeDefaults, nil, persist)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, persist
}

func TestLayeringPrefersDeeperLayer(t *testing.T) {
	tr, _ := newTestTree(t)
	v, ok := tr.Get("camera.resolution")
	if !ok || v != "4k" {
		t.Fatalf("camera.resolution = %v, %v, want 4k (type defaults over base)", v, ok)
	}
	v, ok = tr.Get("camera.fps")
	if !ok || v != 30 {
		t.Fatalf("camera.fps = %v, %v, want 30 from base defaults", v, ok)
	}
}

func TestSetRejectsUnderscorePrefixedKeys(t *testing.T) {
	tr, _ := newTestTree(t)
	if err := tr.Set("_build", "xyz", false); err == nil {
		t.Error("expected error setting read-only _-prefixed key")
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	tr, persist := newTestTree(t)
	if err := tr.Set("camera.fps", 60, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := os.Stat(persist); err != nil {
		t.Fatalf("expected persisted file: %v", err)
	}

	reloaded, err := New(map[string]any{"camera": map[string]any{"fps": 30}}, nil, nil, persist)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	v, ok := reloaded.Get("camera.fps")
	if !ok || v != float64(60) {
		t.Errorf("reloaded camera.fps = %v, %v, want 60", v, ok)
	}
}

func TestSetAllIdempotentRoundTrip(t *testing.T) {
	tr, _ := newTestTree(t)
	all := tr.GetAll()

	diff, err := tr.SetAll(all)
	if err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	if len(diff.Changed) != 0 {
		t.Errorf("set_all(get_all()) changed %v, want no-op", diff.Changed)
	}
}

func TestSetAllEmitsDiffToSubscribers(t *testing.T) {
	tr, _ := newTestTree(t)
	ch, cancel := tr.Subscribe()
	defer cancel()

	next := tr.GetAll()
	next["camera"].(map[string]any)["fps"] = 15
	if _, err := tr.SetAll(next); err != nil {
		t.Fatalf("SetAll: %v", err)
	}

	select {
	case d := <-ch:
		if _, ok := d.Changed["camera.fps"]; !ok {
			t.Errorf("diff %v missing camera.fps", d.Changed)
		}
	default:
		t.Fatal("expected a diff event")
	}
}

func TestSetAllRejectsReadOnlyKey(t *testing.T) {
	tr, _ := newTestTree(t)
	all := tr.GetAll()
	all["_build"] = "changed"
	if _, err := tr.SetAll(all); err == nil {
		t.Error("expected error setting read-only key via set_all")
	}
}

func TestEnvOverridesTakeFinalPrecedence(t *testing.T) {
	env := LoadEnvOverrides(func(name string) (string, bool) {
		if name == "SAVIOUR_TRANSPORT_MQTT_PORT" {
			return "1884", true
		}
		return "", false
	})
	tr, err := New(
		map[string]any{"transport": map[string]any{"mqtt_port": "1883"}},
		nil, env, "",
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v, _ := tr.Get("transport.mqtt_port")
	if v != "1884" {
		t.Errorf("transport.mqtt_port = %v, want env override 1884", v)
	}
}
