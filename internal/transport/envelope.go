// Package transport implements the command/status messaging plane: a
// topic-addressed MQTT pub/sub fabric with a command channel (controller to
// modules) and a status channel (modules to controller), durable through
// reconnects. Transport only frames, addresses, and delivers — dispatch
// lives in package command.
package transport

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is the controller-to-module command envelope published on
// cmd/<selector>. The wire form is "<cmd> <params-json-or-kv>" per spec §6;
// Command is the parsed, in-memory representation.
type Command struct {
	Cmd    string
	Params map[string]any
}

// EncodeCommand renders a Command to its wire text form, preferring compact
// JSON params.
func EncodeCommand(c Command) (string, error) {
	if len(c.Params) == 0 {
		return c.Cmd, nil
	}
	b, err := json.Marshal(c.Params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return c.Cmd + " " + string(b), nil
}

// DecodeCommand parses the wire text form of a command envelope. Params may
// be a JSON object or whitespace-separated k=v tokens, per spec §6.
func DecodeCommand(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Command{}, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(raw, " ", 2)
	cmd := Command{Cmd: parts[0]}
	if len(parts) == 1 {
		return cmd, nil
	}
	rest := strings.TrimSpace(parts[1])
	if rest == "" {
		return cmd, nil
	}
	if strings.HasPrefix(rest, "{") {
		var params map[string]any
		if err := json.Unmarshal([]byte(rest), &params); err != nil {
			return Command{}, fmt.Errorf("decode json params: %w", err)
		}
		cmd.Params = params
		return cmd, nil
	}
	params := make(map[string]any)
	for _, tok := range strings.Fields(rest) {
		kv := strings.SplitN(tok, "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[kv[0]] = kv[1]
	}
	cmd.Params = params
	return cmd, nil
}

// Status is the module-to-controller status envelope published on
// status/<module_id>. Fields beyond the required ones are type-specific and
// carried in Extra.
type Status struct {
	Type       string         `json:"type"`
	Timestamp  int64          `json:"timestamp"`
	ModuleID   string         `json:"module_id"`
	ModuleName string         `json:"module_name"`
	Extra      map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the required fields so the wire
// payload is a single flat JSON object, matching spec §6.
func (s Status) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+4)
	for k, v := range s.Extra {
		out[k] = v
	}
	out["type"] = s.Type
	out["timestamp"] = s.Timestamp
	out["module_id"] = s.ModuleID
	out["module_name"] = s.ModuleName
	return json.Marshal(out)
}

// UnmarshalJSON splits the required fields out of the flat wire object and
// keeps everything else in Extra.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Extra = raw
	if v, ok := raw["type"].(string); ok {
		s.Type = v
		delete(s.Extra, "type")
	}
	if v, ok := raw["timestamp"].(float64); ok {
		s.Timestamp = int64(v)
		delete(s.Extra, "timestamp")
	}
	if v, ok := raw["module_id"].(string); ok {
		s.ModuleID = v
		delete(s.Extra, "module_id")
	}
	if v, ok := raw["module_name"].(string); ok {
		s.ModuleName = v
		delete(s.Extra, "module_name")
	}
	return nil
}

// Known status types (spec §6).
const (
	StatusHeartbeat           = "heartbeat"
	StatusStatus              = "status"
	StatusRecordingStarted    = "recording_started"
	StatusRecordingStopped    = "recording_stopped"
	StatusRecordingStartFail  = "recording_start_failed"
	StatusRecordingStopFail   = "recording_stop_failed"
	StatusValidateReadiness   = "validate_readiness"
	StatusGetConfig           = "get_config"
	StatusSetConfig           = "set_config"
	StatusError               = "error"
)

// Known commands every module accepts (spec §6).
const (
	CmdGetStatus         = "get_status"
	CmdStartRecording    = "start_recording"
	CmdStopRecording     = "stop_recording"
	CmdListRecordings    = "list_recordings"
	CmdGetConfig         = "get_config"
	CmdSetConfig         = "set_config"
	CmdValidateReadiness = "validate_readiness"
	CmdRestartPTP        = "restart_ptp"
	CmdShutdown          = "shutdown"
)
