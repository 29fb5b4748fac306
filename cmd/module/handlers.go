package main

import (
	"context"
	"fmt"
	"time"

	"github.com/saviour/saviour/internal/command"
	"github.com/saviour/saviour/internal/configtree"
	"github.com/saviour/saviour/internal/readiness"
	"github.com/saviour/saviour/internal/recording"
	"github.com/saviour/saviour/internal/timesync"
	"github.com/saviour/saviour/internal/transport"
)

// moduleHandlers holds the dependencies every registered command.Handler
// needs. Splitting these into one struct keeps main's wiring step a single
// block of Register calls, the same shape the teacher's cmd/tr-engine uses
// for its call-sign/ingest handler registration.
type moduleHandlers struct {
	moduleType string
	moduleName string

	stateMachine *recording.StateMachine
	ledger       *recording.Ledger
	configTree   *configtree.Tree
	suite        *readiness.Suite
	supervisor   *timesync.Supervisor
	serviceCtl   timesync.ServiceController

	requestShutdown func()
}

func (h *moduleHandlers) register(d *command.Dispatcher) {
	d.Register(transport.CmdGetStatus, h.getStatus)
	d.Register(transport.CmdStartRecording, h.startRecording)
	d.Register(transport.CmdStopRecording, h.stopRecording)
	d.Register(transport.CmdListRecordings, h.listRecordings)
	d.Register(transport.CmdGetConfig, h.getConfig)
	d.Register(transport.CmdSetConfig, h.setConfig)
	d.Register(transport.CmdValidateReadiness, h.validateReadiness)
	d.Register(transport.CmdRestartPTP, h.restartPTP)
	d.Register(transport.CmdShutdown, h.shutdown)
}

func (h *moduleHandlers) getStatus(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	return transport.Status{
		Type: transport.StatusStatus,
		Extra: map[string]any{
			"module_type":   h.moduleType,
			"recording":     h.stateMachine.IsRecording(),
			"segment_index": h.stateMachine.CurrentIndex(),
		},
	}, nil
}

func (h *moduleHandlers) startRecording(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	sessionName, _ := cmd.Params["session_name"].(string)
	sessionID, _ := cmd.Params["session_id"].(string)
	if sessionName == "" {
		return h.startFailed(sessionID, "missing session_name"), nil
	}

	var duration *time.Duration
	if raw, ok := cmd.Params["duration"]; ok {
		if secs, ok := toFloat(raw); ok {
			d := time.Duration(secs) * time.Second
			duration = &d
		}
	}

	if err := h.stateMachine.Start(ctx, sessionName, duration); err != nil {
		return h.startFailed(sessionID, err.Error()), nil
	}
	return transport.Status{
		Type:  transport.StatusRecordingStarted,
		Extra: map[string]any{"session_id": sessionID, "session_name": sessionName},
	}, nil
}

func (h *moduleHandlers) startFailed(sessionID, reason string) transport.Status {
	return transport.Status{
		Type:  transport.StatusRecordingStartFail,
		Extra: map[string]any{"session_id": sessionID, "reason": reason},
	}
}

func (h *moduleHandlers) stopRecording(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	sessionID, _ := cmd.Params["session_id"].(string)
	sessionName, _ := cmd.Params["session_name"].(string)

	if err := h.stateMachine.Stop(); err != nil {
		return transport.Status{
			Type:  transport.StatusRecordingStopFail,
			Extra: map[string]any{"session_id": sessionID, "reason": err.Error()},
		}, nil
	}
	if h.ledger != nil {
		// Segments were already recorded individually on rollover; nothing
		// further to persist here beyond the stop acknowledgement itself.
		_ = sessionName
	}
	return transport.Status{
		Type:  transport.StatusRecordingStopped,
		Extra: map[string]any{"session_id": sessionID, "session_name": sessionName},
	}, nil
}

func (h *moduleHandlers) listRecordings(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	entries, err := h.ledger.ListSessions()
	if err != nil {
		return transport.Status{}, fmt.Errorf("list recordings: %w", err)
	}
	sessions := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, map[string]any{
			"session_name":  e.SessionName,
			"segment_index": e.SegmentIndex,
			"path":          e.Path,
			"opened_at":     e.OpenedAt.Unix(),
			"closed_at":     e.ClosedAt.Unix(),
		})
	}
	return transport.Status{Type: transport.StatusStatus, Extra: map[string]any{"sessions": sessions}}, nil
}

func (h *moduleHandlers) getConfig(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	return transport.Status{
		Type:  transport.StatusGetConfig,
		Extra: map[string]any{"config": h.configTree.GetAll()},
	}, nil
}

func (h *moduleHandlers) setConfig(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	diff, err := h.configTree.SetAll(cmd.Params)
	if err != nil {
		return transport.Status{}, fmt.Errorf("set config: %w", err)
	}
	return transport.Status{
		Type:  transport.StatusSetConfig,
		Extra: map[string]any{"config": h.configTree.GetAll(), "changed": diff.Changed},
	}, nil
}

func (h *moduleHandlers) validateReadiness(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	verdict := h.suite.Validate(ctx)
	return transport.Status{
		Type: transport.StatusValidateReadiness,
		Extra: map[string]any{
			"ready":  verdict.Ready,
			"reason": verdict.Reason,
			"failed": verdict.Failed,
		},
	}, nil
}

func (h *moduleHandlers) restartPTP(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	if err := h.serviceCtl.RestartSysSync(ctx); err != nil {
		return transport.Status{}, fmt.Errorf("restart ptp: %w", err)
	}
	return transport.Status{Type: transport.StatusStatus, Extra: map[string]any{"action": "restart_ptp", "result": "ok"}}, nil
}

func (h *moduleHandlers) shutdown(ctx context.Context, cmd transport.Command) (transport.Status, error) {
	if h.requestShutdown != nil {
		go func() {
			time.Sleep(200 * time.Millisecond) // give the ack a chance to publish first
			h.requestShutdown()
		}()
	}
	return transport.Status{Type: transport.StatusStatus, Extra: map[string]any{"action": "shutdown", "result": "ok"}}, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
