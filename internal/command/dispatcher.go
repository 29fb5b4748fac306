// Package command implements the module-side command envelope dispatch of
// spec §5/§6: a registered-handler switch over command names, serialized on
// a single worker per spec §5's "command dispatch on each module runs on one
// worker; handlers are serialized per module." The registered-handler-map
// shape is grounded on the teacher's internal/ingest.Pipeline.dispatch
// switch over message types, generalized from trunk-recorder message
// routing to SAVIOUR's command verbs.
package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/transport"
)

// Handler processes one decoded command and returns the status envelope to
// publish in response. Returning an error causes the dispatcher to publish
// a `status.error` envelope instead.
type Handler func(ctx context.Context, cmd transport.Command) (transport.Status, error)

// StatusPublisher is the narrow slice of *transport.Client the dispatcher
// needs, so tests can substitute a fake without a live broker.
type StatusPublisher interface {
	PublishStatus(moduleID string, status transport.Status) error
}

// Dispatcher serializes command handling for one module onto a single
// worker goroutine (spec §5), with a receive timeout so a cooperative
// shutdown flag is checked regularly (spec §5's "command listeners use a
// receive timeout").
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	client      StatusPublisher
	moduleID    string
	moduleName  string
	queue       chan transport.Command
	recvTimeout time.Duration
	log         zerolog.Logger
}

// New creates a Dispatcher publishing responses through client.
func New(client StatusPublisher, moduleID, moduleName string, recvTimeout time.Duration, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers:    make(map[string]Handler),
		client:      client,
		moduleID:    moduleID,
		moduleName:  moduleName,
		queue:       make(chan transport.Command, 64),
		recvTimeout: recvTimeout,
		log:         log.With().Str("component", "command.dispatcher").Logger(),
	}
}

// Register binds a command verb (e.g. "start_recording") to a Handler. Every
// required command of spec §6 must be registered before Run starts, plus any
// module-type-specific verbs.
func (d *Dispatcher) Register(cmd string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[cmd] = h
}

// Enqueue hands a decoded command to the dispatcher's single worker. Safe to
// call from the transport message-handler goroutine; drops (with a log) if
// the queue is saturated rather than blocking the MQTT client's callback.
func (d *Dispatcher) Enqueue(cmd transport.Command) {
	select {
	case d.queue <- cmd:
	default:
		d.log.Warn().Str("cmd", cmd.Cmd).Msg("command queue full, dropping")
	}
}

// Run drains the queue on a single goroutine until ctx is cancelled,
// invoking the registered handler for each command and publishing its
// response (or a status.error envelope if the handler errors or none is
// registered).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-d.queue:
			d.handle(ctx, cmd)
		case <-time.After(d.recvTimeout):
			// Wake periodically purely so a future cooperative-shutdown
			// check has somewhere to live without a forceful cancel.
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, cmd transport.Command) {
	d.mu.RLock()
	h, ok := d.handlers[cmd.Cmd]
	d.mu.RUnlock()

	var status transport.Status
	if !ok {
		status = d.errorStatus(fmt.Errorf("unknown command %q", cmd.Cmd))
	} else {
		s, err := h(ctx, cmd)
		if err != nil {
			status = d.errorStatus(err)
		} else {
			status = s
		}
	}
	if status.ModuleID == "" {
		status.ModuleID = d.moduleID
	}
	if status.ModuleName == "" {
		status.ModuleName = d.moduleName
	}
	if status.Timestamp == 0 {
		status.Timestamp = time.Now().Unix()
	}
	if err := d.client.PublishStatus(d.moduleID, status); err != nil {
		d.log.Warn().Err(err).Str("cmd", cmd.Cmd).Msg("failed to publish command response")
	}
}

func (d *Dispatcher) errorStatus(err error) transport.Status {
	return transport.Status{
		Type:       transport.StatusError,
		ModuleID:   d.moduleID,
		ModuleName: d.moduleName,
		Timestamp:  time.Now().Unix(),
		Extra:      map[string]any{"error": err.Error()},
	}
}
