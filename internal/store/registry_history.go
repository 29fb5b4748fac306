package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
)

// RecordRegistryEvent appends one row describing a registry mutation
// (spec §4.1/§4.8's fleet history: when a module joined, went offline, or
// changed status, for operator review after the fact).
func (db *DB) RecordRegistryEvent(ctx context.Context, e registry.Event) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO registry_history (module_id, kind, status, ip, online)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ModuleID, string(e.Kind), string(e.Record.Status), e.Record.IP, e.Record.Online)
	if err != nil {
		return fmt.Errorf("store: record registry event for %s: %w", e.ModuleID, err)
	}
	return nil
}

// WatchRegistry subscribes to bus for registry.Event values and writes each
// one to registry_history until ctx is cancelled. Run as its own goroutine
// from cmd/controller; failures are logged, not fatal, since losing one
// history row must never affect the live registry.
func (db *DB) WatchRegistry(ctx context.Context, bus *eventbus.Bus, log zerolog.Logger) {
	ch, cancel := bus.Subscribe(func(e eventbus.Event) bool {
		_, ok := e.(registry.Event)
		return ok
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			re, ok := e.(registry.Event)
			if !ok {
				continue
			}
			if err := db.RecordRegistryEvent(ctx, re); err != nil {
				log.Warn().Err(err).Str("module_id", re.ModuleID).Msg("failed to record registry history")
			}
		}
	}
}
