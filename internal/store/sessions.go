package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/saviour/saviour/internal/recording"
)

// RecordSession persists a completed or in-flight session snapshot. The
// controller calls this once at session start and again whenever the
// coordinator's outcome set changes, so the history row always reflects the
// latest fan-out state even though the authoritative copy stays in memory
// (spec §9 Open Question (b): "sessions do not resume across a controller
// restart; only their history is durable").
func (db *DB) RecordSession(ctx context.Context, s recording.Session) error {
	outcomes, err := json.Marshal(s.Outcomes)
	if err != nil {
		return fmt.Errorf("store: marshal outcomes: %w", err)
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, name, target, members, started_at, outcomes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET outcomes = EXCLUDED.outcomes
	`, s.ID, s.Name, s.Target, s.Members, s.StartedAt, outcomes)
	if err != nil {
		return fmt.Errorf("store: record session %s: %w", s.ID, err)
	}
	return nil
}

// CloseSession stamps a session's end time once every member has reached a
// terminal outcome.
func (db *DB) CloseSession(ctx context.Context, sessionID string, outcomes map[string]recording.MemberOutcome) error {
	encoded, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("store: marshal outcomes: %w", err)
	}
	_, err = db.Pool.Exec(ctx, `
		UPDATE sessions SET ended_at = now(), outcomes = $2 WHERE id = $1
	`, sessionID, encoded)
	if err != nil {
		return fmt.Errorf("store: close session %s: %w", sessionID, err)
	}
	return nil
}

// SessionHistoryEntry is one row returned by ListSessions, for the
// operator-facing history view (spec §4.8).
type SessionHistoryEntry struct {
	ID        string
	Name      string
	Target    string
	Members   []string
	StartedAt string
	EndedAt   *string
	Outcomes  map[string]string
}

// ListSessions returns the most recent sessions, newest first, for the
// operator API and saviourctl's history command.
func (db *DB) ListSessions(ctx context.Context, limit int) ([]SessionHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, name, target, members, started_at::text, ended_at::text, outcomes
		FROM sessions ORDER BY started_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionHistoryEntry
	for rows.Next() {
		var e SessionHistoryEntry
		var endedAt *string
		var outcomesRaw []byte
		if err := rows.Scan(&e.ID, &e.Name, &e.Target, &e.Members, &e.StartedAt, &endedAt, &outcomesRaw); err != nil {
			return nil, fmt.Errorf("store: scan session row: %w", err)
		}
		e.EndedAt = endedAt
		if err := json.Unmarshal(outcomesRaw, &e.Outcomes); err != nil {
			return nil, fmt.Errorf("store: unmarshal outcomes: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
