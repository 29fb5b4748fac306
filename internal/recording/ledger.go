package recording

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger is the module-local durable record of segments produced, backing
// the `list_recordings` command (spec §6) and surviving process restarts —
// unlike the controller's in-memory Session set, a module's own segment
// history must outlive a reboot so an operator can see what was captured
// before the crash.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if necessary) a pure-Go SQLite ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recording: open ledger: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording: migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS segments (
	session_name TEXT NOT NULL,
	segment_index INTEGER NOT NULL,
	path TEXT NOT NULL,
	opened_at INTEGER NOT NULL,
	closed_at INTEGER,
	PRIMARY KEY (session_name, segment_index)
);
`

// RecordSegment upserts a closed segment into the ledger.
func (l *Ledger) RecordSegment(sessionName string, seg Segment) error {
	_, err := l.db.Exec(
		`INSERT INTO segments (session_name, segment_index, path, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(session_name, segment_index) DO UPDATE SET closed_at = excluded.closed_at`,
		sessionName, seg.Index, seg.Path, seg.OpenedAt.Unix(), seg.ClosedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("recording: record segment: %w", err)
	}
	return nil
}

// LedgerEntry is one row listed by ListSessions.
type LedgerEntry struct {
	SessionName  string
	SegmentIndex int
	Path         string
	OpenedAt     time.Time
	ClosedAt     time.Time
}

// ListSessions returns every recorded segment, most recent session first
// (spec §6's `list_recordings`).
func (l *Ledger) ListSessions() ([]LedgerEntry, error) {
	rows, err := l.db.Query(`SELECT session_name, segment_index, path, opened_at, closed_at
	                          FROM segments ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("recording: list sessions: %w", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var opened, closed int64
		if err := rows.Scan(&e.SessionName, &e.SegmentIndex, &e.Path, &opened, &closed); err != nil {
			return nil, fmt.Errorf("recording: scan ledger row: %w", err)
		}
		e.OpenedAt = time.Unix(opened, 0)
		e.ClosedAt = time.Unix(closed, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}
