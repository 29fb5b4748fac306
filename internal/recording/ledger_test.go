package recording

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer l.Close()

	seg := Segment{Index: 0, Path: "/data/sess_a/segment_0000.mp4", OpenedAt: time.Now(), ClosedAt: time.Now()}
	if err := l.RecordSegment("sess_a", seg); err != nil {
		t.Fatalf("RecordSegment: %v", err)
	}

	entries, err := l.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionName != "sess_a" {
		t.Fatalf("entries = %+v, want one sess_a row", entries)
	}
}
