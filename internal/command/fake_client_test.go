package command

import (
	"sync"
	"testing"
	"time"

	"github.com/saviour/saviour/internal/transport"
)

type fakeClient struct {
	mu sync.Mutex
	ch chan transport.Status
}

func (f *fakeClient) PublishStatus(moduleID string, status transport.Status) error {
	f.ch <- status
	return nil
}

func newRecordingClient(t *testing.T) (*fakeClient, chan transport.Status) {
	t.Helper()
	ch := make(chan transport.Status, 8)
	return &fakeClient{ch: ch}, ch
}

func waitForStatus(t *testing.T, ch chan transport.Status, want string) transport.Status {
	t.Helper()
	select {
	case s := <-ch:
		if s.Type != want {
			t.Fatalf("status.Type = %q, want %q", s.Type, want)
		}
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for status %q", want)
		return transport.Status{}
	}
}
