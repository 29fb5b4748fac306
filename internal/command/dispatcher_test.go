package command

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/transport"
)

func TestDispatcherInvokesRegisteredHandler(t *testing.T) {
	client, statuses := newRecordingClient(t)
	d := New(client, "m1", "lobby-cam", 50*time.Millisecond, zerolog.Nop())

	called := make(chan transport.Command, 1)
	d.Register("get_status", func(ctx context.Context, cmd transport.Command) (transport.Status, error) {
		called <- cmd
		return transport.Status{Type: transport.StatusStatus}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(transport.Command{Cmd: "get_status"})

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	waitForStatus(t, statuses, transport.StatusStatus)
}

func TestDispatcherReportsUnknownCommand(t *testing.T) {
	client, statuses := newRecordingClient(t)
	d := New(client, "m1", "lobby-cam", 50*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(transport.Command{Cmd: "does_not_exist"})

	waitForStatus(t, statuses, transport.StatusError)
}
