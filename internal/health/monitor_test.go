package health

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/saviour/saviour/internal/eventbus"
	"github.com/saviour/saviour/internal/registry"
)

func TestMonitorMarksOfflineAfterTimeout(t *testing.T) {
	bus := eventbus.New(16)
	reg := registry.New(bus)
	reg.Upsert("a", "10.0.0.1", 1, "camera")

	mon := NewMonitor(reg, bus, 50*time.Millisecond, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	mon.Receive(Heartbeat{ModuleID: "a", At: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ := reg.Get("a")
		if rec.Status == registry.StatusOffline {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("module never marked OFFLINE after heartbeat timeout")
}

func TestMonitorMarksOnlineOnHeartbeat(t *testing.T) {
	bus := eventbus.New(16)
	reg := registry.New(bus)
	reg.Upsert("a", "10.0.0.1", 1, "camera")
	reg.MarkOnline("a", false)

	mon := NewMonitor(reg, bus, time.Hour, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx)

	ch, unsub := bus.Subscribe(func(e eventbus.Event) bool {
		_, ok := e.(Event)
		return ok
	})
	defer unsub()

	mon.Receive(Heartbeat{ModuleID: "a", At: time.Now()})

	select {
	case e := <-ch:
		ev := e.(Event)
		if ev.Kind != EventOnline || ev.ModuleID != "a" {
			t.Errorf("event = %+v, want Online/a", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for online event")
	}

	rec, _ := reg.Get("a")
	if !rec.Online {
		t.Error("module should be online after heartbeat")
	}
}
