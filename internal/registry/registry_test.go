package registry

import (
	"testing"
	"time"

	"github.com/saviour/saviour/internal/eventbus"
)

func TestUpsertInsertsThenRefreshes(t *testing.T) {
	bus := eventbus.New(16)
	reg := New(bus)

	rec, err := reg.Upsert("camera_dc67", "10.0.0.5", 8080, "camera")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if rec.Status != StatusNotReady || !rec.Online {
		t.Fatalf("fresh record = %+v, want NOT_READY/online", rec)
	}

	rec2, err := reg.Upsert("camera_dc67", "10.0.0.6", 8081, "camera")
	if err != nil {
		t.Fatalf("Upsert refresh: %v", err)
	}
	if rec2.IP != "10.0.0.6" || rec2.Port != 8081 {
		t.Errorf("refreshed record = %+v, want updated address", rec2)
	}

	all := reg.All()
	if len(all) != 1 {
		t.Fatalf("len(All()) = %d, want 1", len(all))
	}
}

func TestUpdateIPRejectsCollision(t *testing.T) {
	reg := New(eventbus.New(4))
	if _, err := reg.Upsert("a", "10.0.0.1", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Upsert("b", "10.0.0.2", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateIP("b", "10.0.0.1"); err == nil {
		t.Error("expected collision error updating b's IP to a's IP")
	}
}

func TestRenameMigratesIndices(t *testing.T) {
	reg := New(eventbus.New(4))
	if _, err := reg.Upsert("camera_old", "10.0.0.1", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	if err := reg.Rename("camera_old", "camera_new"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, ok := reg.Get("camera_old"); ok {
		t.Error("old id should no longer resolve")
	}
	rec, ok := reg.Get("camera_new")
	if !ok {
		t.Fatal("new id should resolve")
	}
	if rec.IP != "10.0.0.1" {
		t.Errorf("IP after rename = %q, want 10.0.0.1", rec.IP)
	}
	if err := reg.UpdateIP("camera_new", "10.0.0.2"); err != nil {
		t.Fatalf("UpdateIP after rename: %v", err)
	}
}

func TestMarkOnlineForcesOfflineStatus(t *testing.T) {
	reg := New(eventbus.New(4))
	if _, err := reg.Upsert("a", "10.0.0.1", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetReady("a", time.Minute, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := reg.MarkOnline("a", false); err != nil {
		t.Fatalf("MarkOnline: %v", err)
	}
	rec, _ := reg.Get("a")
	if rec.Status != StatusOffline {
		t.Errorf("status = %q, want OFFLINE after going offline", rec.Status)
	}

	if err := reg.MarkOnline("a", true); err != nil {
		t.Fatalf("MarkOnline back online: %v", err)
	}
	rec, _ = reg.Get("a")
	if rec.Status != StatusNotReady {
		t.Errorf("status after reconnect = %q, want NOT_READY", rec.Status)
	}
}

func TestEffectiveStatusExpiresReady(t *testing.T) {
	reg := New(eventbus.New(4))
	if _, err := reg.Upsert("a", "10.0.0.1", 1, "camera"); err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	if err := reg.SetReady("a", time.Second, now); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Get("a")
	if rec.EffectiveStatus(now) != StatusReady {
		t.Errorf("EffectiveStatus immediately = %q, want READY", rec.EffectiveStatus(now))
	}
	if rec.EffectiveStatus(now.Add(2*time.Second)) != StatusNotReady {
		t.Errorf("EffectiveStatus past ttl = %q, want NOT_READY", rec.EffectiveStatus(now.Add(2*time.Second)))
	}
}

func TestMembersResolvesGroupAndAll(t *testing.T) {
	reg := New(eventbus.New(4))
	reg.Upsert("a", "10.0.0.1", 1, "camera")
	reg.Upsert("b", "10.0.0.2", 1, "camera")
	reg.SetGroup("a", "lobby")
	reg.SetGroup("b", "lobby")
	reg.MarkOnline("b", false)

	lobby := reg.Members("lobby")
	if len(lobby) != 1 || lobby[0] != "a" {
		t.Errorf("Members(lobby) = %v, want [a]", lobby)
	}

	all := reg.Members("all")
	if len(all) != 1 {
		t.Errorf("Members(all) = %v, want only online members", all)
	}

	single := reg.Members("a")
	if len(single) != 1 || single[0] != "a" {
		t.Errorf("Members(a) = %v, want [a]", single)
	}
}

func TestEventsArePublished(t *testing.T) {
	bus := eventbus.New(16)
	reg := New(bus)
	ch, cancel := bus.Subscribe(nil)
	defer cancel()

	reg.Upsert("a", "10.0.0.1", 1, "camera")

	select {
	case e := <-ch:
		ev := e.(Event)
		if ev.Kind != EventAdded || ev.ModuleID != "a" {
			t.Errorf("event = %+v, want Added/a", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Added event")
	}
}

func TestRemoveDeletesRecord(t *testing.T) {
	reg := New(eventbus.New(4))
	reg.Upsert("a", "10.0.0.1", 1, "camera")
	reg.Remove("a")
	if _, ok := reg.Get("a"); ok {
		t.Error("record should be gone after Remove")
	}
}
