package eventbus

import (
	"testing"
	"time"
)

type fakeEvent struct {
	Kind string
	N    int
}

func TestPublishSubscribe(t *testing.T) {
	b := New(8)
	ch, cancel := b.Subscribe(nil)
	defer cancel()

	b.Publish(fakeEvent{Kind: "added", N: 1})

	select {
	case e := <-ch:
		fe := e.(fakeEvent)
		if fe.Kind != "added" || fe.N != 1 {
			t.Errorf("got %+v", fe)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterExcludes(t *testing.T) {
	b := New(8)
	ch, cancel := b.Subscribe(func(e Event) bool {
		fe, ok := e.(fakeEvent)
		return ok && fe.Kind == "wanted"
	})
	defer cancel()

	b.Publish(fakeEvent{Kind: "unwanted"})
	b.Publish(fakeEvent{Kind: "wanted", N: 42})

	select {
	case e := <-ch:
		fe := e.(fakeEvent)
		if fe.Kind != "wanted" || fe.N != 42 {
			t.Errorf("got %+v, want wanted/42", fe)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered event")
	}

	select {
	case e := <-ch:
		t.Fatalf("unexpected second event: %+v", e)
	default:
	}
}

func TestReplayRingBuffer(t *testing.T) {
	b := New(2)
	b.Publish(fakeEvent{Kind: "a"})
	b.Publish(fakeEvent{Kind: "b"})
	b.Publish(fakeEvent{Kind: "c"}) // evicts "a"

	replayed := b.Replay(nil)
	if len(replayed) != 2 {
		t.Fatalf("len(replayed) = %d, want 2", len(replayed))
	}
	kinds := map[string]bool{}
	for _, e := range replayed {
		kinds[e.(fakeEvent).Kind] = true
	}
	if kinds["a"] {
		t.Error("oldest event should have been evicted")
	}
	if !kinds["b"] || !kinds["c"] {
		t.Errorf("expected b and c retained, got %v", kinds)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := New(4)
	_, cancel := b.Subscribe(nil)
	if b.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", b.SubscriberCount())
	}
	cancel()
	if b.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount = %d, want 0 after cancel", b.SubscriberCount())
	}
}
