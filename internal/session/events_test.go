package session

import (
	"testing"
	"time"
)

func TestEventBus_DeliversToSubscriber(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "batch_started"})

	select {
	case ev := <-ch:
		if ev.Kind != "batch_started" {
			t.Fatalf("expected batch_started, got %s", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestEventBus_LaggingSubscriberNeverBlocksProducer(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBusCapacity+10; i++ {
			b.Publish(Event{Kind: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a non-draining subscriber")
	}
}

func TestEventBus_CloseTerminatesSubscribers(t *testing.T) {
	b := NewEventBus()
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestEventBus_PublishAfterCloseIsNoop(t *testing.T) {
	b := NewEventBus()
	b.Close()
	b.Publish(Event{Kind: "ignored"}) // must not panic
}
