package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishFillsIdentity(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	ch, cancel, err := bus.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := bus.Publish(context.Background(), Event{Type: TypeModelDiscovered}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case evt := <-ch:
		if evt.Type != TypeModelDiscovered {
			t.Fatalf("expected %s got %s", TypeModelDiscovered, evt.Type)
		}
		if evt.ID == "" {
			t.Fatal("expected a generated event id")
		}
		if evt.Timestamp.IsZero() {
			t.Fatal("expected a stamped timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	first, cancelFirst, _ := bus.Subscribe(context.Background())
	defer cancelFirst()
	second, cancelSecond, _ := bus.Subscribe(context.Background())
	defer cancelSecond()

	if err := bus.Publish(context.Background(), Event{Type: TypeSyncStarted}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan Event{first, second} {
		select {
		case evt := <-ch:
			if evt.Type != TypeSyncStarted {
				t.Fatalf("expected %s got %s", TypeSyncStarted, evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelClosesSubscription(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	ch, cancel, _ := bus.Subscribe(context.Background())

	cancel()
	cancel() // second cancel is a no-op

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}

	// A cancelled subscriber no longer receives.
	if err := bus.Publish(context.Background(), Event{Type: TypeSyncCompleted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	t.Parallel()

	bus := NewBus(Options{})
	ch, cancel, _ := bus.Subscribe(context.Background())
	defer cancel()

	// Fill the subscriber buffer without draining, then publish once more.
	// The overflow event is dropped instead of blocking the publisher.
	for i := 0; i < cap(ch)+1; i++ {
		if err := bus.Publish(context.Background(), Event{Type: TypeDetectionRecorded}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != cap(ch) {
				t.Fatalf("expected %d buffered events got %d", cap(ch), received)
			}
			return
		}
	}
}
