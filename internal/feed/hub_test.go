package feed

import (
	"testing"
	"time"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("a", "")
	b := hub.Subscribe("b", "")

	hub.Publish(Event{Type: EventSessionStarted, ParticipantID: "p1", At: time.Now().UnixMilli()})

	for _, sub := range []*Subscriber{a, b} {
		select {
		case e := <-sub.Ch:
			if e.Type != EventSessionStarted {
				t.Errorf("subscriber %s got %q, want %q", sub.ID, e.Type, EventSessionStarted)
			}
		default:
			t.Errorf("subscriber %s received nothing", sub.ID)
		}
	}
}

func TestParticipantFilter(t *testing.T) {
	hub := NewHub()
	filtered := hub.Subscribe("f", "p1")

	hub.Publish(Event{Type: EventResultAccepted, ParticipantID: "p2"})
	select {
	case e := <-filtered.Ch:
		t.Errorf("filtered subscriber got event for %s", e.ParticipantID)
	default:
	}

	hub.Publish(Event{Type: EventResultAccepted, ParticipantID: "p1"})
	select {
	case <-filtered.Ch:
	default:
		t.Error("filtered subscriber missed matching event")
	}
}

func TestSetFilter(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("s", "")
	hub.SetFilter("s", "p9")

	hub.Publish(Event{Type: EventExposureLogged, ParticipantID: "p1"})
	select {
	case <-sub.Ch:
		t.Error("refiltered subscriber got non-matching event")
	default:
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	hub.Subscribe("slow", "")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(Event{Type: EventSessionCompleted})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on full subscriber buffer")
	}
	if stats := hub.Stats(); stats.Dropped == 0 {
		t.Error("expected drops on a full buffer")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("x", "")
	hub.Unsubscribe("x")

	if _, ok := <-sub.Ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	if stats := hub.Stats(); stats.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0", stats.Subscribers)
	}

	// Double unsubscribe is a no-op.
	hub.Unsubscribe("x")
}
