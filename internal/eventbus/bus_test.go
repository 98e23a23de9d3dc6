package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: DeadlineStarted, Data: "98101"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != DeadlineStarted || e.Data != "98101" || e.Time.IsZero() {
				t.Fatalf("unexpected event: %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	if got := Dropped(b); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	if e := <-ch; e.Type != "a" {
		t.Fatalf("got %q, want oldest event kept", e.Type)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
}
