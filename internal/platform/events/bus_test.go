package events

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishReachesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(PersonTopic("d1"))
	defer sub.Cancel()

	err := bus.Publish(context.Background(), Event{
		Type:  TypePersonStatusChanged,
		Topic: PersonTopic("d1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-sub.C:
		if got.Type != TypePersonStatusChanged {
			t.Errorf("unexpected event type %q", got.Type)
		}
		if got.Timestamp.IsZero() {
			t.Error("expected timestamp to be stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TopicIsolation(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(PersonTopic("d1"))
	defer sub.Cancel()

	bus.Publish(context.Background(), Event{Type: TypePersonStatusChanged, Topic: PersonTopic("d2")})

	select {
	case e := <-sub.C:
		t.Fatalf("received event for wrong topic: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_CancelReleasesSubscriber(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(CaseTopic("c1"))
	if n := bus.SubscriberCount(CaseTopic("c1")); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	sub.Cancel()
	if n := bus.SubscriberCount(CaseTopic("c1")); n != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", n)
	}

	// Cancel must be idempotent.
	sub.Cancel()

	if _, ok := <-sub.C; ok {
		t.Error("expected channel to be closed after cancel")
	}
}

func TestBus_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(PersonTopic("d1"))
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(context.Background(), Event{Type: TypePersonLoadChanged, Topic: PersonTopic("d1")})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe(CaseTopic("c1"))
	s2 := bus.Subscribe(CaseTopic("c1"))
	defer s1.Cancel()
	defer s2.Cancel()

	bus.Publish(context.Background(), Event{Type: TypeCaseTransferred, Topic: CaseTopic("c1")})

	for i, sub := range []*Subscription{s1, s2} {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}
