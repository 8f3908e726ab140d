package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/caseflow/caseflow/internal/platform/events"
)

func waitForMessage(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad message: %v", err)
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return events.Event{}
	}
}

func TestClientReceivesSubscribedTopics(t *testing.T) {
	bus := events.NewBus()
	c := newClient(bus)
	defer c.close()

	c.handleMessage(ClientMessage{Action: "subscribe", Topics: []string{events.TopicCases}})

	err := bus.Publish(context.Background(), events.Event{
		Type: events.TypeCaseCreated, Topic: events.TopicCases,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := waitForMessage(t, c)
	if ev.Type != events.TypeCaseCreated {
		t.Errorf("unexpected type %q", ev.Type)
	}
}

func TestClientDoesNotReceiveOtherTopics(t *testing.T) {
	bus := events.NewBus()
	c := newClient(bus)
	defer c.close()

	c.Subscribe([]string{events.PersonTopic("a")})
	_ = bus.Publish(context.Background(), events.Event{
		Type: events.TypePersonStatusChanged, Topic: events.PersonTopic("b"),
	})

	select {
	case data := <-c.send:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus()
	c := newClient(bus)
	defer c.close()

	topic := events.PersonTopic("a")
	c.Subscribe([]string{topic})
	c.handleMessage(ClientMessage{Action: "unsubscribe", Topics: []string{topic}})

	if got := len(c.Topics()); got != 0 {
		t.Fatalf("expected no topics, got %d", got)
	}
	_ = bus.Publish(context.Background(), events.Event{
		Type: events.TypePersonStatusChanged, Topic: topic,
	})
	select {
	case data := <-c.send:
		t.Fatalf("unexpected message after unsubscribe: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDuplicateSubscribeIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	c := newClient(bus)
	defer c.close()

	topic := events.PersonTopic("a")
	c.Subscribe([]string{topic})
	c.Subscribe([]string{topic})
	if got := len(c.Topics()); got != 1 {
		t.Errorf("expected 1 topic, got %d", got)
	}
	if got := bus.SubscriberCount(topic); got != 1 {
		t.Errorf("expected 1 bus subscriber, got %d", got)
	}
}

func TestCloseReleasesBusSubscriptions(t *testing.T) {
	bus := events.NewBus()
	c := newClient(bus)
	topic := events.TopicCases
	c.Subscribe([]string{topic})

	c.close()
	if got := bus.SubscriberCount(topic); got != 0 {
		t.Errorf("expected 0 bus subscribers after close, got %d", got)
	}
}
