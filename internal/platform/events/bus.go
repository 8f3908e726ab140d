// Package events provides the live-update channel between the stores and
// their watchers. Services publish change events onto topics; subscribers
// consume them from channels and must cancel their subscription when done.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types emitted by the domain services.
const (
	TypePersonStatusChanged = "person.status_changed"
	TypePersonLoadChanged   = "person.load_changed"
	TypeCaseCreated         = "case.created"
	TypeCaseAssigned        = "case.assigned"
	TypeCaseTransferred     = "case.transferred"
	TypeCaseLegCompleted    = "case.leg_completed"
	TypeCaseCompleted       = "case.completed"
)

// Event is a single change notification.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Broadcast topics. Case lifecycle events go to TopicCases and person
// status and load events to TopicPeople, for listeners that care about
// the whole caseload or roster rather than one case or person.
const (
	TopicCases  = "cases"
	TopicPeople = "people"
)

// PersonTopic names the per-person topic carrying status and load changes.
func PersonTopic(id string) string { return "person." + id }

// CaseTopic names the per-case topic carrying assignment changes.
func CaseTopic(id string) string { return "case." + id }

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscription is a live feed for one topic. Cancel releases the feed; it is
// safe to call more than once and must be called on every exit path so no
// listener leaks.
type Subscription struct {
	C      <-chan Event
	cancel func()
	once   sync.Once
}

// Cancel releases the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// Bus is an in-process topic fanout. Delivery is non-blocking: a subscriber
// that falls behind loses events rather than stalling publishers, so
// handlers must treat events as hints and re-read authoritative state.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[int]chan Event
	nextID int
	buffer int
}

// NewBus creates a Bus with a per-subscriber buffer of 16 events.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string]map[int]chan Event),
		buffer: 16,
	}
}

// Subscribe registers a feed for the topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.topics[topic][id] = ch
	b.mu.Unlock()

	return &Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			if subs, ok := b.topics[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.topics, topic)
				}
			}
			b.mu.Unlock()
			close(ch)
		},
	}
}

// Publish delivers the event to every subscriber of its topic.
func (b *Bus) Publish(_ context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.topics[event.Topic] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full; drop rather than block.
		}
	}
	return nil
}

// SubscriberCount returns the number of feeds on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
