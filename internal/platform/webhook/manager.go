// Package webhook delivers case and availability events to external
// HTTP endpoints, with HMAC-SHA256 signing, a retry schedule, and a
// delivery log.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/events"
)

// Endpoint is a registered webhook destination. Events lists the event
// types it wants; empty means everything.
type Endpoint struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (e *Endpoint) wants(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, t := range e.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// Delivery records one delivery attempt.
type Delivery struct {
	ID         string    `json:"id"`
	EndpointID string    `json:"endpoint_id"`
	EventType  string    `json:"event_type"`
	StatusCode int       `json:"status_code"`
	Attempt    int       `json:"attempt"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence interface for endpoints and their delivery
// log.
type Store interface {
	CreateEndpoint(ctx context.Context, ep *Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	ListEndpoints(ctx context.Context) ([]*Endpoint, error)
	DeleteEndpoint(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, d *Delivery) error
	ListDeliveries(ctx context.Context, endpointID string, limit int) ([]*Delivery, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu         sync.RWMutex
	endpoints  map[string]*Endpoint
	deliveries map[string][]*Delivery
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		endpoints:  make(map[string]*Endpoint),
		deliveries: make(map[string][]*Delivery),
	}
}

func (s *MemoryStore) CreateEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[ep.ID] = ep
	return nil
}

func (s *MemoryStore) GetEndpoint(_ context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.endpoints[id]
	if !ok {
		return nil, fmt.Errorf("endpoint %s not found", id)
	}
	return ep, nil
}

func (s *MemoryStore) ListEndpoints(_ context.Context) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Endpoint, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, ep)
	}
	return out, nil
}

func (s *MemoryStore) DeleteEndpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.endpoints[id]; !ok {
		return fmt.Errorf("endpoint %s not found", id)
	}
	delete(s.endpoints, id)
	delete(s.deliveries, id)
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries[d.EndpointID] = append(s.deliveries[d.EndpointID], d)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, endpointID string, limit int) ([]*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.deliveries[endpointID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*Delivery, len(all))
	copy(out, all)
	return out, nil
}

// SignPayload computes the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// GenerateSecret returns a random endpoint secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Manager fans bus events out to registered endpoints.
type Manager struct {
	store       Store
	client      *resty.Client
	bus         *events.Bus
	logger      zerolog.Logger
	retryDelays []time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, bus *events.Bus, logger zerolog.Logger) *Manager {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "caseflow-webhook/1.0")

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		client:      client,
		bus:         bus,
		logger:      logger,
		retryDelays: []time.Duration{time.Second, 30 * time.Second, 5 * time.Minute},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register validates and stores a new endpoint, generating a secret if
// none was supplied.
func (m *Manager) Register(ctx context.Context, ep *Endpoint) error {
	u, err := url.Parse(ep.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid endpoint url: %s", ep.URL)
	}
	if ep.Secret == "" {
		secret, err := GenerateSecret()
		if err != nil {
			return err
		}
		ep.Secret = secret
	}
	ep.ID = uuid.New().String()
	ep.Active = true
	ep.CreatedAt = time.Now().UTC()
	return m.store.CreateEndpoint(ctx, ep)
}

// Start consumes the broadcast event streams and dispatches deliveries.
func (m *Manager) Start() {
	for _, topic := range []string{events.TopicCases, events.TopicPeople} {
		sub := m.bus.Subscribe(topic)
		m.wg.Add(1)
		go func(sub *events.Subscription) {
			defer m.wg.Done()
			defer sub.Cancel()
			for {
				select {
				case <-m.ctx.Done():
					return
				case ev, ok := <-sub.C:
					if !ok {
						return
					}
					m.Dispatch(m.ctx, ev)
				}
			}
		}(sub)
	}
}

// Stop halts dispatching. In-flight retries are abandoned.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Dispatch delivers one event to every endpoint that wants it.
func (m *Manager) Dispatch(ctx context.Context, ev events.Event) {
	endpoints, err := m.store.ListEndpoints(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("webhook endpoint listing failed")
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	for _, ep := range endpoints {
		if !ep.Active || !ep.wants(ev.Type) {
			continue
		}
		m.wg.Add(1)
		go func(ep *Endpoint) {
			defer m.wg.Done()
			m.deliver(ctx, ep, ev.Type, payload)
		}(ep)
	}
}

// deliver posts the payload, walking the retry schedule on failure.
func (m *Manager) deliver(ctx context.Context, ep *Endpoint, eventType string, payload []byte) {
	signature := SignPayload(payload, ep.Secret)

	for attempt := 1; attempt <= len(m.retryDelays)+1; attempt++ {
		d := &Delivery{
			ID:         uuid.New().String(),
			EndpointID: ep.ID,
			EventType:  eventType,
			Attempt:    attempt,
			CreatedAt:  time.Now().UTC(),
		}

		resp, err := m.client.R().
			SetContext(ctx).
			SetHeader("X-Webhook-Signature", signature).
			SetHeader("X-Webhook-Event", eventType).
			SetBody(payload).
			Post(ep.URL)
		if err != nil {
			d.Error = err.Error()
		} else {
			d.StatusCode = resp.StatusCode()
			d.Success = resp.StatusCode() >= 200 && resp.StatusCode() < 300
		}
		_ = m.store.RecordDelivery(ctx, d)

		if d.Success {
			return
		}
		if attempt > len(m.retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryDelays[attempt-1]):
		}
	}
	m.logger.Warn().Str("endpoint_id", ep.ID).Str("url", ep.URL).
		Str("event", eventType).Msg("webhook delivery exhausted retries")
}
