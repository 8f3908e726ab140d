package assignment

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/events"
)

// RebindFunc moves a live case binding to a new assignee. The consult
// service supplies this so the tracker never touches case storage
// directly.
type RebindFunc func(ctx context.Context, caseID uuid.UUID, role string, res *Resolution) error

type watchKey struct {
	caseID uuid.UUID
	role   string
}

type watch struct {
	personID uuid.UUID
	sub      *events.Subscription
	stale    bool
}

// Tracker keeps live case bindings pointed at people who can still act
// on them. It subscribes to each assignee's availability feed; when an
// assignee drops out of rotation, or their active count climbs to the
// assignment ceiling, it re-resolves and rebinds. If re-resolution
// fails the binding is kept as-is and marked stale rather than dropped.
type Tracker struct {
	bus      *events.Bus
	resolver *Resolver
	rebind   RebindFunc
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	watches map[watchKey]*watch
	wg      sync.WaitGroup
}

func NewTracker(bus *events.Bus, resolver *Resolver, rebind RebindFunc, logger zerolog.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		bus:      bus,
		resolver: resolver,
		rebind:   rebind,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		watches:  make(map[watchKey]*watch),
	}
}

// Track starts watching the assignee of a live case. Calling Track
// again for the same case and role replaces the previous watch.
func (t *Tracker) Track(caseID uuid.UUID, role string, personID uuid.UUID) {
	key := watchKey{caseID: caseID, role: role}
	sub := t.bus.Subscribe(events.PersonTopic(personID.String()))

	t.mu.Lock()
	if old, ok := t.watches[key]; ok {
		old.sub.Cancel()
	}
	t.watches[key] = &watch{personID: personID, sub: sub}
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(key, sub)
}

// Untrack stops watching a case, typically on completion.
func (t *Tracker) Untrack(caseID uuid.UUID, role string) {
	key := watchKey{caseID: caseID, role: role}
	t.mu.Lock()
	if w, ok := t.watches[key]; ok {
		w.sub.Cancel()
		delete(t.watches, key)
	}
	t.mu.Unlock()
}

// Stale reports whether a watched binding points at someone out of
// rotation because no replacement could be found.
func (t *Tracker) Stale(caseID uuid.UUID, role string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.watches[watchKey{caseID: caseID, role: role}]; ok {
		return w.stale
	}
	return false
}

// Stop cancels all watches and waits for their goroutines to exit.
func (t *Tracker) Stop() {
	t.cancel()
	t.mu.Lock()
	for _, w := range t.watches {
		w.sub.Cancel()
	}
	t.watches = make(map[watchKey]*watch)
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Tracker) run(key watchKey, sub *events.Subscription) {
	defer t.wg.Done()
	for {
		select {
		case <-t.ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if !unassignable(ev, key.role) {
				continue
			}
			if t.reassign(key) {
				// The watch now follows a new person through a new
				// subscription and goroutine.
				return
			}
		}
	}
}

// unassignable reports whether an event on the assignee's feed means
// they can no longer take this case: a switch to a human-set absence,
// or an active count that reached the assignment ceiling.
func unassignable(ev events.Event, role string) bool {
	switch ev.Type {
	case events.TypePersonStatusChanged:
		var payload struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return false
		}
		return payload.Status == directory.StatusUnavailable || payload.Status == directory.StatusOnBreak
	case events.TypePersonLoadChanged:
		var payload struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			return false
		}
		return payload.Count >= AssignmentCeiling(role)
	}
	return false
}

// reassign re-resolves the role and rebinds the case. Returns true when
// the binding moved and this goroutine's subscription was replaced.
func (t *Tracker) reassign(key watchKey) bool {
	log := t.logger.With().
		Str("case_id", key.caseID.String()).
		Str("role", key.role).Logger()

	res, err := t.resolver.Resolve(t.ctx, key.role, ResolveOptions{})
	if err != nil {
		log.Warn().Err(err).Msg("no replacement assignee, keeping stale binding")
		t.markStale(key)
		return false
	}
	if err := t.rebind(t.ctx, key.caseID, key.role, res); err != nil {
		log.Error().Err(err).Msg("rebind failed, keeping stale binding")
		t.markStale(key)
		return false
	}

	log.Info().Str("person_id", res.PersonID.String()).
		Str("rank", res.RankName).Msg("case rebound to new assignee")
	t.Track(key.caseID, key.role, res.PersonID)
	return true
}

func (t *Tracker) markStale(key watchKey) {
	t.mu.Lock()
	if w, ok := t.watches[key]; ok {
		w.stale = true
	}
	t.mu.Unlock()
}
