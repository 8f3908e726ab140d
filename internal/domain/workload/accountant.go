package workload

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/events"
)

// Soft thresholds. At or above the threshold a person is flipped to
// busy so the resolver deprioritizes them; below it they flip back to
// available. These sit well under the hard ceilings on purpose: busy
// steers new work away early while the ceiling is the absolute stop.
const (
	DoctorSoftThreshold     = 7
	PharmacistSoftThreshold = 10
)

// SoftThreshold returns the busy threshold for a role.
func SoftThreshold(role string) int {
	if role == directory.RolePharmacist {
		return PharmacistSoftThreshold
	}
	return DoctorSoftThreshold
}

// CaseSource supplies authoritative active-leg counts.
type CaseSource interface {
	ActiveCounts(ctx context.Context) (map[uuid.UUID]int, error)
}

// Roster is the slice of the directory the accountant reads and writes.
type Roster interface {
	ListByRole(ctx context.Context, role string) ([]*directory.Person, error)
	SetCaseCount(ctx context.Context, id uuid.UUID, count int) error
}

// StatusSetter applies workload-derived availability flips. Satisfied
// by *directory.Service.
type StatusSetter interface {
	SetAvailabilityDerived(ctx context.Context, id uuid.UUID, status string) (*directory.Person, error)
}

// Config tunes the accountant's timing. Bursts of case events inside
// the debounce window coalesce into one recompute; the flip cooldown
// stops a person oscillating between available and busy when their
// count hovers at the threshold.
type Config struct {
	DebounceWindow time.Duration
	FlipCooldown   time.Duration
}

func DefaultConfig() Config {
	return Config{
		DebounceWindow: time.Second,
		FlipCooldown:   3 * time.Second,
	}
}

// Accountant keeps cached case counts and derived availability in step
// with the caseload. It listens to the case event stream and recomputes
// on a debounce.
type Accountant struct {
	cases    CaseSource
	roster   Roster
	statuses StatusSetter
	bus      *events.Bus
	cfg      Config
	logger   zerolog.Logger

	leases *leaseTable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewAccountant(cases CaseSource, roster Roster, statuses StatusSetter, bus *events.Bus, cfg Config, logger zerolog.Logger) *Accountant {
	ctx, cancel := context.WithCancel(context.Background())
	return &Accountant{
		cases:    cases,
		roster:   roster,
		statuses: statuses,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		leases:   newLeaseTable(cfg.FlipCooldown),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the case stream and begins recomputing in the
// background.
func (a *Accountant) Start() {
	sub := a.bus.Subscribe(events.TopicCases)
	a.wg.Add(1)
	go a.loop(sub)
}

// Stop shuts the background loop down and waits for it.
func (a *Accountant) Stop() {
	a.cancel()
	a.wg.Wait()
}

func (a *Accountant) loop(sub *events.Subscription) {
	defer a.wg.Done()
	defer sub.Cancel()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-a.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case _, ok := <-sub.C:
			if !ok {
				return
			}
			if timer == nil {
				timer = time.NewTimer(a.cfg.DebounceWindow)
				fire = timer.C
			}
			// Events during the window ride along with the pending
			// recompute.
		case <-fire:
			timer = nil
			fire = nil
			if err := a.Recompute(a.ctx); err != nil {
				a.logger.Error().Err(err).Msg("workload recompute failed")
			}
		}
	}
}

// Recompute refreshes every assignee's cached count and derived status
// from the authoritative caseload.
func (a *Accountant) Recompute(ctx context.Context) error {
	counts, err := a.cases.ActiveCounts(ctx)
	if err != nil {
		return err
	}
	for _, role := range []string{directory.RoleDoctor, directory.RolePharmacist} {
		if err := a.recomputeRole(ctx, role, counts); err != nil {
			return err
		}
	}
	return nil
}

func (a *Accountant) recomputeRole(ctx context.Context, role string, counts map[uuid.UUID]int) error {
	people, err := a.roster.ListByRole(ctx, role)
	if err != nil {
		return err
	}
	threshold := SoftThreshold(role)

	for _, p := range people {
		count := counts[p.ID]
		if count != p.CaseCount {
			if err := a.roster.SetCaseCount(ctx, p.ID, count); err != nil {
				return err
			}
			a.publishLoad(ctx, p, count)
		}
		if p.OutOfRotation() {
			continue
		}

		desired := directory.StatusAvailable
		if count >= threshold {
			desired = directory.StatusBusy
		}
		if desired == p.AvailabilityStatus {
			continue
		}
		if !a.leases.acquire(p.ID, time.Now()) {
			// Flip suppressed inside the cooldown; the next recompute
			// picks it up once the lease expires.
			continue
		}
		if _, err := a.statuses.SetAvailabilityDerived(ctx, p.ID, desired); err != nil {
			return err
		}
		a.logger.Info().Str("person_id", p.ID.String()).Str("role", role).
			Int("count", count).Str("status", desired).Msg("workload status flip")
	}
	return nil
}

func (a *Accountant) publishLoad(ctx context.Context, p *directory.Person, count int) {
	if a.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"person_id": p.ID.String(),
		"role":      p.Role,
		"count":     count,
	})
	for _, topic := range []string{events.TopicPeople, events.PersonTopic(p.ID.String())} {
		_ = a.bus.Publish(ctx, events.Event{
			Type:      events.TypePersonLoadChanged,
			Topic:     topic,
			Timestamp: time.Now().UTC(),
			Data:      payload,
		})
	}
}

// leaseTable rations status flips per person.
type leaseTable struct {
	mu       sync.Mutex
	cooldown time.Duration
	last     map[uuid.UUID]time.Time
}

func newLeaseTable(cooldown time.Duration) *leaseTable {
	return &leaseTable{cooldown: cooldown, last: make(map[uuid.UUID]time.Time)}
}

// acquire grants a flip lease unless one was granted inside the
// cooldown.
func (l *leaseTable) acquire(id uuid.UUID, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.last[id]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.last[id] = now
	return true
}
