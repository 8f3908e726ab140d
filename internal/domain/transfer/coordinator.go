package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/consult"
	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/events"
)

// PersonSource is the slice of the directory the coordinator needs.
type PersonSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*directory.Person, error)
}

// BindingTracker re-arms availability tracking after a handover.
type BindingTracker interface {
	Track(caseID uuid.UUID, role string, personID uuid.UUID)
}

// Coordinator moves live cases between people. Every move is one
// transaction: assignee swap, transfer counter, and history event
// commit together or not at all.
type Coordinator struct {
	cases     consult.CaseRepository
	people    PersonSource
	transfers EventRepository
	tracker   BindingTracker
	bus       events.Publisher
	pool      *pgxpool.Pool
	logger    zerolog.Logger

	// txRunner overrides the pool-backed transaction wrapper. Tests use
	// it to observe the transaction boundary.
	txRunner func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewCoordinator(cases consult.CaseRepository, people PersonSource, transfers EventRepository, tracker BindingTracker, bus events.Publisher, pool *pgxpool.Pool, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		cases:     cases,
		people:    people,
		transfers: transfers,
		tracker:   tracker,
		bus:       bus,
		pool:      pool,
		logger:    logger,
	}
}

func (co *Coordinator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if co.txRunner != nil {
		return co.txRunner(ctx, fn)
	}
	if co.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, co.pool, fn)
}

func validateRole(role string) error {
	if role != directory.RoleDoctor && role != directory.RolePharmacist {
		return fmt.Errorf("role %s has no case leg", role)
	}
	return nil
}

// Transfer hands one case leg from one person to another.
func (co *Coordinator) Transfer(ctx context.Context, req Request, initiatedBy string) (*Event, error) {
	if err := validateRole(req.Role); err != nil {
		return nil, err
	}
	if req.FromPersonID == req.ToPersonID {
		return nil, fmt.Errorf("source and target are the same person")
	}

	var recorded *Event
	err := co.inTx(ctx, func(ctx context.Context) error {
		target, err := co.checkTarget(ctx, req.Role, req.ToPersonID, 1)
		if err != nil {
			return err
		}
		c, err := co.cases.GetByIDForUpdate(ctx, req.CaseID)
		if err != nil {
			return err
		}
		ev, err := co.moveLeg(ctx, c, req.Role, req.FromPersonID, target, req.Reason, initiatedBy, false)
		if err != nil {
			return err
		}
		recorded = ev
		return nil
	})
	if err != nil {
		return nil, err
	}

	co.afterTransfer(ctx, recorded)
	return recorded, nil
}

// BulkTransfer hands a batch of case legs over in one all-or-nothing
// operation. If the target lacks capacity for the whole batch, nothing
// moves and the error reports the deficit.
func (co *Coordinator) BulkTransfer(ctx context.Context, req BulkRequest, initiatedBy string) ([]*Event, error) {
	if err := validateRole(req.Role); err != nil {
		return nil, err
	}
	if req.FromPersonID == req.ToPersonID {
		return nil, fmt.Errorf("source and target are the same person")
	}

	var recorded []*Event
	err := co.inTx(ctx, func(ctx context.Context) error {
		caseIDs := req.CaseIDs
		if len(caseIDs) == 0 {
			open, err := co.cases.ActiveCasesFor(ctx, req.FromPersonID)
			if err != nil {
				return err
			}
			for _, c := range open {
				if legHolder(c, req.Role) != nil && *legHolder(c, req.Role) == req.FromPersonID && !legCompleted(c, req.Role) {
					caseIDs = append(caseIDs, c.ID)
				}
			}
		}
		if len(caseIDs) == 0 {
			return fmt.Errorf("no cases to transfer")
		}

		target, err := co.checkTarget(ctx, req.Role, req.ToPersonID, len(caseIDs))
		if err != nil {
			return err
		}

		// Lock in a stable order so concurrent bulk transfers cannot
		// deadlock each other.
		sort.Slice(caseIDs, func(i, j int) bool {
			return caseIDs[i].String() < caseIDs[j].String()
		})
		for _, id := range caseIDs {
			c, err := co.cases.GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			ev, err := co.moveLeg(ctx, c, req.Role, req.FromPersonID, target, req.Reason, initiatedBy, true)
			if err != nil {
				return err
			}
			recorded = append(recorded, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range recorded {
		co.afterTransfer(ctx, ev)
	}
	co.logger.Info().Int("cases", len(recorded)).
		Str("from", req.FromPersonID.String()).Str("to", req.ToPersonID.String()).
		Str("role", req.Role).Msg("bulk transfer committed")
	return recorded, nil
}

func (co *Coordinator) History(ctx context.Context, caseID uuid.UUID) ([]*Event, error) {
	return co.transfers.ListByCase(ctx, caseID)
}

func (co *Coordinator) PersonHistory(ctx context.Context, personID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	return co.transfers.ListByPerson(ctx, personID, limit, offset)
}

// checkTarget verifies the receiving person can absorb n more cases
// under the transfer ceiling.
func (co *Coordinator) checkTarget(ctx context.Context, role string, toID uuid.UUID, n int) (*directory.Person, error) {
	target, err := co.people.GetByID(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("transfer target: %w", err)
	}
	if target.Role != role {
		return nil, fmt.Errorf("transfer target %s is a %s, not a %s", target.Name, target.Role, role)
	}
	if target.OutOfRotation() {
		return nil, fmt.Errorf("transfer target %s is out of rotation", target.Name)
	}
	count, err := co.cases.ActiveCount(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	ceiling := assignment.TransferCeiling(role)
	if count+n > ceiling {
		return nil, &CapacityExceededError{
			PersonName: target.Name,
			Role:       role,
			Ceiling:    ceiling,
			Current:    count,
			Requested:  n,
		}
	}
	return target, nil
}

// moveLeg swaps one locked case's assignee and appends the history
// event. The caller holds the row lock. The leg keeps the target's
// name and records how it changed hands.
func (co *Coordinator) moveLeg(ctx context.Context, c *consult.Case, role string, fromID uuid.UUID, target *directory.Person, reason, initiatedBy string, bulk bool) (*Event, error) {
	if c.Terminal() {
		return nil, consult.ErrTerminal
	}
	holder := legHolder(c, role)
	if holder == nil || *holder != fromID || legCompleted(c, role) {
		return nil, fmt.Errorf("case %s: %w", c.ID, ErrStaleReference)
	}

	assigneeType := consult.AssigneeTransferred
	if bulk {
		assigneeType = consult.AssigneeBulkTransferred
	}
	switch role {
	case directory.RoleDoctor:
		c.DoctorID = &target.ID
		c.DoctorName = target.Name
		c.DoctorType = assigneeType
	case directory.RolePharmacist:
		c.PharmacistID = &target.ID
		c.PharmacistName = target.Name
		c.PharmacistType = assigneeType
	}
	c.TransferCount++
	if err := co.cases.Update(ctx, c); err != nil {
		return nil, err
	}

	ev := &Event{
		CaseID:       c.ID,
		Role:         role,
		FromPersonID: fromID,
		ToPersonID:   target.ID,
		ToPersonName: target.Name,
		Bulk:         bulk,
		InitiatedBy:  initiatedBy,
		CreatedAt:    time.Now().UTC(),
	}
	if reason != "" {
		ev.Reason = &reason
	}
	if err := co.transfers.Record(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (co *Coordinator) afterTransfer(ctx context.Context, ev *Event) {
	if co.tracker != nil {
		co.tracker.Track(ev.CaseID, ev.Role, ev.ToPersonID)
	}
	if co.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"case_id": ev.CaseID.String(),
		"role":    ev.Role,
		"from":    ev.FromPersonID.String(),
		"to":      ev.ToPersonID.String(),
	})
	e := events.Event{
		Type:      events.TypeCaseTransferred,
		Topic:     events.TopicCases,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	_ = co.bus.Publish(ctx, e)
	e.Topic = events.CaseTopic(ev.CaseID.String())
	_ = co.bus.Publish(ctx, e)
}

func legHolder(c *consult.Case, role string) *uuid.UUID {
	if role == directory.RoleDoctor {
		return c.DoctorID
	}
	return c.PharmacistID
}

func legCompleted(c *consult.Case, role string) bool {
	if role == directory.RoleDoctor {
		return c.DoctorCompleted
	}
	return c.PharmacistCompleted
}
