package consult

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/db"
	"github.com/caseflow/caseflow/internal/platform/events"
	"github.com/caseflow/caseflow/internal/platform/retry"
)

// Resolver picks an assignee for a role. Satisfied by
// *assignment.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, role string, opts assignment.ResolveOptions) (*assignment.Resolution, error)
}

// BindingTracker follows live assignees. Satisfied by
// *assignment.Tracker.
type BindingTracker interface {
	Track(caseID uuid.UUID, role string, personID uuid.UUID)
	Untrack(caseID uuid.UUID, role string)
}

type Service struct {
	cases    CaseRepository
	resolver Resolver
	tracker  BindingTracker
	bus      events.Publisher
	pool     *pgxpool.Pool
	retry    retry.Config
	logger   zerolog.Logger
}

func NewService(cases CaseRepository, resolver Resolver, tracker BindingTracker, bus events.Publisher, pool *pgxpool.Pool, logger zerolog.Logger) *Service {
	return &Service{
		cases:    cases,
		resolver: resolver,
		tracker:  tracker,
		bus:      bus,
		pool:     pool,
		retry:    retry.DefaultConfig(),
		logger:   logger,
	}
}

// CreateCase resolves a doctor and a pharmacist and opens the case with
// both legs bound. Both resolutions must succeed; a case is never
// created half-assigned.
func (s *Service) CreateCase(ctx context.Context, c *Case, createdBy string) error {
	if c.PatientName == "" {
		return fmt.Errorf("patient_name is required")
	}

	doctor, err := s.resolver.Resolve(ctx, directory.RoleDoctor, assignment.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("resolve doctor: %w", err)
	}
	pharmacist, err := s.resolver.Resolve(ctx, directory.RolePharmacist, assignment.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("resolve pharmacist: %w", err)
	}

	c.DoctorID = &doctor.PersonID
	c.DoctorName = doctor.PersonName
	c.DoctorType = doctor.RankName
	c.PharmacistID = &pharmacist.PersonID
	c.PharmacistName = pharmacist.PersonName
	c.PharmacistType = pharmacist.RankName
	c.CreatedBy = createdBy
	if err := s.cases.Create(ctx, c); err != nil {
		return err
	}

	if s.tracker != nil {
		s.tracker.Track(c.ID, directory.RoleDoctor, doctor.PersonID)
		s.tracker.Track(c.ID, directory.RolePharmacist, pharmacist.PersonID)
	}
	s.publish(ctx, events.TypeCaseCreated, c, map[string]string{
		"doctor_id":     doctor.PersonID.String(),
		"doctor_rank":   doctor.RankName,
		"pharmacist_id": pharmacist.PersonID.String(),
	})
	return nil
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.cases.GetByID(ctx, id)
}

func (s *Service) ListCases(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	return s.cases.List(ctx, f, limit, offset)
}

// CompleteDoctorLeg marks the doctor's work done. Transient storage
// failures are retried before the error surfaces.
func (s *Service) CompleteDoctorLeg(ctx context.Context, id uuid.UUID, actorID string) (*Case, error) {
	return s.completeLeg(ctx, id, actorID, directory.RoleDoctor)
}

// CompletePharmacistLeg marks the pharmacist's work done.
func (s *Service) CompletePharmacistLeg(ctx context.Context, id uuid.UUID, actorID string) (*Case, error) {
	return s.completeLeg(ctx, id, actorID, directory.RolePharmacist)
}

func (s *Service) completeLeg(ctx context.Context, id uuid.UUID, actorID, role string) (*Case, error) {
	var result *Case
	err := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.inTx(ctx, func(ctx context.Context) error {
			c, err := s.cases.GetByIDForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if c.Terminal() {
				return ErrTerminal
			}
			now := time.Now().UTC()
			switch role {
			case directory.RoleDoctor:
				if c.DoctorID == nil || c.DoctorID.String() != actorID {
					return fmt.Errorf("only the assigned doctor can complete this leg")
				}
				if c.DoctorCompleted {
					// Redelivered completion; nothing left to write.
					result = c
					return nil
				}
				c.DoctorCompleted = true
				c.DoctorCompletedAt = &now
			case directory.RolePharmacist:
				if c.PharmacistID == nil || c.PharmacistID.String() != actorID {
					return fmt.Errorf("only the assigned pharmacist can complete this leg")
				}
				if c.PharmacistCompleted {
					result = c
					return nil
				}
				c.PharmacistCompleted = true
				c.PharmacistCompletedAt = &now
			}
			if c.DoctorCompleted && c.PharmacistCompleted {
				c.CompletedAt = &now
			}
			if err := s.cases.Update(ctx, c); err != nil {
				return retry.MarkTransient(err)
			}
			result = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.tracker != nil {
		s.tracker.Untrack(id, role)
	}
	if result.Status() == StatusCompleted {
		s.publish(ctx, events.TypeCaseCompleted, result, nil)
	} else {
		s.publish(ctx, events.TypeCaseLegCompleted, result, map[string]string{"completed_leg": role})
	}
	return result, nil
}

// MarkIncomplete abandons a case. The state is terminal; neither leg
// can complete afterwards and both drop out of workload immediately.
func (s *Service) MarkIncomplete(ctx context.Context, id uuid.UUID, reason string) (*Case, error) {
	var result *Case
	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if c.Terminal() {
			return ErrTerminal
		}
		c.Incomplete = true
		if reason != "" {
			c.IncompleteReason = &reason
		}
		if err := s.cases.Update(ctx, c); err != nil {
			return err
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.tracker != nil {
		s.tracker.Untrack(id, directory.RoleDoctor)
		s.tracker.Untrack(id, directory.RolePharmacist)
	}
	s.publish(ctx, events.TypeCaseCompleted, result, map[string]string{"outcome": result.Status()})
	return result, nil
}

// Rebind moves one leg of a live case to a new assignee. Wired into the
// tracker so drop-outs are repaired automatically.
func (s *Service) Rebind(ctx context.Context, caseID uuid.UUID, role string, res *assignment.Resolution) error {
	err := s.inTx(ctx, func(ctx context.Context) error {
		c, err := s.cases.GetByIDForUpdate(ctx, caseID)
		if err != nil {
			return err
		}
		if c.Terminal() {
			return ErrTerminal
		}
		switch role {
		case directory.RoleDoctor:
			c.DoctorID = &res.PersonID
			c.DoctorName = res.PersonName
			c.DoctorType = res.RankName
		case directory.RolePharmacist:
			c.PharmacistID = &res.PersonID
			c.PharmacistName = res.PersonName
			c.PharmacistType = res.RankName
		default:
			return fmt.Errorf("role %s has no case leg", role)
		}
		return s.cases.Update(ctx, c)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("case_id", caseID.String()).Str("role", role).
		Str("person_id", res.PersonID.String()).Msg("case leg rebound")
	c, err := s.cases.GetByID(ctx, caseID)
	if err == nil {
		s.publish(ctx, events.TypeCaseAssigned, c, map[string]string{
			"role": role, "person_id": res.PersonID.String(),
		})
	}
	return nil
}

// ResumeTracking re-arms the availability tracker for every open leg,
// typically once at startup.
func (s *Service) ResumeTracking(ctx context.Context) error {
	open, _, err := s.cases.List(ctx, ListFilter{Status: StatusOpen}, 10000, 0)
	if err != nil {
		return err
	}
	for _, c := range open {
		if c.DoctorID != nil && !c.DoctorCompleted {
			s.tracker.Track(c.ID, directory.RoleDoctor, *c.DoctorID)
		}
		if c.PharmacistID != nil && !c.PharmacistCompleted {
			s.tracker.Track(c.ID, directory.RolePharmacist, *c.PharmacistID)
		}
	}
	s.logger.Info().Int("cases", len(open)).Msg("availability tracking resumed")
	return nil
}

// inTx wraps fn in a storage transaction when a pool is attached. A
// nil pool (repositories that are transactional on their own) runs fn
// directly.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.pool == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.pool, fn)
}

func (s *Service) publish(ctx context.Context, eventType string, c *Case, extra map[string]string) {
	if s.bus == nil {
		return
	}
	body := map[string]string{
		"case_id": c.ID.String(),
		"status":  c.Status(),
	}
	for k, v := range extra {
		body[k] = v
	}
	payload, _ := json.Marshal(body)
	ev := events.Event{
		Type:      eventType,
		Topic:     events.TopicCases,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Msg("failed to publish case event")
	}
	ev.Topic = events.CaseTopic(c.ID.String())
	_ = s.bus.Publish(ctx, ev)
}
