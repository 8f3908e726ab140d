package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/platform/events"
)

type Service struct {
	people PersonRepository
	bus    events.Publisher
	logger zerolog.Logger
}

func NewService(people PersonRepository, bus events.Publisher, logger zerolog.Logger) *Service {
	return &Service{people: people, bus: bus, logger: logger}
}

func (s *Service) CreatePerson(ctx context.Context, p *Person) error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Email == "" {
		return fmt.Errorf("email is required")
	}
	if !ValidRole(p.Role) {
		return fmt.Errorf("invalid role: %s", p.Role)
	}
	if p.AvailabilityStatus != "" && !ValidStatus(p.AvailabilityStatus) {
		return fmt.Errorf("invalid availability status: %s", p.AvailabilityStatus)
	}
	return s.people.Create(ctx, p)
}

func (s *Service) GetPerson(ctx context.Context, id uuid.UUID) (*Person, error) {
	return s.people.GetByID(ctx, id)
}

func (s *Service) UpdatePerson(ctx context.Context, p *Person) error {
	if p.Role != "" && !ValidRole(p.Role) {
		return fmt.Errorf("invalid role: %s", p.Role)
	}
	return s.people.Update(ctx, p)
}

func (s *Service) DeactivatePerson(ctx context.Context, id uuid.UUID) error {
	return s.people.Deactivate(ctx, id)
}

func (s *Service) ListPeople(ctx context.Context, role, status string, limit, offset int) ([]*Person, int, error) {
	if role != "" && !ValidRole(role) {
		return nil, 0, fmt.Errorf("invalid role: %s", role)
	}
	if status != "" && !ValidStatus(status) {
		return nil, 0, fmt.Errorf("invalid availability status: %s", status)
	}
	return s.people.List(ctx, role, status, limit, offset)
}

// SetAvailability applies a human-initiated status change. "busy" cannot
// be set this way; it is derived from workload and only the accountant
// flips people in and out of it.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, status, changedBy, reason string) (*Person, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("invalid availability status: %s", status)
	}
	if status == StatusBusy {
		return nil, fmt.Errorf("busy is derived from workload and cannot be set directly")
	}
	return s.applyStatus(ctx, id, status, changedBy, reason)
}

// SetAvailabilityDerived applies a workload-derived status change
// (available or busy). It refuses to override a human-set unavailable
// or on-break status.
func (s *Service) SetAvailabilityDerived(ctx context.Context, id uuid.UUID, status string) (*Person, error) {
	if status != StatusAvailable && status != StatusBusy {
		return nil, fmt.Errorf("derived status must be available or busy, got %s", status)
	}
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.OutOfRotation() {
		return p, nil
	}
	if p.AvailabilityStatus == status {
		return p, nil
	}
	return s.applyStatus(ctx, id, status, "system", "workload threshold")
}

func (s *Service) applyStatus(ctx context.Context, id uuid.UUID, status, changedBy, reason string) (*Person, error) {
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.AppendHistory(AvailabilityChange{
		Status:    status,
		ChangedBy: changedBy,
		Reason:    reason,
		At:        time.Now().UTC(),
	})
	if err := s.people.UpdateAvailability(ctx, id, status, p.AvailabilityHistory); err != nil {
		return nil, err
	}
	previous := p.AvailabilityStatus
	p.AvailabilityStatus = status

	s.publishStatusChange(ctx, p, previous)
	return p, nil
}

func (s *Service) publishStatusChange(ctx context.Context, p *Person, previous string) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"person_id": p.ID.String(),
		"role":      p.Role,
		"previous":  previous,
		"status":    p.AvailabilityStatus,
	})
	for _, topic := range []string{events.TopicPeople, events.PersonTopic(p.ID.String())} {
		err := s.bus.Publish(ctx, events.Event{
			Type:      events.TypePersonStatusChanged,
			Topic:     topic,
			Timestamp: time.Now().UTC(),
			Data:      payload,
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("person_id", p.ID.String()).
				Msg("failed to publish availability change")
		}
	}
}
