package transfer

import (
	"context"

	"github.com/google/uuid"
)

type EventRepository interface {
	// Record appends one transfer event. Events are never updated or
	// deleted.
	Record(ctx context.Context, ev *Event) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*Event, error)
	ListByPerson(ctx context.Context, personID uuid.UUID, limit, offset int) ([]*Event, int, error)
	CountByCase(ctx context.Context, caseID uuid.UUID) (int, error)
}
