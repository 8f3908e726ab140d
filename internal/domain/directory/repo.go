package directory

import (
	"context"

	"github.com/google/uuid"
)

type PersonRepository interface {
	Create(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*Person, error)
	GetByEmail(ctx context.Context, email string) (*Person, error)
	Update(ctx context.Context, p *Person) error
	Deactivate(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, role, status string, limit, offset int) ([]*Person, int, error)
	ListByRole(ctx context.Context, role string) ([]*Person, error)
	// UpdateAvailability persists a status change together with the
	// refreshed audit trail in one statement.
	UpdateAvailability(ctx context.Context, id uuid.UUID, status string, history []AvailabilityChange) error
	// SetCaseCount refreshes the cached active-case counter.
	SetCaseCount(ctx context.Context, id uuid.UUID, count int) error
}
