package consult

import (
	"context"

	"github.com/google/uuid"
)

type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	// GetByIDForUpdate locks the case row for the rest of the
	// surrounding transaction. Callers must be inside db.WithTx.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Case, error)
	Update(ctx context.Context, c *Case) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Case, int, error)

	// ActiveCount returns how many open legs personID currently holds.
	ActiveCount(ctx context.Context, personID uuid.UUID) (int, error)
	// ActiveCounts returns open-leg counts for every assignee at once.
	ActiveCounts(ctx context.Context) (map[uuid.UUID]int, error)
	// ActiveCasesFor lists the cases still counting against personID.
	ActiveCasesFor(ctx context.Context, personID uuid.UUID) ([]*Case, error)
}

// ListFilter narrows a case listing.
type ListFilter struct {
	Status     string
	AssigneeID *uuid.UUID
}
