package assignment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/directory"
)

// PersonSource is the slice of the directory the resolver needs.
type PersonSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*directory.Person, error)
	ListByRole(ctx context.Context, role string) ([]*directory.Person, error)
}

// CaseCounter reports a person's authoritative active-case count. The
// consult package provides the production implementation; the resolver
// deliberately does not depend on it.
type CaseCounter interface {
	ActiveCount(ctx context.Context, personID uuid.UUID) (int, error)
}

// ResolveOptions tune a single resolver run.
type ResolveOptions struct {
	// ForTransfer applies the transfer ceiling instead of the
	// assignment ceiling.
	ForTransfer bool
}

// Resolver picks an assignee for a role: a ranked walk over the active
// hierarchy first, then a least-loaded fallback over the rest of the
// roster when the config allows it. A busy candidate with headroom
// under the ceiling is still a valid pick on either path; only
// unavailable and on_break take someone out of rotation.
type Resolver struct {
	hierarchy HierarchyRepository
	people    PersonSource
	counts    CaseCounter
	logger    zerolog.Logger
}

func NewResolver(hierarchy HierarchyRepository, people PersonSource, counts CaseCounter, logger zerolog.Logger) *Resolver {
	return &Resolver{hierarchy: hierarchy, people: people, counts: counts, logger: logger}
}

func (r *Resolver) ceiling(role string, opts ResolveOptions) int {
	if opts.ForTransfer {
		return TransferCeiling(role)
	}
	return AssignmentCeiling(role)
}

// Resolve returns the person who should receive the next case for role.
func (r *Resolver) Resolve(ctx context.Context, role string, opts ResolveOptions) (*Resolution, error) {
	ceiling := r.ceiling(role, opts)

	cfg, err := r.hierarchy.GetActiveConfigByRole(ctx, role)
	switch {
	case errors.Is(err, ErrConfigNotFound):
		// No hierarchy configured for this role. Fall straight through
		// to least-loaded so a bare roster still gets assignments.
		cfg = nil
	case err != nil:
		return nil, err
	}

	ranked := make(map[uuid.UUID]bool)
	if cfg != nil {
		for _, m := range cfg.Members {
			ranked[m.PersonID] = true
		}
		if res, err := r.walkRanked(ctx, cfg, role, ceiling); err != nil {
			return nil, err
		} else if res != nil {
			return res, nil
		}
		if !cfg.AssignToAny {
			return nil, ErrNoCandidate
		}
	}

	return r.leastLoaded(ctx, role, ceiling, ranked)
}

func (r *Resolver) walkRanked(ctx context.Context, cfg *HierarchyConfig, role string, ceiling int) (*Resolution, error) {
	for _, m := range cfg.Members {
		p, err := r.people.GetByID(ctx, m.PersonID)
		if err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				r.logger.Warn().Str("person_id", m.PersonID.String()).
					Str("config", cfg.Name).Msg("hierarchy member missing from directory")
				continue
			}
			return nil, err
		}
		if p.Role != role || p.OutOfRotation() {
			continue
		}
		count, err := r.counts.ActiveCount(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if count >= ceiling {
			continue
		}
		return &Resolution{
			PersonID:   p.ID,
			PersonName: p.Name,
			Role:       role,
			Rank:       m.Rank,
			RankName:   RankName(m.Rank),
			CaseCount:  count,
		}, nil
	}
	return nil, nil
}

// leastLoaded scans the role for the person with the fewest active
// cases under the ceiling. The fallback only considers people outside
// the ranked chain; everyone in the chain was already walked in order.
func (r *Resolver) leastLoaded(ctx context.Context, role string, ceiling int, ranked map[uuid.UUID]bool) (*Resolution, error) {
	people, err := r.people.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}

	var best *Resolution
	for _, p := range people {
		if ranked[p.ID] || p.OutOfRotation() {
			continue
		}
		count, err := r.counts.ActiveCount(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if count >= ceiling {
			continue
		}
		if best == nil || count < best.CaseCount ||
			(count == best.CaseCount && p.Name < best.PersonName) {
			best = &Resolution{
				PersonID:    p.ID,
				PersonName:  p.Name,
				Role:        role,
				RankName:    "fallback",
				CaseCount:   count,
				ViaFallback: true,
			}
		}
	}
	if best == nil {
		return nil, ErrNoCandidate
	}
	return best, nil
}
