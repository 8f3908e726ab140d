package assignment

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/domain/directory"
)

// Service manages hierarchy configs and exposes dry-run resolution.
type Service struct {
	hierarchy HierarchyRepository
	people    PersonSource
	resolver  *Resolver
}

func NewService(hierarchy HierarchyRepository, people PersonSource, resolver *Resolver) *Service {
	return &Service{hierarchy: hierarchy, people: people, resolver: resolver}
}

func assignableRole(role string) bool {
	return role == directory.RoleDoctor || role == directory.RolePharmacist
}

func (s *Service) CreateConfig(ctx context.Context, cfg *HierarchyConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !assignableRole(cfg.Role) {
		return fmt.Errorf("role must be %s or %s", directory.RoleDoctor, directory.RolePharmacist)
	}
	return s.hierarchy.CreateConfig(ctx, cfg)
}

func (s *Service) GetConfig(ctx context.Context, id uuid.UUID) (*HierarchyConfig, error) {
	return s.hierarchy.GetConfig(ctx, id)
}

func (s *Service) ListConfigs(ctx context.Context, role string, limit, offset int) ([]*HierarchyConfig, int, error) {
	return s.hierarchy.ListConfigs(ctx, role, limit, offset)
}

func (s *Service) UpdateConfig(ctx context.Context, cfg *HierarchyConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	return s.hierarchy.UpdateConfig(ctx, cfg)
}

func (s *Service) ActivateConfig(ctx context.Context, id uuid.UUID) error {
	return s.hierarchy.ActivateConfig(ctx, id)
}

func (s *Service) DeleteConfig(ctx context.Context, id uuid.UUID) error {
	cfg, err := s.hierarchy.GetConfig(ctx, id)
	if err != nil {
		return err
	}
	if cfg.Active {
		return fmt.Errorf("cannot delete the active config for role %s", cfg.Role)
	}
	return s.hierarchy.DeleteConfig(ctx, id)
}

// AddMember appends a person to a config's ranked list. The person must
// exist and hold the config's role; ranks must be positive and unique
// within the config.
func (s *Service) AddMember(ctx context.Context, configID uuid.UUID, m *HierarchyMember) error {
	if m.Rank < 1 {
		return fmt.Errorf("rank must be at least 1")
	}
	cfg, err := s.hierarchy.GetConfig(ctx, configID)
	if err != nil {
		return err
	}
	p, err := s.people.GetByID(ctx, m.PersonID)
	if err != nil {
		return fmt.Errorf("member person: %w", err)
	}
	if p.Role != cfg.Role {
		return fmt.Errorf("person %s is a %s, config requires %s", p.Name, p.Role, cfg.Role)
	}
	for _, existing := range cfg.Members {
		if existing.Rank == m.Rank {
			return fmt.Errorf("rank %d (%s) is already taken", m.Rank, RankName(m.Rank))
		}
		if existing.PersonID == m.PersonID {
			return fmt.Errorf("person %s is already in this hierarchy", p.Name)
		}
	}
	m.ConfigID = configID
	return s.hierarchy.AddMember(ctx, m)
}

func (s *Service) RemoveMember(ctx context.Context, configID, memberID uuid.UUID) error {
	return s.hierarchy.RemoveMember(ctx, configID, memberID)
}

// Preview runs the resolver without binding anything, so leads can see
// who the next case for a role would land on.
func (s *Service) Preview(ctx context.Context, role string) (*Resolution, error) {
	if !assignableRole(role) {
		return nil, fmt.Errorf("role must be %s or %s", directory.RoleDoctor, directory.RolePharmacist)
	}
	return s.resolver.Resolve(ctx, role, ResolveOptions{})
}
