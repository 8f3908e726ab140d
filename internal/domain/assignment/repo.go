package assignment

import (
	"context"

	"github.com/google/uuid"
)

type HierarchyRepository interface {
	CreateConfig(ctx context.Context, cfg *HierarchyConfig) error
	GetConfig(ctx context.Context, id uuid.UUID) (*HierarchyConfig, error)
	// GetActiveConfigByRole returns the single active config for a role,
	// members loaded and ordered by rank.
	GetActiveConfigByRole(ctx context.Context, role string) (*HierarchyConfig, error)
	ListConfigs(ctx context.Context, role string, limit, offset int) ([]*HierarchyConfig, int, error)
	UpdateConfig(ctx context.Context, cfg *HierarchyConfig) error
	// ActivateConfig makes cfg the active config for its role and
	// deactivates any other config for that role.
	ActivateConfig(ctx context.Context, id uuid.UUID) error
	DeleteConfig(ctx context.Context, id uuid.UUID) error

	AddMember(ctx context.Context, m *HierarchyMember) error
	RemoveMember(ctx context.Context, configID, memberID uuid.UUID) error
	ListMembers(ctx context.Context, configID uuid.UUID) ([]HierarchyMember, error)
}
