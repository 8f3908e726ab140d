package assignment

import (
	"context"
	"testing"

	"github.com/caseflow/caseflow/internal/domain/directory"
)

func newTestService(f *resolverFixture) *Service {
	return NewService(f.hierarchy, f.people, f.resolver)
}

func TestCreateConfigValidation(t *testing.T) {
	f := newResolverFixture()
	svc := newTestService(f)
	ctx := context.Background()

	if err := svc.CreateConfig(ctx, &HierarchyConfig{Role: directory.RoleDoctor}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := svc.CreateConfig(ctx, &HierarchyConfig{Name: "x", Role: directory.RoleNurse}); err == nil {
		t.Error("nurse hierarchies should be rejected")
	}
	if err := svc.CreateConfig(ctx, &HierarchyConfig{Name: "x", Role: directory.RoleDoctor}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAddMemberValidation(t *testing.T) {
	f := newResolverFixture()
	svc := newTestService(f)
	ctx := context.Background()

	doc := f.people.add("Dr A", directory.RoleDoctor, directory.StatusAvailable)
	ph := f.people.add("Ph B", directory.RolePharmacist, directory.StatusAvailable)
	cfg := &HierarchyConfig{Name: "doctors", Role: directory.RoleDoctor}
	if err := svc.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}

	if err := svc.AddMember(ctx, cfg.ID, &HierarchyMember{PersonID: doc.ID, Rank: 0}); err == nil {
		t.Error("rank 0 should be rejected")
	}
	if err := svc.AddMember(ctx, cfg.ID, &HierarchyMember{PersonID: ph.ID, Rank: 1}); err == nil {
		t.Error("pharmacist in a doctor hierarchy should be rejected")
	}
	if err := svc.AddMember(ctx, cfg.ID, &HierarchyMember{PersonID: doc.ID, Rank: 1}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	// Duplicate rank and duplicate person both fail.
	other := f.people.add("Dr C", directory.RoleDoctor, directory.StatusAvailable)
	if err := svc.AddMember(ctx, cfg.ID, &HierarchyMember{PersonID: other.ID, Rank: 1}); err == nil {
		t.Error("duplicate rank should be rejected")
	}
	if err := svc.AddMember(ctx, cfg.ID, &HierarchyMember{PersonID: doc.ID, Rank: 2}); err == nil {
		t.Error("duplicate person should be rejected")
	}
}

func TestDeleteConfigRefusesActive(t *testing.T) {
	f := newResolverFixture()
	svc := newTestService(f)
	ctx := context.Background()

	cfg := &HierarchyConfig{Name: "doctors", Role: directory.RoleDoctor, Active: true}
	if err := svc.CreateConfig(ctx, cfg); err != nil {
		t.Fatalf("create config: %v", err)
	}
	if err := svc.DeleteConfig(ctx, cfg.ID); err == nil {
		t.Error("deleting the active config should be rejected")
	}
}

func TestPreviewValidatesRole(t *testing.T) {
	f := newResolverFixture()
	svc := newTestService(f)

	if _, err := svc.Preview(context.Background(), directory.RoleNurse); err == nil {
		t.Error("preview for a non-assignable role should fail")
	}
}
