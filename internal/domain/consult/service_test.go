package consult

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/events"
)

// -- Mocks --

type mockCaseRepo struct {
	store map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{store: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	c.ID = uuid.New()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	c, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Case, error) {
	return m.GetByID(ctx, id)
}

func (m *mockCaseRepo) Update(_ context.Context, c *Case) error {
	if _, ok := m.store[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Case, int, error) {
	var r []*Case
	for _, c := range m.store {
		if f.Status == StatusOpen {
			if c.Terminal() {
				continue
			}
		} else if f.Status != "" && c.Status() != f.Status {
			continue
		}
		r = append(r, c)
	}
	return r, len(r), nil
}

func (m *mockCaseRepo) ActiveCount(_ context.Context, personID uuid.UUID) (int, error) {
	n := 0
	for _, c := range m.store {
		if c.ActiveFor(personID) {
			n++
		}
	}
	return n, nil
}

func (m *mockCaseRepo) ActiveCounts(_ context.Context) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for _, c := range m.store {
		if c.Incomplete {
			continue
		}
		if c.DoctorID != nil && !c.DoctorCompleted {
			counts[*c.DoctorID]++
		}
		if c.PharmacistID != nil && !c.PharmacistCompleted {
			counts[*c.PharmacistID]++
		}
	}
	return counts, nil
}

func (m *mockCaseRepo) ActiveCasesFor(_ context.Context, personID uuid.UUID) ([]*Case, error) {
	var r []*Case
	for _, c := range m.store {
		if c.ActiveFor(personID) {
			r = append(r, c)
		}
	}
	return r, nil
}

type stubResolver struct {
	results map[string]*assignment.Resolution
	err     error
}

func (s *stubResolver) Resolve(_ context.Context, role string, _ assignment.ResolveOptions) (*assignment.Resolution, error) {
	if s.err != nil {
		return nil, s.err
	}
	res, ok := s.results[role]
	if !ok {
		return nil, assignment.ErrNoCandidate
	}
	return res, nil
}

type recordingTracker struct {
	tracked   []string
	untracked []string
}

func (r *recordingTracker) Track(caseID uuid.UUID, role string, _ uuid.UUID) {
	r.tracked = append(r.tracked, role)
}

func (r *recordingTracker) Untrack(caseID uuid.UUID, role string) {
	r.untracked = append(r.untracked, role)
}

type caseFixture struct {
	repo     *mockCaseRepo
	resolver *stubResolver
	tracker  *recordingTracker
	bus      *events.Bus
	svc      *Service
	doctor   uuid.UUID
	pharm    uuid.UUID
}

func newCaseFixture() *caseFixture {
	f := &caseFixture{
		repo:    newMockCaseRepo(),
		tracker: &recordingTracker{},
		bus:     events.NewBus(),
		doctor:  uuid.New(),
		pharm:   uuid.New(),
	}
	f.resolver = &stubResolver{results: map[string]*assignment.Resolution{
		directory.RoleDoctor: {
			PersonID: f.doctor, PersonName: "Dr A",
			Role: directory.RoleDoctor, Rank: 1, RankName: "primary",
		},
		directory.RolePharmacist: {
			PersonID: f.pharm, PersonName: "Ph B",
			Role: directory.RolePharmacist, Rank: 1, RankName: "primary",
		},
	}}
	f.svc = NewService(f.repo, f.resolver, f.tracker, f.bus, nil, zerolog.Nop())
	return f
}

// -- Tests --

func TestCreateCaseAssignsBothLegs(t *testing.T) {
	f := newCaseFixture()
	sub := f.bus.Subscribe(events.TopicCases)
	defer sub.Cancel()

	c := &Case{PatientName: "Pat"}
	if err := f.svc.CreateCase(context.Background(), c, "nurse-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.DoctorID == nil || *c.DoctorID != f.doctor {
		t.Error("doctor leg not bound")
	}
	if c.PharmacistID == nil || *c.PharmacistID != f.pharm {
		t.Error("pharmacist leg not bound")
	}
	if c.CreatedBy != "nurse-1" {
		t.Errorf("created_by = %q", c.CreatedBy)
	}
	if c.DoctorName != "Dr A" || c.DoctorType != "primary" {
		t.Errorf("doctor provenance: name %q type %q", c.DoctorName, c.DoctorType)
	}
	if c.PharmacistName != "Ph B" || c.PharmacistType != "primary" {
		t.Errorf("pharmacist provenance: name %q type %q", c.PharmacistName, c.PharmacistType)
	}
	if len(f.tracker.tracked) != 2 {
		t.Errorf("expected both legs tracked, got %v", f.tracker.tracked)
	}

	select {
	case ev := <-sub.C:
		if ev.Type != events.TypeCaseCreated {
			t.Errorf("unexpected event type %q", ev.Type)
		}
	default:
		t.Error("expected a case created event")
	}
}

func TestCreateCaseFailsWithoutCandidates(t *testing.T) {
	f := newCaseFixture()
	delete(f.resolver.results, directory.RolePharmacist)

	err := f.svc.CreateCase(context.Background(), &Case{PatientName: "Pat"}, "nurse-1")
	if !errors.Is(err, assignment.ErrNoCandidate) {
		t.Fatalf("expected ErrNoCandidate, got %v", err)
	}
	if len(f.repo.store) != 0 {
		t.Error("no case should be stored when resolution fails")
	}
	if len(f.tracker.tracked) != 0 {
		t.Error("nothing should be tracked when resolution fails")
	}
}

func TestCreateCaseRequiresPatientName(t *testing.T) {
	f := newCaseFixture()
	if err := f.svc.CreateCase(context.Background(), &Case{}, "nurse-1"); err == nil {
		t.Error("expected error for missing patient name")
	}
}

func TestCompleteLegsInOrder(t *testing.T) {
	f := newCaseFixture()
	ctx := context.Background()
	c := &Case{PatientName: "Pat"}
	if err := f.svc.CreateCase(ctx, c, "nurse-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Only the assignee may complete their leg.
	if _, err := f.svc.CompleteDoctorLeg(ctx, c.ID, uuid.New().String()); err == nil {
		t.Error("stranger completing the doctor leg should fail")
	}

	got, err := f.svc.CompleteDoctorLeg(ctx, c.ID, f.doctor.String())
	if err != nil {
		t.Fatalf("complete doctor leg: %v", err)
	}
	if got.Status() != StatusDoctorCompleted {
		t.Errorf("expected doctor_completed with pharmacist leg open, got %s", got.Status())
	}
	if got.DoctorCompletedAt == nil {
		t.Error("doctor_completed_at should be set")
	}
	if got.CompletedAt != nil {
		t.Error("completed_at should not be set yet")
	}

	got, err = f.svc.CompletePharmacistLeg(ctx, c.ID, f.pharm.String())
	if err != nil {
		t.Fatalf("complete pharmacist leg: %v", err)
	}
	if got.Status() != StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status())
	}
	if got.CompletedAt == nil {
		t.Error("completed_at should be set when both legs are done")
	}
	if len(f.tracker.untracked) != 2 {
		t.Errorf("expected both legs untracked, got %v", f.tracker.untracked)
	}

	// A completed case rejects further writes.
	if _, err := f.svc.MarkIncomplete(ctx, c.ID, "too late"); !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal, got %v", err)
	}
}

func TestCompleteLegTwiceReturnsCase(t *testing.T) {
	f := newCaseFixture()
	ctx := context.Background()
	c := &Case{PatientName: "Pat"}
	if err := f.svc.CreateCase(ctx, c, "nurse-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := f.svc.CompleteDoctorLeg(ctx, c.ID, f.doctor.String())
	if err != nil {
		t.Fatalf("complete doctor leg: %v", err)
	}

	// Redelivered completions must come back with the case unchanged,
	// not blow up or double-write.
	again, err := f.svc.CompleteDoctorLeg(ctx, c.ID, f.doctor.String())
	if err != nil {
		t.Fatalf("repeat completion: %v", err)
	}
	if again == nil {
		t.Fatal("repeat completion returned no case")
	}
	if again.Status() != StatusDoctorCompleted {
		t.Errorf("expected doctor_completed, got %s", again.Status())
	}
	if again.DoctorCompletedAt == nil || !again.DoctorCompletedAt.Equal(*first.DoctorCompletedAt) {
		t.Error("repeat completion must not move doctor_completed_at")
	}
}

func TestMarkIncompleteIsTerminal(t *testing.T) {
	f := newCaseFixture()
	ctx := context.Background()
	c := &Case{PatientName: "Pat"}
	if err := f.svc.CreateCase(ctx, c, "nurse-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := f.svc.MarkIncomplete(ctx, c.ID, "patient left")
	if err != nil {
		t.Fatalf("mark incomplete: %v", err)
	}
	if got.Status() != StatusDoctorIncomplete {
		t.Errorf("expected doctor_incomplete, got %s", got.Status())
	}
	if got.IncompleteReason == nil || *got.IncompleteReason != "patient left" {
		t.Error("reason not recorded")
	}

	if _, err := f.svc.CompleteDoctorLeg(ctx, c.ID, f.doctor.String()); !errors.Is(err, ErrTerminal) {
		t.Errorf("completing a dead case should fail terminally, got %v", err)
	}
	if _, err := f.svc.MarkIncomplete(ctx, c.ID, "again"); !errors.Is(err, ErrTerminal) {
		t.Errorf("expected ErrTerminal on repeat, got %v", err)
	}
}

func TestRebindMovesLeg(t *testing.T) {
	f := newCaseFixture()
	ctx := context.Background()
	c := &Case{PatientName: "Pat"}
	if err := f.svc.CreateCase(ctx, c, "nurse-1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	replacement := uuid.New()
	err := f.svc.Rebind(ctx, c.ID, directory.RoleDoctor, &assignment.Resolution{
		PersonID: replacement, PersonName: "Dr New", RankName: "secondary",
	})
	if err != nil {
		t.Fatalf("rebind: %v", err)
	}
	got, err := f.svc.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DoctorID == nil || *got.DoctorID != replacement {
		t.Error("doctor leg did not move")
	}
	if got.DoctorName != "Dr New" || got.DoctorType != "secondary" {
		t.Errorf("doctor provenance after rebind: name %q type %q", got.DoctorName, got.DoctorType)
	}
	if got.PharmacistID == nil || *got.PharmacistID != f.pharm {
		t.Error("pharmacist leg should be untouched")
	}

	if err := f.svc.Rebind(ctx, c.ID, directory.RoleNurse, &assignment.Resolution{PersonID: replacement}); err == nil {
		t.Error("rebinding a role without a leg should fail")
	}
}
