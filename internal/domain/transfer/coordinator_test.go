package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/caseflow/caseflow/internal/domain/assignment"
	"github.com/caseflow/caseflow/internal/domain/consult"
	"github.com/caseflow/caseflow/internal/domain/directory"
	"github.com/caseflow/caseflow/internal/platform/events"
)

// -- Mocks --

type memCaseRepo struct {
	store map[uuid.UUID]*consult.Case
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{store: make(map[uuid.UUID]*consult.Case)}
}

func (m *memCaseRepo) Create(_ context.Context, c *consult.Case) error {
	c.ID = uuid.New()
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*consult.Case, error) {
	c, ok := m.store[id]
	if !ok {
		return nil, consult.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCaseRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*consult.Case, error) {
	return m.GetByID(ctx, id)
}

func (m *memCaseRepo) Update(_ context.Context, c *consult.Case) error {
	if _, ok := m.store[c.ID]; !ok {
		return consult.ErrNotFound
	}
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *memCaseRepo) List(_ context.Context, f consult.ListFilter, limit, offset int) ([]*consult.Case, int, error) {
	var r []*consult.Case
	for _, c := range m.store {
		r = append(r, c)
	}
	return r, len(r), nil
}

func (m *memCaseRepo) ActiveCount(_ context.Context, personID uuid.UUID) (int, error) {
	n := 0
	for _, c := range m.store {
		if c.ActiveFor(personID) {
			n++
		}
	}
	return n, nil
}

func (m *memCaseRepo) ActiveCounts(_ context.Context) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int)
	for _, c := range m.store {
		if c.DoctorID != nil && c.ActiveFor(*c.DoctorID) {
			counts[*c.DoctorID]++
		}
		if c.PharmacistID != nil && c.ActiveFor(*c.PharmacistID) {
			counts[*c.PharmacistID]++
		}
	}
	return counts, nil
}

func (m *memCaseRepo) ActiveCasesFor(_ context.Context, personID uuid.UUID) ([]*consult.Case, error) {
	var r []*consult.Case
	for _, c := range m.store {
		if c.ActiveFor(personID) {
			cp := *c
			r = append(r, &cp)
		}
	}
	return r, nil
}

type memPeople struct {
	people map[uuid.UUID]*directory.Person
}

func (m *memPeople) GetByID(_ context.Context, id uuid.UUID) (*directory.Person, error) {
	p, ok := m.people[id]
	if !ok {
		return nil, directory.ErrNotFound
	}
	return p, nil
}

type memEvents struct {
	events []*Event
}

func (m *memEvents) Record(_ context.Context, ev *Event) error {
	ev.ID = uuid.New()
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

func (m *memEvents) ListByCase(_ context.Context, caseID uuid.UUID) ([]*Event, error) {
	var r []*Event
	for _, ev := range m.events {
		if ev.CaseID == caseID {
			r = append(r, ev)
		}
	}
	return r, nil
}

func (m *memEvents) ListByPerson(_ context.Context, personID uuid.UUID, limit, offset int) ([]*Event, int, error) {
	var r []*Event
	for _, ev := range m.events {
		if ev.FromPersonID == personID || ev.ToPersonID == personID {
			r = append(r, ev)
		}
	}
	return r, len(r), nil
}

func (m *memEvents) CountByCase(_ context.Context, caseID uuid.UUID) (int, error) {
	evs, _ := m.ListByCase(context.Background(), caseID)
	return len(evs), nil
}

type memTracker struct {
	tracked []uuid.UUID
}

func (m *memTracker) Track(caseID uuid.UUID, role string, personID uuid.UUID) {
	m.tracked = append(m.tracked, personID)
}

type coordFixture struct {
	cases   *memCaseRepo
	people  *memPeople
	events  *memEvents
	tracker *memTracker
	bus     *events.Bus
	co      *Coordinator
}

func newCoordFixture() *coordFixture {
	f := &coordFixture{
		cases:   newMemCaseRepo(),
		people:  &memPeople{people: make(map[uuid.UUID]*directory.Person)},
		events:  &memEvents{},
		tracker: &memTracker{},
		bus:     events.NewBus(),
	}
	f.co = NewCoordinator(f.cases, f.people, f.events, f.tracker, f.bus, nil, zerolog.Nop())
	return f
}

func (f *coordFixture) person(role string) *directory.Person {
	p := &directory.Person{
		ID: uuid.New(), Name: "P " + uuid.NewString()[:8], Role: role,
		AvailabilityStatus: directory.StatusAvailable, Active: true,
	}
	f.people.people[p.ID] = p
	return p
}

func (f *coordFixture) caseFor(doctorID, pharmacistID uuid.UUID) *consult.Case {
	c := &consult.Case{
		PatientName:  "Pat",
		DoctorID:     &doctorID,
		PharmacistID: &pharmacistID,
	}
	_ = f.cases.Create(context.Background(), c)
	return c
}

// -- Tests --

func TestTransferMovesLegAndRecordsHistory(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	c := f.caseFor(from.ID, ph.ID)

	sub := f.bus.Subscribe(events.TopicCases)
	defer sub.Cancel()

	ev, err := f.co.Transfer(context.Background(), Request{
		CaseID: c.ID, Role: directory.RoleDoctor,
		FromPersonID: from.ID, ToPersonID: to.ID, Reason: "shift end",
	}, "lead-1")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	got, _ := f.cases.GetByID(context.Background(), c.ID)
	if got.DoctorID == nil || *got.DoctorID != to.ID {
		t.Error("doctor leg did not move")
	}
	if got.TransferCount != 1 {
		t.Errorf("transfer_count = %d, want 1", got.TransferCount)
	}
	// The counter always equals the recorded history.
	n, _ := f.events.CountByCase(context.Background(), c.ID)
	if n != got.TransferCount {
		t.Errorf("history length %d != transfer_count %d", n, got.TransferCount)
	}
	if ev.Reason == nil || *ev.Reason != "shift end" {
		t.Error("reason not recorded")
	}
	if ev.ToPersonName != to.Name || ev.Bulk {
		t.Errorf("event provenance: name %q bulk %v", ev.ToPersonName, ev.Bulk)
	}
	if got.DoctorName != to.Name || got.DoctorType != consult.AssigneeTransferred {
		t.Errorf("leg provenance: name %q type %q", got.DoctorName, got.DoctorType)
	}
	if len(f.tracker.tracked) != 1 || f.tracker.tracked[0] != to.ID {
		t.Errorf("tracker not re-armed for the new assignee: %v", f.tracker.tracked)
	}
	select {
	case e := <-sub.C:
		if e.Type != events.TypeCaseTransferred {
			t.Errorf("unexpected event type %q", e.Type)
		}
	default:
		t.Error("expected a transfer event on the bus")
	}
}

func TestTransferRejectsStaleReference(t *testing.T) {
	f := newCoordFixture()
	holder := f.person(directory.RoleDoctor)
	notHolder := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	c := f.caseFor(holder.ID, ph.ID)

	_, err := f.co.Transfer(context.Background(), Request{
		CaseID: c.ID, Role: directory.RoleDoctor,
		FromPersonID: notHolder.ID, ToPersonID: to.ID,
	}, "lead-1")
	if !errors.Is(err, ErrStaleReference) {
		t.Fatalf("expected ErrStaleReference, got %v", err)
	}
	got, _ := f.cases.GetByID(context.Background(), c.ID)
	if *got.DoctorID != holder.ID || got.TransferCount != 0 {
		t.Error("rejected transfer must not change the case")
	}
	if len(f.events.events) != 0 {
		t.Error("rejected transfer must not record history")
	}
}

func TestTransferRejectsOverCapacity(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	// Fill the target to the doctor ceiling.
	for i := 0; i < assignment.DoctorCaseCeiling; i++ {
		f.caseFor(to.ID, ph.ID)
	}
	c := f.caseFor(from.ID, ph.ID)

	_, err := f.co.Transfer(context.Background(), Request{
		CaseID: c.ID, Role: directory.RoleDoctor,
		FromPersonID: from.ID, ToPersonID: to.ID,
	}, "lead-1")
	var capErr *CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Deficit() != 1 {
		t.Errorf("deficit = %d, want 1", capErr.Deficit())
	}
}

func TestTransferPharmacistHeadroom(t *testing.T) {
	f := newCoordFixture()
	doc := f.person(directory.RoleDoctor)
	from := f.person(directory.RolePharmacist)
	to := f.person(directory.RolePharmacist)
	// Past the assignment ceiling but under the transfer ceiling.
	for i := 0; i < assignment.PharmacistCaseCeiling+2; i++ {
		f.caseFor(doc.ID, to.ID)
	}
	c := f.caseFor(doc.ID, from.ID)

	if _, err := f.co.Transfer(context.Background(), Request{
		CaseID: c.ID, Role: directory.RolePharmacist,
		FromPersonID: from.ID, ToPersonID: to.ID,
	}, "lead-1"); err != nil {
		t.Fatalf("pharmacist transfer under the transfer ceiling should pass: %v", err)
	}
}

func TestTransferRejectsTerminalCase(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	c := f.caseFor(from.ID, ph.ID)
	stored := f.cases.store[c.ID]
	stored.Incomplete = true

	_, err := f.co.Transfer(context.Background(), Request{
		CaseID: c.ID, Role: directory.RoleDoctor,
		FromPersonID: from.ID, ToPersonID: to.ID,
	}, "lead-1")
	if !errors.Is(err, consult.ErrTerminal) {
		t.Fatalf("expected ErrTerminal, got %v", err)
	}
}

func TestBulkTransferAllOrNothing(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)

	// Target has room for 2; we ask for 3.
	for i := 0; i < assignment.DoctorCaseCeiling-2; i++ {
		f.caseFor(to.ID, ph.ID)
	}
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.caseFor(from.ID, ph.ID).ID)
	}

	_, err := f.co.BulkTransfer(context.Background(), BulkRequest{
		Role: directory.RoleDoctor, FromPersonID: from.ID, ToPersonID: to.ID,
		CaseIDs: ids,
	}, "lead-1")
	var capErr *CapacityExceededError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityExceededError, got %v", err)
	}
	if capErr.Deficit() != 1 {
		t.Errorf("deficit = %d, want 1", capErr.Deficit())
	}
	// Nothing moved.
	for _, id := range ids {
		c, _ := f.cases.GetByID(context.Background(), id)
		if *c.DoctorID != from.ID || c.TransferCount != 0 {
			t.Fatal("partial bulk transfer applied")
		}
	}
	if len(f.events.events) != 0 {
		t.Error("failed bulk transfer must not record history")
	}
}

func TestBulkTransferMovesEverything(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	for i := 0; i < 3; i++ {
		f.caseFor(from.ID, ph.ID)
	}

	// Empty CaseIDs means everything the source holds.
	evs, err := f.co.BulkTransfer(context.Background(), BulkRequest{
		Role: directory.RoleDoctor, FromPersonID: from.ID, ToPersonID: to.ID,
		Reason: "handover",
	}, "lead-1")
	if err != nil {
		t.Fatalf("bulk transfer: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	remaining, _ := f.cases.ActiveCount(context.Background(), from.ID)
	if remaining != 0 {
		t.Errorf("source still holds %d cases", remaining)
	}
	gained, _ := f.cases.ActiveCount(context.Background(), to.ID)
	if gained != 3 {
		t.Errorf("target holds %d cases, want 3", gained)
	}
	for _, ev := range evs {
		c, _ := f.cases.GetByID(context.Background(), ev.CaseID)
		n, _ := f.events.CountByCase(context.Background(), ev.CaseID)
		if c.TransferCount != n {
			t.Errorf("case %s: transfer_count %d != history %d", c.ID, c.TransferCount, n)
		}
		if c.DoctorType != consult.AssigneeBulkTransferred {
			t.Errorf("case %s: doctor_type %q", c.ID, c.DoctorType)
		}
		if !ev.Bulk || ev.ToPersonName != to.Name {
			t.Errorf("event %s: bulk %v name %q", ev.ID, ev.Bulk, ev.ToPersonName)
		}
	}
}

type flakyCaseRepo struct {
	*memCaseRepo
	failAfter int
	updates   int
}

func (m *flakyCaseRepo) Update(ctx context.Context, c *consult.Case) error {
	m.updates++
	if m.updates > m.failAfter {
		return errors.New("connection reset")
	}
	return m.memCaseRepo.Update(ctx, c)
}

func TestBulkTransferRollsBackOnMidBatchFailure(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.caseFor(from.ID, ph.ID).ID)
	}

	// Storage dies on the third case of the batch. The transaction
	// wrapper discards every write made before the failure, the way a
	// rolled-back database transaction would.
	flaky := &flakyCaseRepo{memCaseRepo: f.cases, failAfter: 2}
	f.co = NewCoordinator(flaky, f.people, f.events, f.tracker, f.bus, nil, zerolog.Nop())
	f.co.txRunner = func(ctx context.Context, fn func(ctx context.Context) error) error {
		snapCases := make(map[uuid.UUID]*consult.Case, len(f.cases.store))
		for id, c := range f.cases.store {
			cp := *c
			snapCases[id] = &cp
		}
		snapEvents := append([]*Event(nil), f.events.events...)
		if err := fn(ctx); err != nil {
			f.cases.store = snapCases
			f.events.events = snapEvents
			return err
		}
		return nil
	}

	sub := f.bus.Subscribe(events.TopicCases)
	defer sub.Cancel()

	_, err := f.co.BulkTransfer(context.Background(), BulkRequest{
		Role: directory.RoleDoctor, FromPersonID: from.ID, ToPersonID: to.ID,
		CaseIDs: ids,
	}, "lead-1")
	if err == nil {
		t.Fatal("expected the bulk transfer to fail")
	}

	for _, id := range ids {
		c, _ := f.cases.GetByID(context.Background(), id)
		if *c.DoctorID != from.ID || c.TransferCount != 0 {
			t.Fatal("failed bulk transfer moved a case")
		}
	}
	if len(f.events.events) != 0 {
		t.Error("failed bulk transfer must not record history")
	}
	if len(f.tracker.tracked) != 0 {
		t.Errorf("tracker re-armed after a failed transfer: %v", f.tracker.tracked)
	}
	select {
	case e := <-sub.C:
		t.Errorf("unexpected event %q after a failed transfer", e.Type)
	default:
	}
}

func TestBulkTransferSkipsCompletedLegs(t *testing.T) {
	f := newCoordFixture()
	from := f.person(directory.RoleDoctor)
	to := f.person(directory.RoleDoctor)
	ph := f.person(directory.RolePharmacist)

	open := f.caseFor(from.ID, ph.ID)
	done := f.caseFor(from.ID, ph.ID)
	f.cases.store[done.ID].DoctorCompleted = true

	evs, err := f.co.BulkTransfer(context.Background(), BulkRequest{
		Role: directory.RoleDoctor, FromPersonID: from.ID, ToPersonID: to.ID,
	}, "lead-1")
	if err != nil {
		t.Fatalf("bulk transfer: %v", err)
	}
	if len(evs) != 1 || evs[0].CaseID != open.ID {
		t.Errorf("expected only the open leg to move, got %d events", len(evs))
	}
}

func TestCapacityExceededError(t *testing.T) {
	err := &CapacityExceededError{
		PersonName: "Dr X", Role: directory.RoleDoctor,
		Ceiling: 10, Current: 8, Requested: 5,
	}
	if err.Deficit() != 3 {
		t.Errorf("deficit = %d, want 3", err.Deficit())
	}
	want := "Dr X (doctor) can take 2 more case(s), 5 requested"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}
