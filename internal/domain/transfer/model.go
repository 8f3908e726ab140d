package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrStaleReference is returned when a transfer names a from-person who
// no longer holds the case. The whole request is rejected; the caller
// must re-read and retry with current assignments.
var ErrStaleReference = errors.New("case assignee does not match transfer source")

// CapacityExceededError reports a transfer that would push the target
// past their ceiling. Deficit says how many cases over the line the
// request is, so bulk callers can shrink and retry.
type CapacityExceededError struct {
	PersonName string
	Role       string
	Ceiling    int
	Current    int
	Requested  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("%s (%s) can take %d more case(s), %d requested",
		e.PersonName, e.Role, e.headroom(), e.Requested)
}

func (e *CapacityExceededError) headroom() int {
	h := e.Ceiling - e.Current
	if h < 0 {
		return 0
	}
	return h
}

// Deficit is the number of cases that do not fit.
func (e *CapacityExceededError) Deficit() int {
	return e.Current + e.Requested - e.Ceiling
}

// Event maps to the transfer_event table. The table is append-only;
// a case's transfer_count always equals its number of events here.
type Event struct {
	ID           uuid.UUID `db:"id" json:"id"`
	CaseID       uuid.UUID `db:"case_id" json:"case_id"`
	Role         string    `db:"role" json:"role"`
	FromPersonID uuid.UUID `db:"from_person_id" json:"from_person_id"`
	ToPersonID   uuid.UUID `db:"to_person_id" json:"to_person_id"`
	ToPersonName string    `db:"to_person_name" json:"to_person_name"`
	Bulk         bool      `db:"bulk" json:"bulk"`
	Reason       *string   `db:"reason" json:"reason,omitempty"`
	InitiatedBy  string    `db:"initiated_by" json:"initiated_by"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Request describes one case changing hands.
type Request struct {
	CaseID       uuid.UUID `json:"case_id"`
	Role         string    `json:"role"`
	FromPersonID uuid.UUID `json:"from_person_id"`
	ToPersonID   uuid.UUID `json:"to_person_id"`
	Reason       string    `json:"reason"`
}

// BulkRequest moves several cases from one person to another in a
// single, all-or-nothing operation. Empty CaseIDs means every case the
// source currently holds for the role.
type BulkRequest struct {
	Role         string      `json:"role"`
	FromPersonID uuid.UUID   `json:"from_person_id"`
	ToPersonID   uuid.UUID   `json:"to_person_id"`
	CaseIDs      []uuid.UUID `json:"case_ids,omitempty"`
	Reason       string      `json:"reason"`
}
