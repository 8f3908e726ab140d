package consult

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Derived case statuses. A case is never stored with a status column;
// the status falls out of the completion flags so the two can never
// disagree. An abandoned case reports which leg was still open when it
// was given up.
const (
	StatusPending              = "pending"
	StatusDoctorCompleted      = "doctor_completed"
	StatusCompleted            = "completed"
	StatusDoctorIncomplete     = "doctor_incomplete"
	StatusPharmacistIncomplete = "pharmacist_incomplete"
)

// List-filter pseudo statuses. StatusOpen matches every non-terminal
// case, StatusIncomplete both abandonment variants.
const (
	StatusOpen       = "open"
	StatusIncomplete = "incomplete"
)

// Assignee types recorded alongside each leg. A freshly resolved leg
// carries the rank name that supplied it ("primary", "fallback", ...);
// a moved leg carries one of these.
const (
	AssigneeTransferred     = "transferred"
	AssigneeBulkTransferred = "bulk_transferred"
)

var ErrNotFound = errors.New("case not found")

// ErrTerminal is returned for writes against a completed or incomplete
// case.
var ErrTerminal = errors.New("case is in a terminal state")

// Case maps to the consult_case table. Every case carries one doctor
// and one pharmacist leg; each leg completes independently and the case
// is done when both are. TransferCount mirrors the number of transfer
// events recorded for the case.
type Case struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	PatientName           string     `db:"patient_name" json:"patient_name"`
	PatientRef            *string    `db:"patient_ref" json:"patient_ref,omitempty"`
	Description           *string    `db:"description" json:"description,omitempty"`
	DoctorID              *uuid.UUID `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorName            string     `db:"doctor_name" json:"doctor_name,omitempty"`
	DoctorType            string     `db:"doctor_type" json:"doctor_type,omitempty"`
	PharmacistID          *uuid.UUID `db:"pharmacist_id" json:"pharmacist_id,omitempty"`
	PharmacistName        string     `db:"pharmacist_name" json:"pharmacist_name,omitempty"`
	PharmacistType        string     `db:"pharmacist_type" json:"pharmacist_type,omitempty"`
	DoctorCompleted       bool       `db:"doctor_completed" json:"doctor_completed"`
	PharmacistCompleted   bool       `db:"pharmacist_completed" json:"pharmacist_completed"`
	DoctorCompletedAt     *time.Time `db:"doctor_completed_at" json:"doctor_completed_at,omitempty"`
	PharmacistCompletedAt *time.Time `db:"pharmacist_completed_at" json:"pharmacist_completed_at,omitempty"`
	Incomplete            bool       `db:"incomplete" json:"incomplete"`
	IncompleteReason      *string    `db:"incomplete_reason" json:"incomplete_reason,omitempty"`
	TransferCount         int        `db:"transfer_count" json:"transfer_count"`
	CreatedBy             string     `db:"created_by" json:"created_by"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Status derives the case status from its flags.
func (c *Case) Status() string {
	if c.Incomplete {
		if !c.DoctorCompleted {
			return StatusDoctorIncomplete
		}
		return StatusPharmacistIncomplete
	}
	if c.DoctorCompleted && c.PharmacistCompleted {
		return StatusCompleted
	}
	if c.DoctorCompleted {
		return StatusDoctorCompleted
	}
	return StatusPending
}

// Terminal reports whether no further work may happen on the case.
func (c *Case) Terminal() bool {
	return c.Incomplete || (c.DoctorCompleted && c.PharmacistCompleted)
}

// ActiveFor reports whether the case still counts against personID's
// workload. A leg stops counting the moment it is completed, even while
// the other leg is open.
func (c *Case) ActiveFor(personID uuid.UUID) bool {
	if c.Incomplete {
		return false
	}
	if c.DoctorID != nil && *c.DoctorID == personID && !c.DoctorCompleted {
		return true
	}
	if c.PharmacistID != nil && *c.PharmacistID == personID && !c.PharmacistCompleted {
		return true
	}
	return false
}
