package directory

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Availability statuses for a person in the directory. "available" and
// "busy" are the two statuses the assignment engine will route cases to
// and away from; "unavailable" and "on_break" are set by people (or an
// admin) and take the person out of rotation entirely.
const (
	StatusAvailable   = "available"
	StatusBusy        = "busy"
	StatusUnavailable = "unavailable"
	StatusOnBreak     = "on_break"
)

// Roles a person in the directory can hold. Doctors and pharmacists
// receive consultation assignments; the rest create or oversee them.
const (
	RoleNurse      = "nurse"
	RoleDoctor     = "doctor"
	RolePharmacist = "pharmacist"
	RoleTeamLead   = "team_lead"
	RoleZonalHead  = "zonal_head"
	RoleAdmin      = "admin"
)

// maxHistoryEntries bounds the availability audit trail kept on the
// person row itself. Older entries are discarded oldest-first.
const maxHistoryEntries = 50

var ErrNotFound = errors.New("person not found")

var validStatuses = map[string]bool{
	StatusAvailable:   true,
	StatusBusy:        true,
	StatusUnavailable: true,
	StatusOnBreak:     true,
}

// ValidStatus reports whether s is a recognized availability status.
func ValidStatus(s string) bool { return validStatuses[s] }

var validRoles = map[string]bool{
	RoleNurse: true, RoleDoctor: true, RolePharmacist: true,
	RoleTeamLead: true, RoleZonalHead: true, RoleAdmin: true,
}

// ValidRole reports whether s is a recognized directory role.
func ValidRole(s string) bool { return validRoles[s] }

// Person maps to the person table. CaseCount is a cached count of the
// person's active consultations, maintained by the workload accountant;
// the authoritative number always comes from the consult_case table.
type Person struct {
	ID                  uuid.UUID            `db:"id" json:"id"`
	Name                string               `db:"name" json:"name"`
	Email               string               `db:"email" json:"email"`
	Phone               *string              `db:"phone" json:"phone,omitempty"`
	Role                string               `db:"role" json:"role"`
	Specialty           *string              `db:"specialty" json:"specialty,omitempty"`
	AvailabilityStatus  string               `db:"availability_status" json:"availability_status"`
	CaseCount           int                  `db:"case_count" json:"case_count"`
	AvailabilityHistory []AvailabilityChange `db:"availability_history" json:"availability_history,omitempty"`
	Active              bool                 `db:"active" json:"active"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at" json:"updated_at"`
}

// AvailabilityChange is one entry in a person's availability audit trail.
type AvailabilityChange struct {
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// CanReceiveCases reports whether new consultations may be routed to
// this person. Busy people stay assignable; the resolver only prefers
// others first. Unavailable and on-break people are out of rotation.
func (p *Person) CanReceiveCases() bool {
	if !p.Active {
		return false
	}
	return p.AvailabilityStatus == StatusAvailable || p.AvailabilityStatus == StatusBusy
}

// OutOfRotation reports whether the person must not receive new work at
// all, regardless of load.
func (p *Person) OutOfRotation() bool {
	return !p.Active ||
		p.AvailabilityStatus == StatusUnavailable ||
		p.AvailabilityStatus == StatusOnBreak
}

// AppendHistory records a status change. The trail is kept most recent
// first and trimmed to maxHistoryEntries entries.
func (p *Person) AppendHistory(change AvailabilityChange) {
	p.AvailabilityHistory = append([]AvailabilityChange{change}, p.AvailabilityHistory...)
	if len(p.AvailabilityHistory) > maxHistoryEntries {
		p.AvailabilityHistory = p.AvailabilityHistory[:maxHistoryEntries]
	}
}
