package assignment

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/caseflow/caseflow/internal/domain/directory"
)

// Case ceilings. A person at or above the ceiling is never handed
// another case by the resolver. Pharmacists get extra headroom on the
// transfer path so a lead can consolidate work onto one pharmacist
// past the normal assignment cutoff.
const (
	DoctorCaseCeiling         = 10
	PharmacistCaseCeiling     = 10
	PharmacistTransferCeiling = 15
)

// ErrNoCandidate is returned when neither the ranked walk nor the
// least-loaded fallback produced an assignee.
var ErrNoCandidate = errors.New("no eligible candidate for assignment")

// AssignmentCeiling returns the hard case limit for new assignments.
func AssignmentCeiling(role string) int {
	switch role {
	case directory.RolePharmacist:
		return PharmacistCaseCeiling
	default:
		return DoctorCaseCeiling
	}
}

// TransferCeiling returns the hard case limit applied when cases are
// transferred rather than freshly assigned.
func TransferCeiling(role string) int {
	switch role {
	case directory.RolePharmacist:
		return PharmacistTransferCeiling
	default:
		return DoctorCaseCeiling
	}
}

var rankNames = []string{"primary", "secondary", "tertiary", "quaternary", "quinary"}

// RankName renders a 1-based hierarchy rank as its conventional name.
func RankName(rank int) string {
	if rank >= 1 && rank <= len(rankNames) {
		return rankNames[rank-1]
	}
	return fmt.Sprintf("level-%d", rank)
}

// HierarchyConfig maps to the hierarchy_config table. One active config
// per role drives the resolver's ranked walk. AssignToAny permits the
// least-loaded fallback across the whole role when every ranked
// candidate is exhausted.
type HierarchyConfig struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Role        string    `db:"role" json:"role"`
	Description *string   `db:"description" json:"description,omitempty"`
	AssignToAny bool      `db:"assign_to_any" json:"assign_to_any"`
	Active      bool      `db:"active" json:"active"`
	Members     []HierarchyMember `json:"members,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// HierarchyMember maps to the hierarchy_member table. Rank is 1-based;
// lower ranks are tried first.
type HierarchyMember struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ConfigID  uuid.UUID `db:"config_id" json:"config_id"`
	PersonID  uuid.UUID `db:"person_id" json:"person_id"`
	Rank      int       `db:"rank" json:"rank"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Resolution is the outcome of one resolver run.
type Resolution struct {
	PersonID    uuid.UUID `json:"person_id"`
	PersonName  string    `json:"person_name"`
	Role        string    `json:"role"`
	Rank        int       `json:"rank,omitempty"`
	RankName    string    `json:"rank_name"`
	CaseCount   int       `json:"case_count"`
	ViaFallback bool      `json:"via_fallback"`
}
