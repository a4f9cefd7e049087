package patient

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("patient not found")
	ErrDuplicateKey   = errors.New("patient with this roster key already exists")
	ErrDuplicateToken = errors.New("consent token already in use")
)

// ConsentStatus tracks where a patient sits in the outreach workflow.
// ConsentPending is the untouched initial state; only explicit operator or
// consent-response actions move a patient past it.
type ConsentStatus string

const (
	ConsentPending  ConsentStatus = "PENDING"
	ConsentInvited  ConsentStatus = "INVITED"
	ConsentGranted  ConsentStatus = "GRANTED"
	ConsentDeclined ConsentStatus = "DECLINED"
)

// Patient is the canonical merged record, uniquely keyed by RosterKey (the
// MRN-like identifier from the roster export; never regenerated). Its fields
// partition into three ownership classes with different merge policy:
//
//   - source-owned: overwritten by the latest successful load
//   - match-derived: overwritten by the latest matcher run
//   - operator-owned: never touched by a load/match pass
//
// Patients are soft-retained: Status moves to REMOVED, rows are never
// deleted.
type Patient struct {
	ID        string `json:"id"`
	RosterKey string `json:"roster_key"`

	// Source-owned demographics and enrollment.
	FirstName        string     `json:"first_name"`
	PreferredName    string     `json:"preferred_name,omitempty"`
	MiddleName       string     `json:"middle_name,omitempty"`
	LastName         string     `json:"last_name"`
	DateOfBirth      *time.Time `json:"date_of_birth,omitempty"`
	Phone            string     `json:"phone,omitempty"`
	Email            string     `json:"email,omitempty"`
	Address          string     `json:"address,omitempty"`
	City             string     `json:"city,omitempty"`
	State            string     `json:"state,omitempty"`
	Zip              string     `json:"zip,omitempty"`
	Insurance        string     `json:"insurance,omitempty"`
	EnrollmentTier   int        `json:"enrollment_tier"`
	EnrollmentCodes  string     `json:"enrollment_codes,omitempty"`
	EnrollmentStatus string     `json:"enrollment_status,omitempty"`
	RemovalNote      string     `json:"removal_note,omitempty"`

	// Match-derived.
	CRMContactID    string  `json:"crm_contact_id,omitempty"`
	MatchMethod     string  `json:"match_method,omitempty"`
	MatchConfidence float64 `json:"match_confidence"`

	// Operator-owned.
	ConsentStatus    ConsentStatus `json:"consent_status"`
	ConsentDecidedAt *time.Time    `json:"consent_decided_at,omitempty"`
	ConsentToken     string        `json:"-"`
	TokenExpiresAt   *time.Time    `json:"token_expires_at,omitempty"`
	InvitedAt        *time.Time    `json:"invited_at,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	ElectionFlags    []string      `json:"election_flags,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusActive and StatusRemoved are the soft-retention states.
const (
	StatusActive  = "ACTIVE"
	StatusRemoved = "REMOVED"
)

// SourceFields is the loader-owned slice of a patient, written as one unit by
// a reconciliation pass.
type SourceFields struct {
	FirstName        string
	PreferredName    string
	MiddleName       string
	LastName         string
	DateOfBirth      *time.Time
	Phone            string
	Email            string
	Address          string
	City             string
	State            string
	Zip              string
	Insurance        string
	EnrollmentTier   int
	EnrollmentCodes  string
	EnrollmentStatus string
	// RemovalNote is source-derived commentary from the enrollment removed
	// sheet; distinct from the operator-owned Notes field.
	RemovalNote string
}

// MatchFields is the matcher-owned slice, overwritten by the latest run.
type MatchFields struct {
	CRMContactID    string
	MatchMethod     string
	MatchConfidence float64
}

// OperatorFields is the operator-owned slice. Only explicit operator or
// consent-response actions may write it; reconciliation never does.
type OperatorFields struct {
	ConsentStatus    ConsentStatus
	ConsentDecidedAt *time.Time
	Notes            string
	ElectionFlags    []string
}
