package reconcile

import (
	"time"

	"github.com/mesikahq/clinic-sync/internal/loader"
)

// Summary is the aggregate outcome of one reconciliation pass. It carries
// counts and structural row errors only, never patient field values, so it
// is safe to log, archive and return to callers.
type Summary struct {
	RunID      string    `json:"run_id" bson:"run_id"`
	StartedAt  time.Time `json:"started_at" bson:"started_at"`
	FinishedAt time.Time `json:"finished_at" bson:"finished_at"`

	Imported          int `json:"imported" bson:"imported"`
	Updated           int `json:"updated" bson:"updated"`
	EnrollmentMatched int `json:"enrollment_matched" bson:"enrollment_matched"`
	EnrollmentUpdated int `json:"enrollment_updated" bson:"enrollment_updated"`
	CRMMatched        int `json:"crm_matched" bson:"crm_matched"`
	CRMTotal          int `json:"crm_total" bson:"crm_total"`
	Unmatched         int `json:"unmatched" bson:"unmatched"`

	// CRMDegraded is set when the contact fetch failed and the pass ran
	// without matching.
	CRMDegraded bool `json:"crm_degraded" bson:"crm_degraded"`

	ErrorCount int               `json:"error_count" bson:"error_count"`
	Errors     []loader.RowError `json:"errors,omitempty" bson:"errors,omitempty"`
}

func (s *Summary) addError(e loader.RowError) {
	s.Errors = append(s.Errors, e)
	s.ErrorCount = len(s.Errors)
}
