package match

import (
	"time"

	"github.com/mesikahq/clinic-sync/internal/normalize"
)

// Method identifies the tier that produced a match.
type Method string

const (
	MethodPhone   Method = "phone"
	MethodNameDOB Method = "name_dob"
	MethodName    Method = "name"
	// MethodNameAmbiguous marks a name-tier hit where multiple same-name
	// contacts existed and no date of birth was available to disambiguate.
	// The first candidate in index order is still returned for
	// compatibility, but callers must treat the link as advisory only.
	MethodNameAmbiguous Method = "name_ambiguous"
	MethodEmail         Method = "email"
	MethodNone          Method = "none"
)

// Per-tier confidence. A matched result always carries the confidence of the
// tier that produced it.
const (
	ConfidencePhone         = 0.95
	ConfidenceNameDOB       = 0.85
	ConfidenceName          = 0.70
	ConfidenceNameAmbiguous = 0.50
	ConfidenceEmail         = 0.60
)

// Record is the identity slice of a roster record the matcher needs. Fields
// are raw; normalization happens inside the tiers.
type Record struct {
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	DateOfBirth *time.Time
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Result is the matcher's decision for one record. Matched implies
// Confidence > 0 and a method other than MethodNone.
type Result struct {
	Matched    bool    `json:"matched"`
	ContactID  string  `json:"contact_id,omitempty"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
}

var noMatch = Result{Method: MethodNone, Confidence: 0}

type tierFunc func(idx *ContactIndex, rec Record) (Result, bool)

// tiers is the strict priority order. Evaluation early-returns at the first
// tier that yields a result, so a record can never fall through to a weaker
// method when a stronger one succeeded.
var tiers = []tierFunc{
	matchByPhone,
	matchByName,
	matchByEmail,
}

// Match evaluates the tiers in priority order against the index.
func (idx *ContactIndex) Match(rec Record) Result {
	for _, tier := range tiers {
		if res, ok := tier(idx, rec); ok {
			return res
		}
	}
	return noMatch
}

func matchByPhone(idx *ContactIndex, rec Record) (Result, bool) {
	p := normalize.Phone(rec.Phone)
	if p == "" {
		return Result{}, false
	}
	c, ok := idx.byPhone[p]
	if !ok {
		return Result{}, false
	}
	return Result{Matched: true, ContactID: c.ID, Method: MethodPhone, Confidence: ConfidencePhone}, true
}

func matchByName(idx *ContactIndex, rec Record) (Result, bool) {
	key := nameKey{last: normalize.Name(rec.LastName), first: normalize.Name(rec.FirstName)}
	if key.last == "" && key.first == "" {
		return Result{}, false
	}
	candidates := idx.byName[key]
	if len(candidates) == 0 {
		return Result{}, false
	}

	if rec.DateOfBirth != nil {
		for _, c := range candidates {
			if c.DateOfBirth != nil && sameDay(*c.DateOfBirth, *rec.DateOfBirth) {
				return Result{Matched: true, ContactID: c.ID, Method: MethodNameDOB, Confidence: ConfidenceNameDOB}, true
			}
		}
	}

	if len(candidates) > 1 && rec.DateOfBirth == nil {
		// Multiple same-name contacts and nothing to disambiguate with.
		return Result{Matched: true, ContactID: candidates[0].ID, Method: MethodNameAmbiguous, Confidence: ConfidenceNameAmbiguous}, true
	}

	return Result{Matched: true, ContactID: candidates[0].ID, Method: MethodName, Confidence: ConfidenceName}, true
}

// matchByEmail is the lowest-confidence path and has no pre-built index; a
// linear scan is fine at this volume and keeps the index build single-pass.
func matchByEmail(idx *ContactIndex, rec Record) (Result, bool) {
	e := normalize.Email(rec.Email)
	if e == "" {
		return Result{}, false
	}
	for _, c := range idx.contacts {
		if normalize.Email(c.Email) == e {
			return Result{Matched: true, ContactID: c.ID, Method: MethodEmail, Confidence: ConfidenceEmail}, true
		}
	}
	return Result{}, false
}
