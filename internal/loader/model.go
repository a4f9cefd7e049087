// Package loader parses the roster and enrollment spreadsheet exports into
// typed records. Downstream code only ever sees these record shapes, never
// raw cells. Row-level failures are collected, not thrown: a bad row is
// reported by display row number with a structural reason and the batch
// continues.
package loader

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoFile is returned by Discover when no candidate file matches any
	// configured pattern in any search path.
	ErrNoFile = errors.New("no matching spreadsheet file found")

	ErrNoHeaderRow = errors.New("header row not found at configured offset")
)

// RosterRecord is one accepted row of the roster export. RosterKey is the
// source-of-truth identifier (the MRN column under whatever header the
// practice used this month) and is required.
type RosterRecord struct {
	RosterKey     string
	FirstName     string
	PreferredName string
	MiddleName    string
	LastName      string
	DateOfBirth   *time.Time
	Phone         string
	Email         string
	Address       string
	City          string
	State         string
	Zip           string
	Insurance     string
	Row           int
}

// EnrollmentStatus distinguishes the two partitions of the enrollment export.
type EnrollmentStatus string

const (
	EnrollmentActive  EnrollmentStatus = "active"
	EnrollmentRemoved EnrollmentStatus = "removed"
)

// EnrollmentRecord is one accepted row of the enrollment export. Tier is the
// exclusive billing tier derived from the ordered level columns; 0 means no
// level column was populated.
type EnrollmentRecord struct {
	RosterKey   string
	Tier        int
	TierCodes   string
	Status      EnrollmentStatus
	RemovalNote string
	Row         int
}

// RowError reports a rejected row. Row is the 1-based display row as shown in
// a spreadsheet application. Reason is structural only and must never carry
// cell contents.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// RosterResult is the outcome of one roster load pass.
type RosterResult struct {
	Records []RosterRecord
	Errors  []RowError
}

// EnrollmentResult is the outcome of one enrollment load pass, both
// partitions combined.
type EnrollmentResult struct {
	Records []EnrollmentRecord
	Errors  []RowError
}
