// Package normalize canonicalizes raw identity fields from spreadsheet
// exports and CRM payloads into comparable forms. Every function here is a
// pure transform of its input: the matcher and the contact index rely on two
// raw values normalizing identically iff they should be treated as the same
// value.
package normalize

import (
	"regexp"
	"strings"
	"time"
)

// PhoneDigits is the number of significant digits a normalized phone keeps.
const PhoneDigits = 10

var nonDigitRe = regexp.MustCompile(`\D`)

// Phone strips all non-digit characters, drops a leading US country code
// when 11 or more digits remain, and returns the first 10 digits. Inputs with
// fewer than 10 digits return "". Truncating (instead of rejecting long
// values) tolerates the trailing stray digit some spreadsheet phone columns
// carry; it is a documented quirk of the roster exports, not a general E.164
// rule.
func Phone(raw string) string {
	digits := nonDigitRe.ReplaceAllString(raw, "")
	if len(digits) > PhoneDigits && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < PhoneDigits {
		return ""
	}
	return digits[:PhoneDigits]
}

// Name lower-cases and trims a name fragment. Empty or whitespace-only input
// yields "" rather than an error so the result is always safe as a map key.
func Name(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Nickname patterns in priority order: double quotes, single quotes,
// parentheses. First match wins.
var nicknameRes = []*regexp.Regexp{
	regexp.MustCompile(`^\s*(.+?)\s*"([^"]+)"`),
	regexp.MustCompile(`^\s*(.+?)\s*'([^']+)'`),
	regexp.MustCompile(`^\s*(.+?)\s*\(([^)]+)\)`),
}

// PreferredName splits a first-name cell like `Patricia "Pat"` into the legal
// first name and the embedded preferred name. When no nickname pattern is
// present the input comes back unchanged with an empty preferred name.
func PreferredName(rawFirst string) (first, preferred string) {
	for _, re := range nicknameRes {
		if m := re.FindStringSubmatch(rawFirst); m != nil {
			return m[1], m[2]
		}
	}
	return rawFirst, ""
}

// dateLayouts covers the formats seen across the roster and enrollment
// exports plus the CRM API.
var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseDate parses a textual date in any of the accepted layouts. It returns
// nil on failure rather than an error so one bad cell never aborts a batch
// load; callers record the row and continue.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &t
		}
	}
	return nil
}

// SplitFullName splits a combined-name cell into (first, last). "Last, First"
// takes priority over "First Last"; a single bare token is treated as a last
// name. Returns ok=false for an empty cell.
func SplitFullName(raw string) (first, last string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if i := strings.Index(raw, ","); i >= 0 {
		last = strings.TrimSpace(raw[:i])
		first = strings.TrimSpace(raw[i+1:])
		return first, last, last != ""
	}
	parts := strings.Fields(raw)
	if len(parts) == 1 {
		return "", parts[0], true
	}
	// Everything before the final token is the first/middle portion.
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1], true
}

// Email canonicalizes an email address for exact comparison.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// HeaderKey canonicalizes a spreadsheet column header for alias-table lookup:
// lower-case, trimmed, underscores and repeated spaces collapsed to single
// spaces, so "Patient_ID", "patient id" and "Patient  ID" all collide.
func HeaderKey(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
