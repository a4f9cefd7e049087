package loader

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mesikahq/clinic-sync/internal/normalize"
)

// Alias tables map the many human-written header variants seen in real
// exports onto one canonical field name. Lookup is case-insensitive and
// insensitive to underscore/space (see normalize.HeaderKey).

var rosterAliases = map[string][]string{
	"roster_key": {
		"mrn", "patient id", "patient #", "patient number",
		"chart number", "chart #", "record number", "medical record number",
	},
	"first_name":  {"first name", "first", "patient first name", "fname"},
	"middle_name": {"middle name", "middle", "mi"},
	"last_name":   {"last name", "last", "patient last name", "lname"},
	"full_name":   {"patient name", "name", "full name", "patient"},
	"dob":         {"dob", "date of birth", "birth date", "birthdate"},
	"phone": {
		"phone", "phone number", "phone #", "cell", "cell phone",
		"mobile", "mobile phone", "primary phone",
	},
	"email":     {"email", "email address", "e-mail"},
	"address":   {"address", "street address", "address 1", "address line 1"},
	"city":      {"city"},
	"state":     {"state", "st"},
	"zip":       {"zip", "zip code", "postal code"},
	"insurance": {"insurance", "payer", "primary insurance", "insurance plan"},
}

var enrollmentAliases = map[string][]string{
	"roster_key": {
		"mrn", "patient id", "patient #", "patient number",
		"chart number", "record number",
	},
	"first_name": {"first name", "first"},
	"last_name":  {"last name", "last"},
	"full_name":  {"patient name", "name", "full name", "patient"},
	"dob":        {"dob", "date of birth"},
	"status":     {"status", "enrollment status"},
	"level1":     {"level 1", "tier 1", "apcm level 1", "apcm 1", "l1 codes"},
	"level2":     {"level 2", "tier 2", "apcm level 2", "apcm 2", "l2 codes"},
	"level3":     {"level 3", "tier 3", "apcm level 3", "apcm 3", "l3 codes"},
}

// tierFields is the exclusive, ordered tier selection: the first populated
// column wins and the rest are ignored for that row. Order here is the
// priority order, so tier precedence is structural, not an accident of map
// iteration.
var tierFields = []struct {
	field string
	tier  int
}{
	{"level1", 1},
	{"level2", 2},
	{"level3", 3},
}

// columnMap resolves a header row against an alias table, returning canonical
// field name -> 0-based column index. Unrecognized headers are ignored; on a
// duplicate alias hit the leftmost column wins.
func columnMap(headers []string, aliases map[string][]string) map[string]int {
	byKey := make(map[string]string, len(aliases)*4)
	for field, names := range aliases {
		for _, name := range names {
			byKey[normalize.HeaderKey(name)] = field
		}
	}

	cols := make(map[string]int)
	for i, h := range headers {
		key := normalize.HeaderKey(h)
		if key == "" {
			continue
		}
		if field, ok := byKey[key]; ok {
			if _, seen := cols[field]; !seen {
				cols[field] = i
			}
		}
	}
	return cols
}

// cell safely reads one column from a row; excelize trims trailing empty
// cells from GetRows output so short rows are normal.
func cell(row []string, idx int, ok bool) string {
	if !ok || idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// normalizeKey trims a roster key cell and drops the ".0" suffix Excel
// appends when a numeric MRN column has been through a float round-trip.
func normalizeKey(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ".0")
	return s
}

// aliasOverrides is the shape of an optional YAML file that extends the
// built-in alias tables when a practice renames a column mid-year.
type aliasOverrides struct {
	Roster     map[string][]string `yaml:"roster"`
	Enrollment map[string][]string `yaml:"enrollment"`
}

// LoadAliasOverrides merges extra header aliases from a YAML file into the
// built-in tables. A missing file is not an error; a malformed one is.
func LoadAliasOverrides(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var ov aliasOverrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return err
	}
	for field, names := range ov.Roster {
		rosterAliases[field] = append(rosterAliases[field], names...)
	}
	for field, names := range ov.Enrollment {
		enrollmentAliases[field] = append(enrollmentAliases[field], names...)
	}
	return nil
}
