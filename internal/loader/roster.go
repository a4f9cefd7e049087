package loader

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mesikahq/clinic-sync/internal/normalize"
)

// RosterConfig controls how the roster export is read. HeaderRow is the
// 1-based row holding column headers; one known source format puts two
// blank/title rows above them, so this is per-source configuration, not a
// constant.
type RosterConfig struct {
	Sheet     string // empty means first sheet
	HeaderRow int    // 1-based; 0 defaults to 1
}

// LoadRoster parses the roster spreadsheet into RosterRecords. A row is
// accepted only when it carries a roster key and either a last name or a
// splittable combined-name cell; everything else lands in the error list and
// loading continues. Output order follows sheet order, so re-running against
// an unchanged file reproduces the identical record set.
func LoadRoster(path string, cfg RosterConfig) (*RosterResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open roster file: %w", err)
	}
	defer f.Close()

	sheet := cfg.Sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read roster sheet %q: %w", sheet, err)
	}

	headerRow := cfg.HeaderRow
	if headerRow <= 0 {
		headerRow = 1
	}
	if len(rows) < headerRow {
		return nil, ErrNoHeaderRow
	}
	cols := columnMap(rows[headerRow-1], rosterAliases)
	if _, ok := cols["roster_key"]; !ok {
		return nil, fmt.Errorf("%w: no roster key column recognized", ErrNoHeaderRow)
	}

	result := &RosterResult{}
	for i := headerRow; i < len(rows); i++ {
		displayRow := i + 1
		rec, rowErr := parseRosterRow(rows[i], cols, displayRow)
		if rowErr != nil {
			result.Errors = append(result.Errors, *rowErr)
			continue
		}
		if rec == nil {
			continue // fully blank row
		}
		result.Records = append(result.Records, *rec)
	}
	return result, nil
}

func parseRosterRow(row []string, cols map[string]int, displayRow int) (*RosterRecord, *RowError) {
	get := func(field string) string {
		idx, ok := cols[field]
		return cell(row, idx, ok)
	}

	blank := true
	for _, v := range row {
		if v != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, nil
	}

	key := normalizeKey(get("roster_key"))
	first := get("first_name")
	last := get("last_name")
	full := get("full_name")

	if key == "" {
		return nil, &RowError{Row: displayRow, Reason: "missing required roster key"}
	}
	if last == "" {
		f, l, ok := normalize.SplitFullName(full)
		if !ok {
			return nil, &RowError{Row: displayRow, Reason: "missing last name and combined name"}
		}
		if first == "" {
			first = f
		}
		last = l
	}

	first, preferred := normalize.PreferredName(first)

	rec := &RosterRecord{
		RosterKey:     key,
		FirstName:     first,
		PreferredName: preferred,
		MiddleName:    get("middle_name"),
		LastName:      last,
		Phone:         get("phone"),
		Email:         get("email"),
		Address:       get("address"),
		City:          get("city"),
		State:         get("state"),
		Zip:           get("zip"),
		Insurance:     get("insurance"),
		Row:           displayRow,
	}
	if raw := get("dob"); raw != "" {
		rec.DateOfBirth = normalize.ParseDate(raw)
		// An unparseable DOB does not reject the row; the record simply
		// loses its DOB tiebreak for matching.
	}
	return rec, nil
}
