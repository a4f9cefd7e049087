package loader

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// EnrollmentConfig controls how the enrollment export is read. The file has
// two logical partitions on separate sheets, each with its own header-row
// offset. The removed sheet is optional.
type EnrollmentConfig struct {
	ActiveSheet      string // empty means first sheet
	RemovedSheet     string // empty means "Removed"; absence is not an error
	ActiveHeaderRow  int    // 1-based; 0 defaults to 1
	RemovedHeaderRow int
}

// LoadEnrollment parses both partitions of the enrollment export. Active rows
// derive an exclusive billing tier from the ordered level columns; removed
// rows additionally gather any ad hoc commentary cells into a single
// semicolon-joined removal note.
func LoadEnrollment(path string, cfg EnrollmentConfig) (*EnrollmentResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open enrollment file: %w", err)
	}
	defer f.Close()

	result := &EnrollmentResult{}

	activeSheet := cfg.ActiveSheet
	if activeSheet == "" {
		activeSheet = f.GetSheetName(0)
	}
	if err := loadEnrollmentSheet(f, activeSheet, cfg.ActiveHeaderRow, EnrollmentActive, result); err != nil {
		return nil, err
	}

	removedSheet := cfg.RemovedSheet
	if removedSheet == "" {
		removedSheet = "Removed"
	}
	if sheetExists(f, removedSheet) {
		if err := loadEnrollmentSheet(f, removedSheet, cfg.RemovedHeaderRow, EnrollmentRemoved, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func sheetExists(f *excelize.File, name string) bool {
	for _, s := range f.GetSheetList() {
		if s == name {
			return true
		}
	}
	return false
}

func loadEnrollmentSheet(f *excelize.File, sheet string, headerRow int, status EnrollmentStatus, result *EnrollmentResult) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read enrollment sheet %q: %w", sheet, err)
	}
	if headerRow <= 0 {
		headerRow = 1
	}
	if len(rows) < headerRow {
		return ErrNoHeaderRow
	}
	headers := rows[headerRow-1]
	cols := columnMap(headers, enrollmentAliases)
	if _, ok := cols["roster_key"]; !ok {
		return fmt.Errorf("%w: no roster key column recognized in sheet %q", ErrNoHeaderRow, sheet)
	}

	for i := headerRow; i < len(rows); i++ {
		row := rows[i]
		displayRow := i + 1

		blank := true
		for _, v := range row {
			if v != "" {
				blank = false
				break
			}
		}
		if blank {
			continue
		}

		key := normalizeKey(cell(row, cols["roster_key"], true))
		if key == "" {
			result.Errors = append(result.Errors, RowError{Row: displayRow, Reason: "missing required roster key"})
			continue
		}

		rec := EnrollmentRecord{
			RosterKey: key,
			Status:    status,
			Row:       displayRow,
		}

		// Exclusive, ordered tier selection: the first populated level
		// column wins outright.
		for _, tf := range tierFields {
			idx, ok := cols[tf.field]
			if v := strings.TrimSpace(cell(row, idx, ok)); v != "" {
				rec.Tier = tf.tier
				rec.TierCodes = v
				break
			}
		}

		if status == EnrollmentRemoved {
			rec.RemovalNote = collectRemovalNote(row, cols)
		}

		result.Records = append(result.Records, rec)
	}
	return nil
}

// collectRemovalNote joins every non-empty cell outside the recognized-field
// set into one semicolon-separated note. The removed sheet has no dedicated
// reason column; staff leave commentary wherever there is room (often under a
// blank header), and this preserves it. Iterates the data row rather than the
// header row because trailing unnamed columns are exactly where the
// commentary lands.
func collectRemovalNote(row []string, cols map[string]int) string {
	known := make(map[int]bool, len(cols))
	for _, idx := range cols {
		known[idx] = true
	}

	var parts []string
	for i := range row {
		if known[i] {
			continue
		}
		if v := strings.TrimSpace(row[i]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "; ")
}
