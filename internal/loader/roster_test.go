package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// writeSheet writes rows to the given sheet of a new workbook file. Row and
// column numbering is 1-based to mirror how the fixtures read in a
// spreadsheet application.
func writeSheet(t *testing.T, path, sheet string, rows [][]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if sheet != "Sheet1" {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		f.DeleteSheet("Sheet1")
	}
	for r, row := range rows {
		for c, v := range row {
			cellName, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cellName, v))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func writeWorkbook(t *testing.T, path string, sheets map[string][][]string, order []string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for _, sheet := range order {
		if sheet != "Sheet1" {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for r, row := range sheets[sheet] {
			for c, v := range row {
				cellName, err := excelize.CoordinatesToCellName(c+1, r+1)
				require.NoError(t, err)
				require.NoError(t, f.SetCellValue(sheet, cellName, v))
			}
		}
	}
	if _, ok := sheets["Sheet1"]; !ok {
		f.DeleteSheet("Sheet1")
	}
	require.NoError(t, f.SaveAs(path))
}

func TestLoadRosterBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "First Name", "Last Name", "DOB", "Phone", "Email"},
		{"12345", `Patricia "Pat"`, "Jones", "03/14/1957", "205-555-0100", "pat@example.com"},
		{"12346", "Robert", "Smith", "", "(205) 955-7605", ""},
	})

	res, err := LoadRoster(path, RosterConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Empty(t, res.Errors)

	rec := res.Records[0]
	assert.Equal(t, "12345", rec.RosterKey)
	assert.Equal(t, "Patricia", rec.FirstName)
	assert.Equal(t, "Pat", rec.PreferredName)
	assert.Equal(t, "Jones", rec.LastName)
	require.NotNil(t, rec.DateOfBirth)
	assert.Equal(t, 1957, rec.DateOfBirth.Year())
	assert.Equal(t, 2, rec.Row)

	assert.Nil(t, res.Records[1].DateOfBirth)
}

func TestLoadRosterHeaderOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"Quarterly Patient Roster"},
		{},
		{"Patient_ID", "Patient Name", "Cell Phone"},
		{"9001", "Jones, Patricia", "2055550100"},
	})

	res, err := LoadRoster(path, RosterConfig{HeaderRow: 3})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Equal(t, "9001", rec.RosterKey)
	assert.Equal(t, "Patricia", rec.FirstName)
	assert.Equal(t, "Jones", rec.LastName)
	assert.Equal(t, 4, rec.Row)
}

func TestLoadRosterCombinedNameHeuristics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "Patient Name"},
		{"1", "Jones, Patricia"},
		{"2", "Patricia Jones"},
		{"3", "Mary Anne Smith"},
	})

	res, err := LoadRoster(path, RosterConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	assert.Equal(t, "Jones", res.Records[0].LastName)
	assert.Equal(t, "Patricia", res.Records[0].FirstName)
	assert.Equal(t, "Jones", res.Records[1].LastName)
	assert.Equal(t, "Smith", res.Records[2].LastName)
	assert.Equal(t, "Mary Anne", res.Records[2].FirstName)
}

func TestLoadRosterRowErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "First Name", "Last Name"},
		{"", "Patricia", "Jones"},       // no key
		{"12345", "Patricia", ""},       // no last name or combined name
		{"", "", ""},                    // fully blank, silently skipped
		{"12346", "Robert", "Smith"},    // good
	})

	res, err := LoadRoster(path, RosterConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Len(t, res.Errors, 2)

	assert.Equal(t, 2, res.Errors[0].Row)
	assert.Equal(t, "missing required roster key", res.Errors[0].Reason)
	assert.Equal(t, 3, res.Errors[1].Row)
	// Reasons are structural and never echo cell contents.
	for _, e := range res.Errors {
		assert.NotContains(t, e.Reason, "Patricia")
	}
}

func TestLoadRosterIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "A", "B", "2055550100"},
		{"2", "C", "D", "2055550101"},
	})

	first, err := LoadRoster(path, RosterConfig{})
	require.NoError(t, err)
	second, err := LoadRoster(path, RosterConfig{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadRosterNoKeyColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"First Name", "Last Name"},
		{"Patricia", "Jones"},
	})

	_, err := LoadRoster(path, RosterConfig{})
	require.ErrorIs(t, err, ErrNoHeaderRow)
}
