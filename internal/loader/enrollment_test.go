package loader

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnrollmentTierSelection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollment.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "Level 1", "Level 2", "Level 3"},
		{"1", "99426", "", ""},
		{"2", "", "99427", ""},
		{"3", "", "", "99428, 99429"},
		{"4", "99426", "99427", "99428"}, // first populated column wins
		{"5", "", "", ""},
	})

	res, err := LoadEnrollment(path, EnrollmentConfig{})
	require.NoError(t, err)
	require.Len(t, res.Records, 5)

	assert.Equal(t, 1, res.Records[0].Tier)
	assert.Equal(t, "99426", res.Records[0].TierCodes)
	assert.Equal(t, 2, res.Records[1].Tier)
	assert.Equal(t, 3, res.Records[2].Tier)
	assert.Equal(t, "99428, 99429", res.Records[2].TierCodes)

	// Tier selection is exclusive: level 1 wins even with all three set.
	assert.Equal(t, 1, res.Records[3].Tier)
	assert.Equal(t, "99426", res.Records[3].TierCodes)

	assert.Equal(t, 0, res.Records[4].Tier)
	for _, rec := range res.Records {
		assert.Equal(t, EnrollmentActive, rec.Status)
	}
}

func TestLoadEnrollmentRemovedSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollment.xlsx")
	writeWorkbook(t, path, map[string][][]string{
		"Active": {
			{"MRN", "Level 1", "Level 2"},
			{"1", "99426", ""},
		},
		"Removed": {
			{"MRN", "Level 1", "Level 2", "", ""},
			{"2", "", "", "moved out of state", "pcp changed"},
			{"3", "99426", "", "", ""},
		},
	}, []string{"Active", "Removed"})

	res, err := LoadEnrollment(path, EnrollmentConfig{ActiveSheet: "Active", RemovedSheet: "Removed"})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	removed := res.Records[1]
	assert.Equal(t, "2", removed.RosterKey)
	assert.Equal(t, EnrollmentRemoved, removed.Status)
	assert.Equal(t, "moved out of state; pcp changed", removed.RemovalNote)

	// Tier-code cells are excluded from the note.
	assert.Equal(t, "", res.Records[2].RemovalNote)
	assert.Equal(t, 1, res.Records[2].Tier)
}

func TestLoadEnrollmentSeparateHeaderOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollment.xlsx")
	writeWorkbook(t, path, map[string][][]string{
		"Active": {
			{"APCM Enrollment"},
			{"MRN", "Level 1"},
			{"1", "99426"},
		},
		"Removed": {
			{"MRN", ""},
			{"2", "declined outreach"},
		},
	}, []string{"Active", "Removed"})

	res, err := LoadEnrollment(path, EnrollmentConfig{
		ActiveSheet:      "Active",
		RemovedSheet:     "Removed",
		ActiveHeaderRow:  2,
		RemovedHeaderRow: 1,
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Records[0].Tier)
	assert.Equal(t, "declined outreach", res.Records[1].RemovalNote)
}

func TestLoadEnrollmentMissingRemovedSheet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollment.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "Level 1"},
		{"1", "99426"},
	})

	res, err := LoadEnrollment(path, EnrollmentConfig{})
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
}

func TestLoadEnrollmentMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enrollment.xlsx")
	writeSheet(t, path, "Sheet1", [][]string{
		{"MRN", "Level 1"},
		{"", "99426"},
	})

	res, err := LoadEnrollment(path, EnrollmentConfig{})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)
}
