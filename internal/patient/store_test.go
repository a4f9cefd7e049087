package patient

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Create stores NULLIF(consent_token, ''), so tokenless rows hold SQL NULL
// and pgx refuses to scan that into the plain string field. Every read must
// therefore coalesce the column back to "" or the whole update path breaks
// for patients that never requested a token.
func TestPatientColumnsCoalesceNullableToken(t *testing.T) {
	require.Contains(t, patientColumns, "COALESCE(consent_token, '')")

	flat := strings.ReplaceAll(patientColumns, "COALESCE(consent_token, '')", "consent_token")
	assert.NotContains(t, flat, "COALESCE", "consent_token is the only nullable text column")

	// Column count must match scanPatient's destination count.
	cols := strings.Split(flat, ",")
	assert.Len(t, cols, 31)
}

type erroringRow struct {
	err error
}

func (r erroringRow) Scan(dest ...any) error { return r.err }

func TestScanPatientErrorMapping(t *testing.T) {
	_, err := scanPatient(erroringRow{err: pgx.ErrNoRows})
	assert.ErrorIs(t, err, ErrNotFound)

	scanErr := errors.New("cannot scan NULL into *string")
	_, err = scanPatient(erroringRow{err: scanErr})
	assert.ErrorIs(t, err, scanErr)
}

func TestIsUniqueViolation(t *testing.T) {
	tokenErr := &pgconn.PgError{Code: "23505", ConstraintName: "patients_consent_token_key"}
	assert.True(t, isUniqueViolation(tokenErr, "patients_consent_token_key"))
	assert.True(t, isUniqueViolation(tokenErr, ""))
	assert.False(t, isUniqueViolation(tokenErr, "patients_roster_key_key"))

	assert.False(t, isUniqueViolation(errors.New("context canceled"), "patients_consent_token_key"))
	assert.False(t, isUniqueViolation(nil, ""))
}
