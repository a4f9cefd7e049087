package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/crm"
	"github.com/mesikahq/clinic-sync/internal/loader"
	"github.com/mesikahq/clinic-sync/internal/match"
	"github.com/mesikahq/clinic-sync/internal/patient"
)

type fakeCRM struct {
	contacts []crm.Contact
	down     bool
}

func (f *fakeCRM) TestConnection(ctx context.Context) bool { return !f.down }

func (f *fakeCRM) GetContacts(ctx context.Context) ([]crm.Contact, error) {
	if f.down {
		return nil, crm.ErrUnavailable
	}
	return f.contacts, nil
}

func (f *fakeCRM) SendMessage(ctx context.Context, destination, body string) error { return nil }

type memArchive struct {
	saved []Summary
}

func (a *memArchive) Save(ctx context.Context, s *Summary) error {
	a.saved = append(a.saved, *s)
	return nil
}

func (a *memArchive) List(ctx context.Context, limit int64) ([]Summary, error) {
	return a.saved, nil
}

func writeXLSX(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for r, row := range rows {
		for c, v := range row {
			cellName, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue("Sheet1", cellName, v))
		}
	}
	require.NoError(t, f.SaveAs(path))
}

func testConfig(dir string) Config {
	return Config{
		SearchPaths:        []string{dir},
		RosterPatterns:     []string{"roster*.xlsx"},
		EnrollmentPatterns: []string{"enrollment*.xlsx"},
	}
}

func TestRunNewPatientWithEnrollmentAndMatch(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"12345", `Patricia "Pat"`, "Jones", "205-555-0100"},
	})
	writeXLSX(t, filepath.Join(dir, "enrollment.xlsx"), [][]string{
		{"MRN", "Level 1", "Level 2"},
		{"12345", "", "99427"},
	})

	store := patient.NewMemStore()
	crmClient := &fakeCRM{contacts: []crm.Contact{
		{ID: "c-9", FirstName: "Patricia", LastName: "Jones", Phone: "2055550100"},
	}}
	archive := &memArchive{}

	svc := NewService(testConfig(dir), store, crmClient, nil, archive, zap.NewNop())
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.CRMMatched)
	assert.Equal(t, 1, summary.EnrollmentMatched)
	assert.Equal(t, 1, summary.CRMTotal)
	assert.Zero(t, summary.ErrorCount)

	p, err := store.GetByRosterKey(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "Patricia", p.FirstName)
	assert.Equal(t, "Pat", p.PreferredName)
	assert.Equal(t, 2, p.EnrollmentTier)
	assert.Equal(t, "99427", p.EnrollmentCodes)
	assert.Equal(t, "c-9", p.CRMContactID)
	assert.Equal(t, string(match.MethodPhone), p.MatchMethod)

	// Consent advances only when a token is explicitly requested, never
	// during reconciliation.
	assert.Equal(t, patient.ConsentPending, p.ConsentStatus)
	assert.Empty(t, p.ConsentToken)

	require.Len(t, archive.saved, 1)
	assert.Equal(t, summary.RunID, archive.saved[0].RunID)
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "Patricia", "Jones", "2055550100"},
		{"2", "Robert", "Smith", "2055550101"},
	})

	store := patient.NewMemStore()
	svc := NewService(testConfig(dir), store, &fakeCRM{}, nil, nil, zap.NewNop())

	first, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)

	before1, _ := store.GetByRosterKey(context.Background(), "1")
	before2, _ := store.GetByRosterKey(context.Background(), "2")

	second, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Updated)
	assert.Equal(t, 2, store.Len())

	after1, _ := store.GetByRosterKey(context.Background(), "1")
	after2, _ := store.GetByRosterKey(context.Background(), "2")

	assertSameIdentity := func(a, b *patient.Patient) {
		assert.Equal(t, a.ID, b.ID)
		assert.Equal(t, a.FirstName, b.FirstName)
		assert.Equal(t, a.LastName, b.LastName)
		assert.Equal(t, a.Phone, b.Phone)
		assert.Equal(t, a.EnrollmentTier, b.EnrollmentTier)
		assert.Equal(t, a.CRMContactID, b.CRMContactID)
		assert.Equal(t, a.MatchMethod, b.MatchMethod)
		assert.Equal(t, a.ConsentStatus, b.ConsentStatus)
		assert.Equal(t, a.ConsentToken, b.ConsentToken)
		assert.Equal(t, a.Notes, b.Notes)
	}
	assertSameIdentity(before1, after1)
	assertSameIdentity(before2, after2)
}

func TestRunNeverDowngradesConsent(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "Patricia", "Jones", "2055550100"},
	})

	store := patient.NewMemStore()
	svc := NewService(testConfig(dir), store, &fakeCRM{}, nil, nil, zap.NewNop())
	_, err := svc.Run(context.Background())
	require.NoError(t, err)

	// Operator records a decline, a token and a note.
	decidedAt := time.Now().UTC()
	require.NoError(t, store.UpdateOperatorFields(context.Background(), "1", patient.OperatorFields{
		ConsentStatus:    patient.ConsentDeclined,
		ConsentDecidedAt: &decidedAt,
		Notes:            "declined by phone 2026-08-01",
		ElectionFlags:    []string{"no_sms"},
	}))
	require.NoError(t, store.BindToken(context.Background(), "1", "TOKEN1234", time.Now().Add(720*time.Hour)))

	// The roster changes the phone number; rerun.
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "Patricia", "Jones", "2055559999"},
	})
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	p, err := store.GetByRosterKey(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "2055559999", p.Phone, "demographics follow the source")
	assert.Equal(t, patient.ConsentDeclined, p.ConsentStatus, "consent decision preserved")
	assert.NotNil(t, p.ConsentDecidedAt)
	assert.Equal(t, "TOKEN1234", p.ConsentToken, "token preserved")
	assert.Equal(t, "declined by phone 2026-08-01", p.Notes, "notes preserved")
	assert.Equal(t, []string{"no_sms"}, p.ElectionFlags)
}

func TestRunDegradesWhenCRMDown(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "Patricia", "Jones", "2055550100"},
	})

	store := patient.NewMemStore()
	svc := NewService(testConfig(dir), store, &fakeCRM{down: true}, nil, nil, zap.NewNop())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err, "a CRM outage must not block loading new patients")
	assert.True(t, summary.CRMDegraded)
	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 0, summary.CRMMatched)
	assert.Equal(t, 1, summary.Unmatched)

	p, err := store.GetByRosterKey(context.Background(), "1")
	require.NoError(t, err)
	assert.Empty(t, p.CRMContactID)
	assert.Equal(t, string(match.MethodNone), p.MatchMethod)
}

func TestRunNoRosterFileIsFatal(t *testing.T) {
	svc := NewService(testConfig(t.TempDir()), patient.NewMemStore(), &fakeCRM{}, nil, nil, zap.NewNop())
	_, err := svc.Run(context.Background())
	require.ErrorIs(t, err, ErrNoRoster)
}

func TestRunMissingEnrollmentIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name"},
		{"1", "Patricia", "Jones"},
	})

	svc := NewService(testConfig(dir), patient.NewMemStore(), &fakeCRM{}, nil, nil, zap.NewNop())
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Imported)
	assert.Zero(t, summary.EnrollmentMatched)
}

// flakyStore fails every write for one roster key, simulating a per-record
// integrity failure mid-batch.
type flakyStore struct {
	patient.Store
	failKey string
}

func (f *flakyStore) Create(ctx context.Context, p *patient.Patient) error {
	if p.RosterKey == f.failKey {
		return errors.New("integrity violation")
	}
	return f.Store.Create(ctx, p)
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(patient.Store) error) error {
	return f.Store.WithTx(ctx, func(tx patient.Store) error {
		return fn(&flakyStore{Store: tx, failKey: f.failKey})
	})
}

func TestRunRecordFailureDoesNotAbortBatch(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name"},
		{"1", "Patricia", "Jones"},
		{"2", "Robert", "Smith"},
		{"3", "Maria", "Garcia"},
	})

	mem := patient.NewMemStore()
	store := &flakyStore{Store: mem, failKey: "2"}
	svc := NewService(testConfig(dir), store, &fakeCRM{}, nil, nil, zap.NewNop())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Imported)
	require.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, loader.RowError{Row: 3, Reason: "store update failed"}, summary.Errors[0])

	// The failed record is fully skipped, not half-applied.
	_, err = mem.GetByRosterKey(context.Background(), "2")
	assert.ErrorIs(t, err, patient.ErrNotFound)
	assert.Equal(t, 2, mem.Len())
}

func TestRunRecordFailureDoesNotInflateMatchCounters(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name", "Phone"},
		{"1", "Patricia", "Jones", "2055550100"},
		{"2", "Robert", "Smith", "2055550101"},
	})
	writeXLSX(t, filepath.Join(dir, "enrollment.xlsx"), [][]string{
		{"MRN", "Level 1"},
		{"1", "99426"},
		{"2", "99426"},
	})

	// Both records match a CRM contact and carry enrollment, but record 2
	// fails its transaction, so only record 1 may count as matched.
	crmClient := &fakeCRM{contacts: []crm.Contact{
		{ID: "c-1", FirstName: "Patricia", LastName: "Jones", Phone: "2055550100"},
		{ID: "c-2", FirstName: "Robert", LastName: "Smith", Phone: "2055550101"},
	}}
	store := &flakyStore{Store: patient.NewMemStore(), failKey: "2"}
	svc := NewService(testConfig(dir), store, crmClient, nil, nil, zap.NewNop())

	summary, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Imported)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.CRMMatched)
	assert.Equal(t, 1, summary.EnrollmentMatched)
	assert.Equal(t, 0, summary.Unmatched)
}

func TestRunRowErrorsCarryNoPHI(t *testing.T) {
	dir := t.TempDir()
	writeXLSX(t, filepath.Join(dir, "roster.xlsx"), [][]string{
		{"MRN", "First Name", "Last Name"},
		{"", "Patricia", "Jones"},
		{"1", "Robert", "Smith"},
	})

	svc := NewService(testConfig(dir), patient.NewMemStore(), &fakeCRM{}, nil, nil, zap.NewNop())
	summary, err := svc.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.ErrorCount)
	assert.NotContains(t, summary.Errors[0].Reason, "Patricia")
	assert.NotContains(t, summary.Errors[0].Reason, "Jones")
}
