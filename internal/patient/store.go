package patient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// Store is the canonical patient store consumed by the reconciler and the
// token lifecycle. Source-owned, match-derived and operator-owned field sets
// are independently updatable so no caller can clobber a class it does not
// own. WithTx scopes a function to one transaction; the reconciler wraps each
// roster record in one so a mid-record failure leaves that patient untouched.
type Store interface {
	GetByRosterKey(ctx context.Context, rosterKey string) (*Patient, error)
	GetByToken(ctx context.Context, token string) (*Patient, error)
	Create(ctx context.Context, p *Patient) error
	UpdateSourceFields(ctx context.Context, rosterKey string, f SourceFields) error
	UpdateMatchFields(ctx context.Context, rosterKey string, f MatchFields) error
	UpdateOperatorFields(ctx context.Context, rosterKey string, f OperatorFields) error
	// BindToken writes the token and expiry for one patient. The store's
	// unique constraint on the token column is the authoritative collision
	// guard: a colliding value returns ErrDuplicateToken.
	BindToken(ctx context.Context, rosterKey, token string, expiresAt time.Time) error
	MarkInvited(ctx context.Context, rosterKey string, at time.Time) error
	WithTx(ctx context.Context, fn func(Store) error) error
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgStore struct {
	pool *pgxpool.Pool
	q    querier
}

// NewStore builds the PostgreSQL-backed canonical patient store.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool, q: pool}
}

// consent_token is the only nullable text column (NULL keeps the unique
// constraint ignoring tokenless rows), so reads coalesce it back to "".
const patientColumns = `
	id, roster_key,
	first_name, preferred_name, middle_name, last_name, date_of_birth,
	phone, email, address, city, state, zip, insurance,
	enrollment_tier, enrollment_codes, enrollment_status, removal_note,
	crm_contact_id, match_method, match_confidence,
	consent_status, consent_decided_at, COALESCE(consent_token, ''), token_expires_at, invited_at,
	notes, election_flags,
	status, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var flags pq.StringArray
	err := row.Scan(
		&p.ID, &p.RosterKey,
		&p.FirstName, &p.PreferredName, &p.MiddleName, &p.LastName, &p.DateOfBirth,
		&p.Phone, &p.Email, &p.Address, &p.City, &p.State, &p.Zip, &p.Insurance,
		&p.EnrollmentTier, &p.EnrollmentCodes, &p.EnrollmentStatus, &p.RemovalNote,
		&p.CRMContactID, &p.MatchMethod, &p.MatchConfidence,
		&p.ConsentStatus, &p.ConsentDecidedAt, &p.ConsentToken, &p.TokenExpiresAt, &p.InvitedAt,
		&p.Notes, &flags,
		&p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.ElectionFlags = []string(flags)
	return &p, nil
}

func (s *pgStore) GetByRosterKey(ctx context.Context, rosterKey string) (*Patient, error) {
	row := s.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE roster_key = $1`, rosterKey)
	return scanPatient(row)
}

func (s *pgStore) GetByToken(ctx context.Context, token string) (*Patient, error) {
	row := s.q.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE consent_token = $1`, token)
	return scanPatient(row)
}

func (s *pgStore) Create(ctx context.Context, p *Patient) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.ConsentStatus == "" {
		p.ConsentStatus = ConsentPending
	}
	if p.Status == "" {
		p.Status = StatusActive
	}

	_, err := s.q.Exec(ctx, `
		INSERT INTO patients (
			id, roster_key,
			first_name, preferred_name, middle_name, last_name, date_of_birth,
			phone, email, address, city, state, zip, insurance,
			enrollment_tier, enrollment_codes, enrollment_status, removal_note,
			crm_contact_id, match_method, match_confidence,
			consent_status, consent_decided_at, consent_token, token_expires_at, invited_at,
			notes, election_flags,
			status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, NULLIF($24, ''), $25, $26, $27, $28, $29, $30, $31
		)`,
		p.ID, p.RosterKey,
		p.FirstName, p.PreferredName, p.MiddleName, p.LastName, p.DateOfBirth,
		p.Phone, p.Email, p.Address, p.City, p.State, p.Zip, p.Insurance,
		p.EnrollmentTier, p.EnrollmentCodes, p.EnrollmentStatus, p.RemovalNote,
		p.CRMContactID, p.MatchMethod, p.MatchConfidence,
		p.ConsentStatus, p.ConsentDecidedAt, p.ConsentToken, p.TokenExpiresAt, p.InvitedAt,
		p.Notes, pq.StringArray(p.ElectionFlags),
		p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err, "patients_roster_key_key") {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, p.RosterKey)
	}
	return err
}

func (s *pgStore) UpdateSourceFields(ctx context.Context, rosterKey string, f SourceFields) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE patients SET
			first_name = $2, preferred_name = $3, middle_name = $4, last_name = $5,
			date_of_birth = $6, phone = $7, email = $8,
			address = $9, city = $10, state = $11, zip = $12, insurance = $13,
			enrollment_tier = $14, enrollment_codes = $15, enrollment_status = $16,
			removal_note = $17, updated_at = $18
		WHERE roster_key = $1`,
		rosterKey,
		f.FirstName, f.PreferredName, f.MiddleName, f.LastName,
		f.DateOfBirth, f.Phone, f.Email,
		f.Address, f.City, f.State, f.Zip, f.Insurance,
		f.EnrollmentTier, f.EnrollmentCodes, f.EnrollmentStatus,
		f.RemovalNote, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdateMatchFields(ctx context.Context, rosterKey string, f MatchFields) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE patients SET
			crm_contact_id = $2, match_method = $3, match_confidence = $4, updated_at = $5
		WHERE roster_key = $1`,
		rosterKey, f.CRMContactID, f.MatchMethod, f.MatchConfidence, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) UpdateOperatorFields(ctx context.Context, rosterKey string, f OperatorFields) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE patients SET
			consent_status = $2, consent_decided_at = $3, notes = $4, election_flags = $5,
			updated_at = $6
		WHERE roster_key = $1`,
		rosterKey, f.ConsentStatus, f.ConsentDecidedAt, f.Notes, pq.StringArray(f.ElectionFlags),
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) BindToken(ctx context.Context, rosterKey, token string, expiresAt time.Time) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE patients SET consent_token = $2, token_expires_at = $3, updated_at = $4
		WHERE roster_key = $1`,
		rosterKey, token, expiresAt, time.Now().UTC(),
	)
	if isUniqueViolation(err, "patients_consent_token_key") {
		return ErrDuplicateToken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) MarkInvited(ctx context.Context, rosterKey string, at time.Time) error {
	// Advances PENDING to INVITED; any later status is an operator decision
	// and stays put.
	_, err := s.q.Exec(ctx, `
		UPDATE patients SET
			consent_status = $2, invited_at = $3, updated_at = $4
		WHERE roster_key = $1 AND consent_status = $5`,
		rosterKey, ConsentInvited, at, time.Now().UTC(), ConsentPending,
	)
	return err
}

func (s *pgStore) WithTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; nest flatly.
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return false
}
