package patient

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by tests and the local dev mode. It
// mirrors the PostgreSQL store's semantics, including token uniqueness and
// transactional (all-or-nothing) WithTx application.
type MemStore struct {
	mu       sync.Mutex
	patients map[string]*Patient // keyed by roster key
}

func NewMemStore() *MemStore {
	return &MemStore{patients: make(map[string]*Patient)}
}

func clonePatient(p *Patient) *Patient {
	cp := *p
	if p.DateOfBirth != nil {
		d := *p.DateOfBirth
		cp.DateOfBirth = &d
	}
	if p.ConsentDecidedAt != nil {
		d := *p.ConsentDecidedAt
		cp.ConsentDecidedAt = &d
	}
	if p.TokenExpiresAt != nil {
		d := *p.TokenExpiresAt
		cp.TokenExpiresAt = &d
	}
	if p.InvitedAt != nil {
		d := *p.InvitedAt
		cp.InvitedAt = &d
	}
	cp.ElectionFlags = append([]string(nil), p.ElectionFlags...)
	return &cp
}

func (m *MemStore) GetByRosterKey(ctx context.Context, rosterKey string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePatient(p), nil
}

func (m *MemStore) GetByToken(ctx context.Context, token string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token == "" {
		return nil, ErrNotFound
	}
	for _, p := range m.patients {
		if p.ConsentToken == token {
			return clonePatient(p), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) Create(ctx context.Context, p *Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.patients[p.RosterKey]; exists {
		return ErrDuplicateKey
	}
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
	m.patients[p.RosterKey] = clonePatient(p)
	return nil
}

func (m *MemStore) UpdateSourceFields(ctx context.Context, rosterKey string, f SourceFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return ErrNotFound
	}
	p.FirstName = f.FirstName
	p.PreferredName = f.PreferredName
	p.MiddleName = f.MiddleName
	p.LastName = f.LastName
	p.DateOfBirth = f.DateOfBirth
	p.Phone = f.Phone
	p.Email = f.Email
	p.Address = f.Address
	p.City = f.City
	p.State = f.State
	p.Zip = f.Zip
	p.Insurance = f.Insurance
	p.EnrollmentTier = f.EnrollmentTier
	p.EnrollmentCodes = f.EnrollmentCodes
	p.EnrollmentStatus = f.EnrollmentStatus
	p.RemovalNote = f.RemovalNote
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) UpdateMatchFields(ctx context.Context, rosterKey string, f MatchFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return ErrNotFound
	}
	p.CRMContactID = f.CRMContactID
	p.MatchMethod = f.MatchMethod
	p.MatchConfidence = f.MatchConfidence
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) UpdateOperatorFields(ctx context.Context, rosterKey string, f OperatorFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return ErrNotFound
	}
	p.ConsentStatus = f.ConsentStatus
	p.ConsentDecidedAt = f.ConsentDecidedAt
	p.Notes = f.Notes
	p.ElectionFlags = append([]string(nil), f.ElectionFlags...)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) BindToken(ctx context.Context, rosterKey, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return ErrNotFound
	}
	for key, other := range m.patients {
		if key != rosterKey && other.ConsentToken == token {
			return ErrDuplicateToken
		}
	}
	p.ConsentToken = token
	exp := expiresAt
	p.TokenExpiresAt = &exp
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) MarkInvited(ctx context.Context, rosterKey string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[rosterKey]
	if !ok {
		return ErrNotFound
	}
	if p.ConsentStatus == ConsentPending {
		p.ConsentStatus = ConsentInvited
		stamp := at
		p.InvitedAt = &stamp
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// WithTx applies fn to a snapshot and commits only on success, matching the
// per-record all-or-nothing discipline of the SQL store.
func (m *MemStore) WithTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	snapshot := make(map[string]*Patient, len(m.patients))
	for k, v := range m.patients {
		snapshot[k] = clonePatient(v)
	}
	m.mu.Unlock()

	tmp := &MemStore{patients: snapshot}
	if err := fn(tmp); err != nil {
		return err
	}

	m.mu.Lock()
	m.patients = tmp.patients
	m.mu.Unlock()
	return nil
}

// Len reports the number of stored patients.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.patients)
}

var _ Store = (*MemStore)(nil)
