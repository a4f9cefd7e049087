// Package token manages the consent-token lifecycle: opaque, time-bound
// tokens bound 1:1 to canonical patients, generated collision-free and
// validated on read. Tokens gate the consent-outreach phase of the same
// identity-bound workflow the reconciler feeds.
package token

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/audit"
	"github.com/mesikahq/clinic-sync/internal/patient"
)

const (
	// Length of every issued token. 32 alphanumeric characters is ~190 bits
	// of entropy; collisions are practically unreachable but still handled.
	Length = 32

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	// maxAttempts bounds the collision retry loop. The store's unique
	// constraint is the authoritative collision guard; the retry is the
	// recovery mechanism, not the correctness mechanism.
	maxAttempts = 10
)

// ErrSpaceExhausted is returned when the collision retry bound is reached.
// Callers decide whether to retry the request later.
var ErrSpaceExhausted = errors.New("token space exhausted")

// Validation is the result of a token lookup. An expired token still
// resolves, since support staff need to look it up, but Expired tells calling
// code it must not be treated as a live invitation.
type Validation struct {
	Patient *patient.Patient
	Expired bool
}

// BatchResult reports one patient's outcome in a batch creation.
type BatchResult struct {
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Err       string    `json:"error,omitempty"`
}

type Service interface {
	Create(ctx context.Context, rosterKey string, ttlDays int) (string, time.Time, error)
	CreateBatch(ctx context.Context, rosterKeys []string, ttlDays int) map[string]BatchResult
	Validate(ctx context.Context, tok string) (*Validation, error)
}

type service struct {
	store  patient.Store
	audit  audit.Service
	logger *zap.Logger

	// newToken is swapped for a deterministic source in tests.
	newToken func() (string, error)
	now      func() time.Time
}

func NewService(store patient.Store, auditSvc audit.Service, logger *zap.Logger) Service {
	return &service{
		store:    store,
		audit:    auditSvc,
		logger:   logger,
		newToken: randomToken,
		now:      time.Now,
	}
}

func randomToken() (string, error) {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out), nil
}

// Create issues a token for one patient, retrying on collision up to
// maxAttempts. On success the patient's consent status, if still in its
// untouched pending state, advances to invited and the outreach time is
// stamped.
func (s *service) Create(ctx context.Context, rosterKey string, ttlDays int) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(ttlDays) * 24 * time.Hour)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		tok, err := s.newToken()
		if err != nil {
			return "", time.Time{}, err
		}

		err = s.store.BindToken(ctx, rosterKey, tok, expiresAt)
		if errors.Is(err, patient.ErrDuplicateToken) {
			s.logger.Warn("token collision, retrying",
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return "", time.Time{}, err
		}

		if err := s.store.MarkInvited(ctx, rosterKey, now); err != nil {
			return "", time.Time{}, err
		}

		s.logTokenEvent(ctx, "CREATE", rosterKey, expiresAt)
		return tok, expiresAt, nil
	}
	return "", time.Time{}, ErrSpaceExhausted
}

// CreateBatch issues tokens for many patients under one expiry horizon,
// continuing past individual failures.
func (s *service) CreateBatch(ctx context.Context, rosterKeys []string, ttlDays int) map[string]BatchResult {
	results := make(map[string]BatchResult, len(rosterKeys))
	for _, key := range rosterKeys {
		tok, expiresAt, err := s.Create(ctx, key, ttlDays)
		if err != nil {
			results[key] = BatchResult{Err: err.Error()}
			continue
		}
		results[key] = BatchResult{Token: tok, ExpiresAt: expiresAt}
	}
	return results
}

// Validate resolves a token to its patient. Unknown tokens return
// patient.ErrNotFound. Expired tokens still resolve with Expired set;
// expiry-gating is the caller's concern, not lookup's.
func (s *service) Validate(ctx context.Context, tok string) (*Validation, error) {
	if tok == "" {
		return nil, patient.ErrNotFound
	}
	p, err := s.store.GetByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	expired := p.TokenExpiresAt != nil && p.TokenExpiresAt.Before(s.now().UTC())
	return &Validation{Patient: p, Expired: expired}, nil
}

// Link appends the token to a consent base URL as a query parameter,
// preserving any query string the base already carries.
func Link(baseURL, tok string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("token", tok)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *service) logTokenEvent(ctx context.Context, action, rosterKey string, expiresAt time.Time) {
	if s.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]any{"expires_at": expiresAt})
	if err := s.audit.LogEvent(ctx, &audit.Event{
		EventType:  audit.EventToken,
		Actor:      "system",
		Action:     action,
		Resource:   "consent_token",
		ResourceID: rosterKey,
		Status:     "success",
		Details:    json.RawMessage(details),
	}); err != nil {
		s.logger.Warn("audit log failed", zap.Error(err))
	}
}
