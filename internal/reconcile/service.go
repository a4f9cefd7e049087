// Package reconcile orchestrates a full identity reconciliation pass: load
// the roster, index CRM contacts, load enrollment, then create-or-update each
// canonical patient while leaving operator-owned state strictly alone. A pass
// is a pure function of current inputs plus existing operator state, so
// re-running it with unchanged inputs is a no-op.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/audit"
	"github.com/mesikahq/clinic-sync/internal/crm"
	"github.com/mesikahq/clinic-sync/internal/loader"
	"github.com/mesikahq/clinic-sync/internal/match"
	"github.com/mesikahq/clinic-sync/internal/patient"
)

// ErrNoRoster aborts a whole pass: reconciling against an empty roster would
// be destructive, so a missing roster file is fatal, not a soft warning.
var ErrNoRoster = errors.New("no roster file found")

// Config names the input files and their shapes for one deployment.
type Config struct {
	SearchPaths        []string
	RosterPatterns     []string
	EnrollmentPatterns []string
	Roster             loader.RosterConfig
	Enrollment         loader.EnrollmentConfig
}

type Service interface {
	Run(ctx context.Context) (*Summary, error)
}

type service struct {
	cfg    Config
	store  patient.Store
	crm    crm.Client
	audit  audit.Service
	runs   RunArchive
	logger *zap.Logger
}

// NewService wires the reconciler. The CRM client and run archive may be nil;
// the pass then runs unmatched and unarchived respectively. The store is
// required.
func NewService(cfg Config, store patient.Store, crmClient crm.Client, auditSvc audit.Service, runs RunArchive, logger *zap.Logger) Service {
	return &service{
		cfg:    cfg,
		store:  store,
		crm:    crmClient,
		audit:  auditSvc,
		runs:   runs,
		logger: logger,
	}
}

func (s *service) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}

	// 1. Roster is the fatal precondition.
	rosterPath, err := loader.Discover(s.cfg.SearchPaths, s.cfg.RosterPatterns)
	if err != nil {
		if errors.Is(err, loader.ErrNoFile) {
			return nil, ErrNoRoster
		}
		return nil, err
	}
	roster, err := loader.LoadRoster(rosterPath, s.cfg.Roster)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	for _, e := range roster.Errors {
		summary.addError(e)
	}
	s.logger.Info("roster loaded",
		zap.String("run_id", summary.RunID),
		zap.Int("records", len(roster.Records)),
		zap.Int("rejected_rows", len(roster.Errors)),
	)

	// 2. Contact matching degrades gracefully; loading does not. A CRM
	// outage must not block new patients.
	index := s.buildContactIndex(ctx, summary)

	// 3. Enrollment is optional per-patient and per-deployment.
	enrollment := s.loadEnrollment(summary)

	// 4. One transaction per roster record: fully applied or fully skipped.
	for _, rec := range roster.Records {
		s.applyRecord(ctx, rec, index, enrollment, summary)
	}

	summary.FinishedAt = time.Now().UTC()
	s.finishRun(ctx, summary)
	return summary, nil
}

func (s *service) buildContactIndex(ctx context.Context, summary *Summary) *match.ContactIndex {
	if s.crm == nil {
		summary.CRMDegraded = true
		return nil
	}
	if !s.crm.TestConnection(ctx) {
		s.logger.Warn("crm connection test failed; continuing without matching", zap.String("run_id", summary.RunID))
		summary.CRMDegraded = true
		return nil
	}
	contacts, err := s.crm.GetContacts(ctx)
	if err != nil {
		s.logger.Warn("crm contact fetch failed; continuing without matching",
			zap.String("run_id", summary.RunID), zap.Error(err))
		summary.CRMDegraded = true
		return nil
	}
	summary.CRMTotal = len(contacts)
	return match.BuildIndex(contacts)
}

func (s *service) loadEnrollment(summary *Summary) map[string]loader.EnrollmentRecord {
	path, err := loader.Discover(s.cfg.SearchPaths, s.cfg.EnrollmentPatterns)
	if errors.Is(err, loader.ErrNoFile) {
		return nil
	}
	if err != nil {
		s.logger.Warn("enrollment discovery failed; continuing without enrollment", zap.Error(err))
		return nil
	}
	res, err := loader.LoadEnrollment(path, s.cfg.Enrollment)
	if err != nil {
		s.logger.Warn("enrollment load failed; continuing without enrollment", zap.Error(err))
		return nil
	}
	for _, e := range res.Errors {
		summary.addError(e)
	}

	// Keyed by roster key. A key on both partitions resolves to the removed
	// record: removal is the later state.
	byKey := make(map[string]loader.EnrollmentRecord, len(res.Records))
	for _, rec := range res.Records {
		if prev, ok := byKey[rec.RosterKey]; ok && prev.Status == loader.EnrollmentRemoved {
			continue
		}
		byKey[rec.RosterKey] = rec
	}
	return byKey
}

func (s *service) applyRecord(ctx context.Context, rec loader.RosterRecord, index *match.ContactIndex, enrollment map[string]loader.EnrollmentRecord, summary *Summary) {
	res := match.Result{Method: match.MethodNone}
	if index != nil {
		res = index.Match(match.Record{
			FirstName:   rec.FirstName,
			LastName:    rec.LastName,
			Phone:       rec.Phone,
			Email:       rec.Email,
			DateOfBirth: rec.DateOfBirth,
		})
	}
	enr, hasEnrollment := enrollment[rec.RosterKey]
	source := sourceFields(rec, enr, hasEnrollment)
	matchFields := patient.MatchFields{
		CRMContactID:    res.ContactID,
		MatchMethod:     string(res.Method),
		MatchConfidence: res.Confidence,
	}

	var created, enrollmentChanged bool
	err := s.store.WithTx(ctx, func(tx patient.Store) error {
		existing, err := tx.GetByRosterKey(ctx, rec.RosterKey)
		if errors.Is(err, patient.ErrNotFound) {
			created = true
			return tx.Create(ctx, &patient.Patient{
				RosterKey:        rec.RosterKey,
				FirstName:        source.FirstName,
				PreferredName:    source.PreferredName,
				MiddleName:       source.MiddleName,
				LastName:         source.LastName,
				DateOfBirth:      source.DateOfBirth,
				Phone:            source.Phone,
				Email:            source.Email,
				Address:          source.Address,
				City:             source.City,
				State:            source.State,
				Zip:              source.Zip,
				Insurance:        source.Insurance,
				EnrollmentTier:   source.EnrollmentTier,
				EnrollmentCodes:  source.EnrollmentCodes,
				EnrollmentStatus: source.EnrollmentStatus,
				RemovalNote:      source.RemovalNote,
				CRMContactID:     matchFields.CRMContactID,
				MatchMethod:      matchFields.MatchMethod,
				MatchConfidence:  matchFields.MatchConfidence,
				// Operator-owned fields start in their untouched state:
				// consent pending, no token, no notes.
			})
		}
		if err != nil {
			return err
		}

		enrollmentChanged = hasEnrollment &&
			(existing.EnrollmentTier != source.EnrollmentTier ||
				existing.EnrollmentCodes != source.EnrollmentCodes ||
				existing.EnrollmentStatus != source.EnrollmentStatus)

		// Only source-owned and match-derived fields; operator-owned state
		// is untouched no matter what this run's sources say.
		if err := tx.UpdateSourceFields(ctx, rec.RosterKey, source); err != nil {
			return err
		}
		return tx.UpdateMatchFields(ctx, rec.RosterKey, matchFields)
	})
	if err != nil {
		s.logger.Error("record update failed",
			zap.String("run_id", summary.RunID),
			zap.Int("row", rec.Row),
			zap.Error(err),
		)
		summary.addError(loader.RowError{Row: rec.Row, Reason: "store update failed"})
		return
	}

	// Counters describe applied records only; a record that failed its
	// transaction counts solely as an error.
	if created {
		summary.Imported++
	} else {
		summary.Updated++
	}
	if res.Matched {
		summary.CRMMatched++
	} else {
		summary.Unmatched++
	}
	if hasEnrollment {
		summary.EnrollmentMatched++
	}
	if enrollmentChanged {
		summary.EnrollmentUpdated++
	}
}

func sourceFields(rec loader.RosterRecord, enr loader.EnrollmentRecord, hasEnrollment bool) patient.SourceFields {
	f := patient.SourceFields{
		FirstName:     rec.FirstName,
		PreferredName: rec.PreferredName,
		MiddleName:    rec.MiddleName,
		LastName:      rec.LastName,
		DateOfBirth:   rec.DateOfBirth,
		Phone:         rec.Phone,
		Email:         rec.Email,
		Address:       rec.Address,
		City:          rec.City,
		State:         rec.State,
		Zip:           rec.Zip,
		Insurance:     rec.Insurance,
	}
	if hasEnrollment {
		f.EnrollmentTier = enr.Tier
		f.EnrollmentCodes = enr.TierCodes
		f.EnrollmentStatus = string(enr.Status)
		f.RemovalNote = enr.RemovalNote
	}
	return f
}

func (s *service) finishRun(ctx context.Context, summary *Summary) {
	s.logger.Info("reconciliation pass finished",
		zap.String("run_id", summary.RunID),
		zap.Int("imported", summary.Imported),
		zap.Int("updated", summary.Updated),
		zap.Int("crm_matched", summary.CRMMatched),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("errors", summary.ErrorCount),
		zap.Bool("crm_degraded", summary.CRMDegraded),
	)

	if s.audit != nil {
		details, err := json.Marshal(summary)
		if err == nil {
			if logErr := s.audit.LogEvent(ctx, &audit.Event{
				EventType: audit.EventReconcile,
				Actor:     "system",
				Action:    "RUN",
				Resource:  "reconciliation",
				RunID:     summary.RunID,
				Status:    "success",
				Details:   json.RawMessage(details),
			}); logErr != nil {
				s.logger.Warn("audit log failed", zap.Error(logErr))
			}
		}
	}

	if s.runs != nil {
		if err := s.runs.Save(ctx, summary); err != nil {
			s.logger.Warn("run archive save failed", zap.Error(err))
		}
	}
}
