package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mesikahq/clinic-sync/internal/patient"
	"github.com/mesikahq/clinic-sync/internal/reconcile"
	"github.com/mesikahq/clinic-sync/internal/token"
)

type Handler struct {
	reconcileService reconcile.Service
	tokenService     token.Service
	patientStore     patient.Store
	runs             reconcile.RunArchive
	consentBaseURL   string
	tokenTTLDays     int
}

func NewHandler(
	reconcileService reconcile.Service,
	tokenService token.Service,
	patientStore patient.Store,
	runs reconcile.RunArchive,
	consentBaseURL string,
	tokenTTLDays int,
) *Handler {
	return &Handler{
		reconcileService: reconcileService,
		tokenService:     tokenService,
		patientStore:     patientStore,
		runs:             runs,
		consentBaseURL:   consentBaseURL,
		tokenTTLDays:     tokenTTLDays,
	}
}

// TriggerReconcile runs a full reconciliation pass synchronously and returns
// its summary. The pass is idempotent, so a repeated call is safe.
func (h *Handler) TriggerReconcile(c *gin.Context) {
	summary, err := h.reconcileService.Run(c.Request.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrNoRoster) {
			c.JSON(http.StatusConflict, gin.H{"error": "no roster file found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListRuns returns recent reconciliation summaries, newest first.
func (h *Handler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "run archive not configured"})
		return
	}

	limit := int64(20)
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 || parsed > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = parsed
	}

	summaries, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"runs": summaries})
}

// GetPatient returns one canonical patient by roster key. The consent token
// itself is never serialized.
func (h *Handler) GetPatient(c *gin.Context) {
	p, err := h.patientStore.GetByRosterKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load patient"})
		return
	}

	c.JSON(http.StatusOK, p)
}

func nowUTC() time.Time { return time.Now().UTC() }

type updateOperatorRequest struct {
	ConsentStatus string   `json:"consent_status" binding:"required,oneof=PENDING INVITED GRANTED DECLINED"`
	Notes         string   `json:"notes"`
	ElectionFlags []string `json:"election_flags"`
}

// UpdateOperatorFields writes the operator-owned slice of a patient. This is
// the only write path for consent decisions and notes; reconciliation never
// touches these fields.
func (h *Handler) UpdateOperatorFields(c *gin.Context) {
	var req updateOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := patient.OperatorFields{
		ConsentStatus: patient.ConsentStatus(req.ConsentStatus),
		Notes:         req.Notes,
		ElectionFlags: req.ElectionFlags,
	}
	if fields.ConsentStatus == patient.ConsentGranted || fields.ConsentStatus == patient.ConsentDeclined {
		decidedAt := nowUTC()
		fields.ConsentDecidedAt = &decidedAt
	}

	if err := h.patientStore.UpdateOperatorFields(c.Request.Context(), c.Param("key"), fields); err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update patient"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// CreateToken issues (or reissues) a consent token for one patient and
// returns the outreach link.
func (h *Handler) CreateToken(c *gin.Context) {
	key := c.Param("key")

	tok, expiresAt, err := h.tokenService.Create(c.Request.Context(), key, h.tokenTTLDays)
	if err != nil {
		switch {
		case errors.Is(err, patient.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found"})
		case errors.Is(err, token.ErrSpaceExhausted):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token generation exhausted, retry later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		}
		return
	}

	link, err := token.Link(h.consentBaseURL, tok)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build consent link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      tok,
		"expires_at": expiresAt,
		"link":       link,
	})
}

type batchTokenRequest struct {
	RosterKeys []string `json:"roster_keys" binding:"required,min=1,max=10000"`
}

// CreateTokenBatch issues tokens for many patients in one call, reporting
// per-key outcomes. Individual failures never abort the batch.
func (h *Handler) CreateTokenBatch(c *gin.Context) {
	var req batchTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := h.tokenService.CreateBatch(c.Request.Context(), req.RosterKeys, h.tokenTTLDays)

	succeeded := 0
	for _, res := range results {
		if res.Err == "" {
			succeeded++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"requested": len(req.RosterKeys),
		"succeeded": succeeded,
		"results":   results,
	})
}

// ValidateConsentToken resolves a consent token to its patient. Expired
// tokens resolve with an expired flag so the consent page can offer a
// re-invite path instead of a dead end.
func (h *Handler) ValidateConsentToken(c *gin.Context) {
	tok := c.Query("token")
	if tok == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token query parameter is required"})
		return
	}

	v, err := h.tokenService.Validate(c.Request.Context(), tok)
	if err != nil {
		if errors.Is(err, patient.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"roster_key":     v.Patient.RosterKey,
		"first_name":     v.Patient.FirstName,
		"preferred_name": v.Patient.PreferredName,
		"last_name":      v.Patient.LastName,
		"consent_status": v.Patient.ConsentStatus,
		"expired":        v.Expired,
	})
}
