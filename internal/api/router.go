package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mesikahq/clinic-sync/internal/middleware"
)

type RouterConfig struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type Router struct {
	handler *Handler
	cfg     RouterConfig
}

func NewRouter(handler *Handler, cfg RouterConfig) *Router {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 40
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Router{handler: handler, cfg: cfg}
}

func (r *Router) SetupRouter(logger *zap.Logger) *gin.Engine {
	router := gin.New()

	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.SecurityHeadersMiddleware(),
		middleware.RecoveryMiddleware(logger),
		middleware.LoggerMiddleware(logger),
		middleware.AuditContextMiddleware(),
		middleware.TimeoutMiddleware(r.cfg.Timeout),
		middleware.RateLimitMiddleware(rate.Limit(r.cfg.RequestsPerSecond), r.cfg.Burst),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api/v1")
	{
		api.POST("/reconcile", r.handler.TriggerReconcile)
		api.GET("/reconcile/runs", r.handler.ListRuns)

		patients := api.Group("/patients")
		{
			patients.GET("/:key", r.handler.GetPatient)
			patients.PUT("/:key/operator", r.handler.UpdateOperatorFields)
			patients.POST("/:key/token", r.handler.CreateToken)
		}

		api.POST("/tokens/batch", r.handler.CreateTokenBatch)
		api.GET("/consent/validate", r.handler.ValidateConsentToken)
	}

	return router
}
