package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/api"
	"github.com/mesikahq/clinic-sync/internal/audit"
	"github.com/mesikahq/clinic-sync/internal/config"
	"github.com/mesikahq/clinic-sync/internal/crm"
	"github.com/mesikahq/clinic-sync/internal/database"
	"github.com/mesikahq/clinic-sync/internal/loader"
	"github.com/mesikahq/clinic-sync/internal/patient"
	"github.com/mesikahq/clinic-sync/internal/reconcile"
	"github.com/mesikahq/clinic-sync/internal/token"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Error loading .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.Server.Mode)

	ctx := context.Background()

	// Initialize PostgreSQL connection
	db, err := database.Connect(ctx, database.PostgresConfig{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Name,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		SSLMode:     cfg.Database.SSLMode,
		MaxPoolSize: int32(cfg.Database.MaxPoolSize),
		ConnTimeout: cfg.Database.ConnTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.Disconnect(db)

	// Initialize Elasticsearch client for the audit trail
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Elasticsearch.URL},
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
	}
	auditService := audit.NewService(esClient)

	// Initialize MongoDB for reconciliation run history. The archive is
	// optional; the server degrades to unarchived runs if Mongo is down.
	var runs reconcile.RunArchive
	mongoClient, err := database.NewMongoClient(ctx, database.MongoConfig{
		URI: cfg.Mongo.URI,
	})
	if err != nil {
		logger.Warn("Run archive unavailable, continuing without it", zap.Error(err))
	} else {
		defer mongoClient.Disconnect(ctx)
		runs = reconcile.NewMongoArchive(mongoClient.Database(cfg.Mongo.Database))
	}

	// Merge deployment-specific spreadsheet header aliases
	if cfg.Data.ColumnAliasFile != "" {
		if err := loader.LoadAliasOverrides(cfg.Data.ColumnAliasFile); err != nil {
			logger.Fatal("Failed to load column alias overrides", zap.Error(err))
		}
	}

	// Initialize services
	store := patient.NewStore(db)
	crmClient := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, logger)
	reconcileService := reconcile.NewService(reconcile.Config{
		SearchPaths:        cfg.Data.SearchPaths,
		RosterPatterns:     cfg.Data.RosterPatterns,
		EnrollmentPatterns: cfg.Data.EnrollmentPatterns,
		Roster: loader.RosterConfig{
			Sheet:     cfg.Data.Roster.Sheet,
			HeaderRow: cfg.Data.Roster.HeaderRow,
		},
		Enrollment: loader.EnrollmentConfig{
			ActiveSheet:      cfg.Data.Enrollment.ActiveSheet,
			RemovedSheet:     cfg.Data.Enrollment.RemovedSheet,
			ActiveHeaderRow:  cfg.Data.Enrollment.ActiveHeaderRow,
			RemovedHeaderRow: cfg.Data.Enrollment.RemovedHeaderRow,
		},
	}, store, crmClient, auditService, runs, logger)
	tokenService := token.NewService(store, auditService, logger)

	// Initialize handler and router
	handler := api.NewHandler(
		reconcileService,
		tokenService,
		store,
		runs,
		cfg.Consent.LinkBaseURL,
		cfg.Consent.TokenTTLDays,
	)
	router := api.NewRouter(handler, api.RouterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Timeout:           cfg.Server.Timeout,
	})
	engine := router.SetupRouter(logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Info("Server exiting")
}
