// Command reconcile runs one reconciliation pass and exits. It is the
// cron-friendly counterpart to the server's POST /api/v1/reconcile.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mesikahq/clinic-sync/internal/audit"
	"github.com/mesikahq/clinic-sync/internal/config"
	"github.com/mesikahq/clinic-sync/internal/crm"
	"github.com/mesikahq/clinic-sync/internal/database"
	"github.com/mesikahq/clinic-sync/internal/loader"
	"github.com/mesikahq/clinic-sync/internal/patient"
	"github.com/mesikahq/clinic-sync/internal/reconcile"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Error loading .env file: %v", err)
	}

	timeout := flag.Duration("timeout", 15*time.Minute, "Overall pass timeout")
	asJSON := flag.Bool("json", false, "Print the run summary as JSON")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

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

	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Elasticsearch.URL},
		Username:  cfg.Elasticsearch.Username,
		Password:  cfg.Elasticsearch.Password,
	})
	if err != nil {
		logger.Fatal("Failed to connect to Elasticsearch", zap.Error(err))
	}
	auditService := audit.NewService(esClient)

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

	if cfg.Data.ColumnAliasFile != "" {
		if err := loader.LoadAliasOverrides(cfg.Data.ColumnAliasFile); err != nil {
			logger.Fatal("Failed to load column alias overrides", zap.Error(err))
		}
	}

	store := patient.NewStore(db)
	crmClient := crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, logger)
	svc := reconcile.NewService(reconcile.Config{
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

	summary, err := svc.Run(ctx)
	if err != nil {
		logger.Fatal("Reconciliation failed", zap.Error(err))
	}

	if *asJSON {
		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			logger.Fatal("Failed to encode summary", zap.Error(err))
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Run %s finished: %d imported, %d updated, %d matched of %d CRM contacts, %d unmatched, %d errors\n",
			summary.RunID, summary.Imported, summary.Updated,
			summary.CRMMatched, summary.CRMTotal, summary.Unmatched, summary.ErrorCount)
	}

	if summary.ErrorCount > 0 {
		os.Exit(1)
	}
}
