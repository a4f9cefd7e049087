package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mesikahq/clinic-sync/internal/database"
	"github.com/mesikahq/clinic-sync/internal/database/migrate"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found")
	}

	command := flag.String("command", "up", "Migration command (up/down)")
	migrationsDir := flag.String("dir", "migrations", "Migrations directory")
	flag.Parse()

	pgConfig := database.PostgresConfig{
		Host:        getEnv("POSTGRES_HOST", "localhost"),
		Port:        getEnvAsInt("POSTGRES_PORT", 5432),
		User:        getEnv("POSTGRES_USER", "clinic_sync"),
		Password:    getEnv("POSTGRES_PASSWORD", ""),
		Database:    getEnv("POSTGRES_DB", "clinic_sync"),
		SSLMode:     getEnv("POSTGRES_SSLMODE", "disable"),
		MaxPoolSize: 2,
		ConnTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.Connect(ctx, pgConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Disconnect(pool)

	absPath, err := filepath.Abs(*migrationsDir)
	if err != nil {
		log.Fatalf("Failed to get absolute path: %v", err)
	}

	manager := migrate.NewManager(pool, absPath)

	if err := manager.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize migrations: %v", err)
	}

	switch *command {
	case "up":
		if err := manager.Up(ctx); err != nil {
			log.Fatalf("Failed to apply migrations: %v", err)
		}
		fmt.Println("Successfully applied all pending migrations")

	case "down":
		if err := manager.Down(ctx); err != nil {
			log.Fatalf("Failed to roll back migration: %v", err)
		}
		fmt.Println("Successfully rolled back last migration")

	default:
		log.Fatalf("Unknown command: %s", *command)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}
