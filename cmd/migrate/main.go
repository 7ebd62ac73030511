package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/qlog"
)

// usage: migrate [up|down]
func main() {
	logger := qlog.NewDefault()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found")
	} else {
		logger.Info("loaded .env file")
	}

	ctx := context.Background()

	cfg := db.Config{
		Host:     "localhost",
		Port:     5432,
		User:     "apsflow",
		Password: "password",
		Database: "apsflow",
		SSLMode:  "disable",
	}

	if err := envconfig.Process("DB", &cfg); err != nil {
		logger.Fatalf("failed to process env vars: %v", err)
	}
	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("DATABASE_URL")
	}

	database, err := db.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	switch direction {
	case "up":
		err = db.Migrate(ctx, database, logger)
	case "down":
		err = db.Rollback(ctx, database, logger)
	default:
		logger.Fatalf("unknown direction %q, want up or down", direction)
	}
	if err != nil {
		logger.Fatalf("migration failed: %v", err)
	}
}
