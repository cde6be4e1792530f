// Command session-sweep closes exercise sessions left open past -max-age
// with completed_reason "abandoned". Meant to run from cron.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/smartwords/api/internal/config"
	"github.com/smartwords/api/internal/database"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/service"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Count stale sessions without finishing them")
	maxAge := flag.Duration("max-age", 24*time.Hour, "Finish active sessions started longer ago than this")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()

	appLog, err := logger.NewWithOptions(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	startTime := time.Now()
	appLog.Info("Starting session sweep", "max_age", maxAge.String(), "dry_run", *dryRun)

	db, err := database.Connect(cfg)
	if err != nil {
		appLog.Fatal("Failed to connect to database", "error", err)
	}

	sessions := service.NewSessionService(db, service.NewEventRecorder(db, appLog), appLog)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := sessions.FinishStale(ctx, *maxAge, *dryRun)
	if err != nil {
		appLog.Fatal("Session sweep failed", "error", err, "finished", count)
	}

	if *dryRun {
		appLog.Info("[DRY RUN] No changes made", "stale_sessions", count)
		return
	}
	appLog.Info("Session sweep complete", "finished", count, "elapsed", time.Since(startTime).String())
}
