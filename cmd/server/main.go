package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/cache"
	"github.com/smartwords/api/internal/config"
	"github.com/smartwords/api/internal/database"
	"github.com/smartwords/api/internal/handler"
	"github.com/smartwords/api/internal/llm"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/ratelimit"
	"github.com/smartwords/api/internal/service"
	"github.com/smartwords/api/internal/validator"
	"golang.org/x/oauth2"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg := config.Load()

	appLog, err := logger.NewWithOptions(logger.Options{Mode: cfg.LogMode, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		appLog.Fatal("Failed to connect to database", "error", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			appLog.Fatal("Failed to migrate database", "error", err)
		}
	}

	// Redis backs the replay cache and rate-limit counters. Without it both
	// fall back to process memory.
	var (
		replayCache service.ReplayCache = cache.NewMemoryCache()
		counter     ratelimit.Counter
	)
	redisClient, err := cache.NewClient(cfg.RedisURL)
	if err != nil {
		appLog.Warn("Redis unavailable, using in-memory cache and limits", "error", err)
	} else {
		defer redisClient.Close()
		replayCache = cache.NewRedisCache(redisClient, "smartwords:")
		counter = ratelimit.NewRedisStorage(redisClient)
	}

	if err := validator.Register(); err != nil {
		appLog.Fatal("Failed to register validators", "error", err)
	}

	if cfg.OpenRouterAPIKey == "" {
		appLog.Warn("OPENROUTER_API_KEY is not set, generation requests will fail")
	}
	llmClient := llm.NewOpenRouterClient(llm.Config{
		APIKey:       cfg.OpenRouterAPIKey,
		BaseURL:      cfg.OpenRouterBaseURL,
		Timeout:      cfg.OpenRouterTimeout,
		MaxRetries:   cfg.OpenRouterMaxRetries,
		DefaultModel: cfg.DefaultModel,
		AppURL:       cfg.AppURL,
		AppName:      cfg.AppName,
	}, appLog)

	limiter := ratelimit.NewLimiter(counter, ratelimit.DefaultLimits(cfg.GenerateRateLimit), appLog)

	events := service.NewEventRecorder(db, appLog)
	usage := service.NewUsageService(db, cfg.DailyGenerationLimit, appLog)
	sets := service.NewSetService(db, events, appLog)
	sessions := service.NewSessionService(db, events, appLog)
	generation := service.NewGenerationService(db, llmClient, usage, replayCache, events, cfg.DefaultModel, appLog)
	dashboard := service.NewDashboardService(db, sessions, usage)
	authService := service.NewAuthService(db, cfg.JWTSecret, service.NewLogMailer(appLog, cfg.FrontendURL), appLog)

	var googleConfig *oauth2.Config
	if cfg.GoogleEnabled() {
		googleConfig = auth.NewGoogleConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL)
	}

	r := handler.NewRouter(handler.RouterDeps{
		Log:         appLog,
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     limiter,
		Sets:        handler.NewSetHandler(sets),
		Export:      handler.NewExportHandler(sets),
		Generation:  handler.NewGenerationHandler(generation, appLog),
		Sessions:    handler.NewSessionHandler(sessions),
		Usage:       handler.NewUsageHandler(usage, dashboard, limiter),
		Auth:        handler.NewAuthHandler(authService, googleConfig, cfg.FrontendURL, appLog),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		appLog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal("Failed to start server", "error", err)
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Graceful shutdown failed", "error", err)
	}
}
