package handler

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/middleware"
	"github.com/smartwords/api/internal/ratelimit"
)

type RouterDeps struct {
	Log         *logger.Logger
	JWTSecret   string
	CORSOrigins []string
	Limiter     *ratelimit.Limiter

	Sets       *SetHandler
	Export     *ExportHandler
	Generation *GenerationHandler
	Sessions   *SessionHandler
	Usage      *UsageHandler
	Auth       *AuthHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Log))
	r.Use(middleware.MetricsMiddleware())
	r.Use(cors.New(corsConfig(d.CORSOrigins)))

	r.GET("/health", Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	authLimit := middleware.RateLimit(d.Limiter, ratelimit.ActionAuth, middleware.ByIP)
	authRoutes := api.Group("/auth")
	{
		authRoutes.POST("/signup", authLimit, d.Auth.Signup)
		authRoutes.POST("/login", authLimit, d.Auth.Login)
		authRoutes.POST("/logout", d.Auth.Logout)
		authRoutes.POST("/recover", authLimit, d.Auth.Recover)
		authRoutes.POST("/exchange", authLimit, d.Auth.Exchange)
		authRoutes.POST("/reset-password", middleware.AuthMiddleware(d.JWTSecret), d.Auth.ResetPassword)
		if d.Auth.GoogleEnabled() {
			authRoutes.GET("/google", d.Auth.GoogleAuth)
			authRoutes.GET("/google/callback", d.Auth.GoogleCallback)
		}
	}

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(d.JWTSecret))
	{
		// Sets
		protected.POST("/sets", d.Sets.Create)
		protected.GET("/sets", d.Sets.List)
		protected.GET("/sets/:id", d.Sets.Get)
		protected.PATCH("/sets/:id", d.Sets.Update)
		protected.DELETE("/sets/:id", d.Sets.Delete)
		protected.POST("/sets/:id/words", d.Sets.AddWords)
		protected.PATCH("/sets/:id/words/:wordId", d.Sets.UpdateWord)
		protected.DELETE("/sets/:id/words/:wordId", d.Sets.DeleteWord)
		protected.GET("/sets/:id/export", d.Export.Export)
		protected.POST("/sets/:id/generate",
			middleware.RateLimit(d.Limiter, ratelimit.ActionGenerate, middleware.ByUser),
			d.Generation.Generate)

		// Sessions
		protected.POST("/sessions", d.Sessions.Start)
		protected.GET("/sessions/:id", d.Sessions.Get)
		protected.PATCH("/sessions/:id/finish", d.Sessions.Finish)
		protected.POST("/sessions/:id/attempts", d.Sessions.SubmitAttempt)
		protected.PUT("/sessions/:id/rating", d.Sessions.Rate)

		// Usage
		protected.GET("/usage/daily", d.Usage.Daily)
		protected.GET("/usage/limits", d.Usage.Limits)
		protected.GET("/dashboard", d.Usage.Dashboard)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Idempotency-Key", "X-Request-Id"},
		ExposeHeaders:    []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			origins = nil
			break
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
