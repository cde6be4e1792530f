package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/smartwords/api/internal/ratelimit"
	"github.com/smartwords/api/internal/response"
	"github.com/smartwords/api/internal/service"
)

type UsageHandler struct {
	usage     *service.UsageService
	dashboard *service.DashboardService
	limiter   *ratelimit.Limiter
}

func NewUsageHandler(usage *service.UsageService, dashboard *service.DashboardService, limiter *ratelimit.Limiter) *UsageHandler {
	return &UsageHandler{usage: usage, dashboard: dashboard, limiter: limiter}
}

func (h *UsageHandler) Daily(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	usage, err := h.usage.DailyUsage(c.Request.Context(), id.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, usage)
}

func (h *UsageHandler) Dashboard(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	dash, err := h.dashboard.Get(c.Request.Context(), id.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dash)
}

// Limits reports the configured request budgets per action.
func (h *UsageHandler) Limits(c *gin.Context) {
	limits := make(map[string]map[string]interface{})
	for action, cfg := range h.limiter.Limits() {
		limits[action] = map[string]interface{}{
			"limit":          cfg.Limit,
			"window_seconds": int(cfg.Window.Seconds()),
		}
	}
	response.OK(c, gin.H{
		"daily_generations": h.usage.Limit(),
		"rate_limits":       limits,
	})
}
