package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/smartwords/api/internal/logger"
	"golang.org/x/time/rate"
)

const (
	ActionGenerate = "generate"
	ActionAuth     = "auth"
)

type ActionConfig struct {
	Limit  int64
	Window time.Duration
}

func DefaultLimits(generatePerMinute int64) map[string]ActionConfig {
	return map[string]ActionConfig{
		ActionGenerate: {Limit: generatePerMinute, Window: time.Minute},
		ActionAuth:     {Limit: 20, Window: time.Minute},
	}
}

// Counter is the fixed-window store behind the limiter.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Limiter counts in redis when a Counter is configured and falls back to
// per-key token buckets in process memory when it is absent or failing.
type Limiter struct {
	counter Counter
	limits  map[string]ActionConfig
	log     *logger.Logger
	now     func() time.Time

	mu    sync.Mutex
	local map[string]*rate.Limiter
}

type CheckResult struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	ResetAt   int64 `json:"reset_at"`
	Limit     int64 `json:"limit"`
}

var defaultAction = ActionConfig{Limit: 100, Window: time.Minute}

// NewLimiter replaces entries with a non-positive limit or window by the
// default budget.
func NewLimiter(counter Counter, limits map[string]ActionConfig, baseLog *logger.Logger) *Limiter {
	log := baseLog.With("component", "ratelimit")
	sanitized := make(map[string]ActionConfig, len(limits))
	for action, cfg := range limits {
		if cfg.Limit <= 0 || cfg.Window <= 0 {
			log.Warn("invalid rate limit, using default", "action", action, "limit", cfg.Limit, "window", cfg.Window.String())
			cfg = defaultAction
		}
		sanitized[action] = cfg
	}
	return &Limiter{
		counter: counter,
		limits:  sanitized,
		log:     log,
		now:     time.Now,
		local:   make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) Limits() map[string]ActionConfig {
	return l.limits
}

func (l *Limiter) config(action string) ActionConfig {
	cfg, ok := l.limits[action]
	if !ok {
		// Default limit for unknown actions
		cfg = defaultAction
	}
	return cfg
}

func (l *Limiter) Check(ctx context.Context, clientID, action string) (*CheckResult, error) {
	cfg := l.config(action)
	key := fmt.Sprintf("rate:%s:%s", clientID, action)

	if l.counter != nil {
		res, err := l.checkCounter(ctx, key, cfg)
		if err == nil {
			return res, nil
		}
		l.log.Warn("rate limit store unavailable, using local limiter", "action", action, "error", err)
	}
	return l.checkLocal(key, cfg), nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, cfg ActionConfig) (*CheckResult, error) {
	count, err := l.counter.Incr(ctx, key, cfg.Window)
	if err != nil {
		return nil, fmt.Errorf("failed to increment counter: %w", err)
	}

	ttl, err := l.counter.TTL(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get TTL: %w", err)
	}
	if ttl < 0 {
		ttl = cfg.Window
	}

	remaining := cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return &CheckResult{
		Allowed:   count <= cfg.Limit,
		Remaining: remaining,
		ResetAt:   l.now().Add(ttl).Unix(),
		Limit:     cfg.Limit,
	}, nil
}

func (l *Limiter) checkLocal(key string, cfg ActionConfig) *CheckResult {
	l.mu.Lock()
	lim, ok := l.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Limit)), int(cfg.Limit))
		l.local[key] = lim
	}
	l.mu.Unlock()

	now := l.now()
	allowed := lim.AllowN(now, 1)
	remaining := int64(lim.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	return &CheckResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(cfg.Window).Unix(),
		Limit:     cfg.Limit,
	}
}
