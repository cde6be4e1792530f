package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

// DailyGenerationLimit is the default number of generation runs per UTC day.
const DailyGenerationLimit = 10

type DailyUsage struct {
	Limit       int       `json:"limit"`
	Used        int       `json:"used"`
	Remaining   int       `json:"remaining"`
	NextResetAt time.Time `json:"next_reset_at"`
}

type UsageService struct {
	db    *gorm.DB
	limit int
	log   *logger.Logger
	now   func() time.Time
}

func NewUsageService(db *gorm.DB, limit int, baseLog *logger.Logger) *UsageService {
	if limit <= 0 {
		limit = DailyGenerationLimit
	}
	return &UsageService{db: db, limit: limit, log: baseLog.With("service", "usage"), now: time.Now}
}

func (s *UsageService) Limit() int {
	return s.limit
}

func (s *UsageService) DailyUsage(ctx context.Context, userID uuid.UUID) (*DailyUsage, error) {
	now := clock(s.now)
	used, err := s.usedSince(ctx, userID, dayStart(now))
	if err != nil {
		return nil, err
	}
	return &DailyUsage{
		Limit:       s.limit,
		Used:        used,
		Remaining:   max(0, s.limit-used),
		NextResetAt: dayStart(now).AddDate(0, 0, 1),
	}, nil
}

// Remaining is the allowance left today.
func (s *UsageService) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := s.DailyUsage(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Remaining, nil
}

func (s *UsageService) usedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&model.GenerationRun{}).
		Where("user_id = ? AND occurred_at >= ?", userID, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count generation runs: %w", err)
	}
	return int(n), nil
}

// dayStart truncates t to 00:00:00 UTC.
func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
