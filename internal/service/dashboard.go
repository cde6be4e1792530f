package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

type ActiveSessionRef struct {
	SessionID uuid.UUID `json:"session_id"`
	SetID     uuid.UUID `json:"set_id"`
	StartedAt time.Time `json:"started_at"`
}

type Dashboard struct {
	SetsTotal            int               `json:"sets_total"`
	ActiveSession        *ActiveSessionRef `json:"active_session"`
	RemainingGenerations int               `json:"remaining_generations"`
}

type DashboardService struct {
	db       *gorm.DB
	sessions *SessionService
	usage    *UsageService
}

func NewDashboardService(db *gorm.DB, sessions *SessionService, usage *UsageService) *DashboardService {
	return &DashboardService{db: db, sessions: sessions, usage: usage}
}

func (s *DashboardService) Get(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Set{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count sets: %w", err)
	}

	active, err := s.sessions.ActiveSession(ctx, userID)
	if err != nil {
		return nil, err
	}
	remaining, err := s.usage.Remaining(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Dashboard{SetsTotal: int(total), RemainingGenerations: remaining}
	if active != nil {
		out.ActiveSession = &ActiveSessionRef{SessionID: active.ID, SetID: active.SetID, StartedAt: active.StartedAt}
	}
	return out, nil
}
