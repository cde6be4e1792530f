package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

// EventRecorder appends to the audit log. Write failures are logged and
// never returned.
type EventRecorder struct {
	db  *gorm.DB
	log *logger.Logger
	now func() time.Time
}

func NewEventRecorder(db *gorm.DB, baseLog *logger.Logger) *EventRecorder {
	return &EventRecorder{db: db, log: baseLog.With("service", "events"), now: time.Now}
}

func (r *EventRecorder) Record(ctx context.Context, userID uuid.UUID, eventType string, entityID uuid.UUID, metadata map[string]any) {
	if r == nil {
		return
	}
	ev := model.EventLog{
		UserID:     userID,
		EventType:  eventType,
		EntityID:   entityID,
		Metadata:   metadata,
		OccurredAt: clock(r.now),
	}
	if err := r.db.WithContext(context.WithoutCancel(ctx)).Create(&ev).Error; err != nil {
		r.log.Warn("failed to record event",
			"event_type", eventType,
			"entity_id", entityID.String(),
			"error", err,
		)
	}
}
