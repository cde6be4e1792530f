package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	EventSetCreated           = "set_created"
	EventSetDeleted           = "set_deleted"
	EventGenerationRunCreated = "generation_run_created"
	EventSessionStarted       = "session_started"
	EventSessionFinished      = "session_finished"
)

type EventLog struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID         `gorm:"type:uuid;not null;index" json:"user_id"`
	EventType  string            `gorm:"not null;size:64" json:"event_type"`
	EntityID   uuid.UUID         `gorm:"type:uuid;not null" json:"entity_id"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	OccurredAt time.Time         `gorm:"not null" json:"occurred_at"`
}

func (EventLog) TableName() string {
	return "event_log"
}

func (e *EventLog) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
