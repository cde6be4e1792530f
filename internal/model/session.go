package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ReasonAllAnswered = "all_sentences_answered"
	ReasonAbandoned   = "abandoned"
	ReasonManualExit  = "manual_exit"
)

// ExerciseSession is active while FinishedAt is nil.
type ExerciseSession struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	SetID           uuid.UUID  `gorm:"type:uuid;not null;index" json:"set_id"`
	GenerationID    uuid.UUID  `gorm:"type:uuid;not null" json:"generation_id"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	CompletedReason *string    `gorm:"size:100" json:"completed_reason,omitempty"`
}

func (ExerciseSession) TableName() string {
	return "exercise_sessions"
}

func (s *ExerciseSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *ExerciseSession) Active() bool {
	return s.FinishedAt == nil
}

type Attempt struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"attempt_id"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	SentenceID uuid.UUID `gorm:"type:uuid;not null" json:"sentence_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null" json:"-"`
	AttemptNo  int       `gorm:"not null" json:"attempt_no"`
	AnswerRaw  string    `gorm:"not null" json:"answer_raw"`
	AnswerNorm string    `gorm:"not null" json:"answer_norm"`
	IsCorrect  bool      `gorm:"not null" json:"is_correct"`
	CheckedAt  time.Time `gorm:"not null" json:"checked_at"`
}

func (Attempt) TableName() string {
	return "attempts"
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

type Rating struct {
	SessionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"session_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"-"`
	Stars     int       `gorm:"not null" json:"stars"`
	Comment   *string   `gorm:"size:500" json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

func (Rating) TableName() string {
	return "ratings"
}
