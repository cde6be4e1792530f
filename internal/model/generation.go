package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SnapshotWord is the copy of a word taken when a generation starts.
type SnapshotWord struct {
	Pl string `json:"pl"`
	En string `json:"en"`
}

type GenerationRun struct {
	ID             uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID                         `gorm:"type:uuid;not null;index:idx_generation_runs_user_time,priority:1" json:"user_id"`
	SetID          uuid.UUID                         `gorm:"type:uuid;not null;index" json:"set_id"`
	ModelID        string                            `gorm:"not null;size:100" json:"model_id"`
	Temperature    float64                           `json:"temperature"`
	PromptVersion  string                            `gorm:"not null;size:20" json:"prompt_version"`
	IdempotencyKey string                            `gorm:"not null;size:255" json:"-"`
	WordsSnapshot  datatypes.JSONSlice[SnapshotWord] `json:"words_snapshot"`
	TokensIn       int                               `gorm:"not null;default:0" json:"tokens_in"`
	TokensOut      int                               `gorm:"not null;default:0" json:"tokens_out"`
	CostUSD        float64                           `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	OccurredAt     time.Time                         `gorm:"not null;index:idx_generation_runs_user_time,priority:2" json:"occurred_at"`
}

func (GenerationRun) TableName() string {
	return "generation_runs"
}

func (g *GenerationRun) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	return nil
}

type Sentence struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"sentence_id"`
	GenerationID uuid.UUID `gorm:"type:uuid;not null;index" json:"generation_id"`
	UserID       uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	WordID       uuid.UUID `gorm:"type:uuid;not null" json:"word_id"`
	Position     int       `gorm:"not null" json:"-"`
	PlText       string    `gorm:"not null" json:"pl_text"`
	TargetEn     string    `gorm:"not null;size:200" json:"target_en"`
	TargetEnNorm string    `gorm:"not null;size:200" json:"-"`
	PlWordCount  int       `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"-"`
}

func (Sentence) TableName() string {
	return "sentences"
}

func (s *Sentence) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
