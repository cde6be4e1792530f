package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Word struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SetID     uuid.UUID `gorm:"type:uuid;not null;index" json:"set_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	Pl        string    `gorm:"not null;size:200" json:"pl"`
	En        string    `gorm:"not null;size:200" json:"en"`
	EnNorm    string    `gorm:"not null;size:200" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (Word) TableName() string {
	return "words"
}

func (w *Word) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.EnNorm == "" {
		w.EnNorm = NormalizeEnglish(w.En)
	}
	return nil
}

// NormalizeEnglish lower-cases s and collapses all whitespace runs to a
// single space. Two words collide in a set iff their normalized forms match.
func NormalizeEnglish(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
