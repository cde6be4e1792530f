package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

type AddWordsCommand struct {
	Words []WordInput `json:"words" binding:"required,min=1,max=5,dive"`
}

type AddWordsResult struct {
	Added      []WordDTO `json:"added"`
	WordsCount int       `json:"words_count"`
}

type UpdateWordCommand struct {
	Pl *string `json:"pl" binding:"omitempty,max=200,notblank"`
	En *string `json:"en" binding:"omitempty,max=200,notblank"`
}

type DeleteWordResult struct {
	Message    string `json:"message"`
	WordsCount int    `json:"words_count"`
}

func (s *SetService) AddWords(ctx context.Context, userID, setID uuid.UUID, cmd AddWordsCommand) (*AddWordsResult, error) {
	now := clock(s.now)
	var out AddWordsResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := s.loadOwned(tx, userID, setID, apperr.CodeSetNotFound)
		if err != nil {
			return err
		}

		words := newWords(set, cmd.Words, now)
		if err := tx.Create(&words).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeWordDuplicate, "This set already contains one of these words")
			}
			return fmt.Errorf("insert words: %w", err)
		}

		count, err := syncWordsCount(tx, set.ID, now)
		if err != nil {
			return err
		}

		out.WordsCount = count
		out.Added = make([]WordDTO, len(words))
		for i := range words {
			out.Added[i] = toWordDTO(&words[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SetService) UpdateWord(ctx context.Context, userID, setID, wordID uuid.UUID, cmd UpdateWordCommand) (*WordDTO, error) {
	if cmd.Pl == nil && cmd.En == nil {
		return nil, apperr.Validation(apperr.CodeValidation, "At least one of pl or en is required")
	}

	var out WordDTO
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := s.loadOwned(tx, userID, setID, apperr.CodeSetNotFound)
		if err != nil {
			return err
		}
		word, err := loadWord(tx, set.ID, wordID)
		if err != nil {
			return err
		}

		updates := map[string]any{}
		if cmd.Pl != nil {
			word.Pl = strings.TrimSpace(*cmd.Pl)
			updates["pl"] = word.Pl
		}
		if cmd.En != nil {
			word.En = strings.TrimSpace(*cmd.En)
			word.EnNorm = model.NormalizeEnglish(word.En)
			updates["en"] = word.En
			updates["en_norm"] = word.EnNorm
		}

		if err := tx.Model(&model.Word{}).Where("id = ?", word.ID).Updates(updates).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeWordDuplicate, "This set already contains that word")
			}
			return fmt.Errorf("update word: %w", err)
		}
		if err := tx.Model(&model.Set{}).Where("id = ?", set.ID).Update("updated_at", clock(s.now)).Error; err != nil {
			return fmt.Errorf("touch set: %w", err)
		}
		out = toWordDTO(word)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SetService) DeleteWord(ctx context.Context, userID, setID, wordID uuid.UUID) (*DeleteWordResult, error) {
	var out DeleteWordResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := s.loadOwned(tx, userID, setID, apperr.CodeSetNotFound)
		if err != nil {
			return err
		}
		word, err := loadWord(tx, set.ID, wordID)
		if err != nil {
			return err
		}
		if err := tx.Delete(word).Error; err != nil {
			return fmt.Errorf("delete word: %w", err)
		}
		count, err := syncWordsCount(tx, set.ID, clock(s.now))
		if err != nil {
			return err
		}
		out = DeleteWordResult{Message: "WORD_DELETED", WordsCount: count}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func loadWord(tx *gorm.DB, setID, wordID uuid.UUID) (*model.Word, error) {
	var word model.Word
	if err := tx.Where("id = ? AND set_id = ?", wordID, setID).Take(&word).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeWordNotFound, "Word not found")
		}
		return nil, fmt.Errorf("load word: %w", err)
	}
	return &word, nil
}

// syncWordsCount recomputes sets.words_count from the words table.
func syncWordsCount(tx *gorm.DB, setID uuid.UUID, now time.Time) (int, error) {
	var n int64
	if err := tx.Model(&model.Word{}).Where("set_id = ?", setID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count words: %w", err)
	}
	err := tx.Model(&model.Set{}).Where("id = ?", setID).Updates(map[string]any{
		"words_count": int(n),
		"updated_at":  now,
	}).Error
	if err != nil {
		return 0, fmt.Errorf("update words count: %w", err)
	}
	return int(n), nil
}
