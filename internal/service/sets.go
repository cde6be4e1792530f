package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

const (
	SortCreatedAtDesc = "created_at_desc"
	SortNameAsc       = "name_asc"

	defaultListLimit = 10
)

type WordInput struct {
	Pl string `json:"pl" binding:"required,max=200,notblank"`
	En string `json:"en" binding:"required,max=200,notblank"`
}

type CreateSetCommand struct {
	Name  string      `json:"name" binding:"required,max=100,notblank"`
	Level model.Level `json:"level" binding:"required,cefr"`
	Words []WordInput `json:"words" binding:"required,min=1,max=5,dive"`
}

type WordUpsertInput struct {
	ID *uuid.UUID `json:"id"`
	Pl string     `json:"pl" binding:"required,max=200,notblank"`
	En string     `json:"en" binding:"required,max=200,notblank"`
}

type UpdateSetCommand struct {
	Name  *string            `json:"name" binding:"omitempty,max=100,notblank"`
	Level *model.Level       `json:"level" binding:"omitempty,cefr"`
	Words *[]WordUpsertInput `json:"words" binding:"omitempty,min=1,max=5,dive"`
}

type ListSetsQuery struct {
	Search string      `form:"search" binding:"omitempty,max=100"`
	Level  model.Level `form:"level" binding:"omitempty,cefr"`
	Cursor string      `form:"cursor" binding:"omitempty,max=512"`
	Limit  int         `form:"limit" binding:"omitempty,min=1,max=50"`
	Sort   string      `form:"sort" binding:"omitempty,oneof=created_at_desc name_asc"`
}

type SetSummary struct {
	ID         uuid.UUID   `json:"id"`
	Name       string      `json:"name"`
	Level      model.Level `json:"level"`
	WordsCount int         `json:"words_count"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

type WordDTO struct {
	ID uuid.UUID `json:"id"`
	Pl string    `json:"pl"`
	En string    `json:"en"`
}

type GenerationRef struct {
	ID         uuid.UUID `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type SetDetail struct {
	SetSummary
	UserID           uuid.UUID      `json:"user_id"`
	Words            []WordDTO      `json:"words"`
	LatestGeneration *GenerationRef `json:"latest_generation"`
}

type Pagination struct {
	NextCursor *string `json:"next_cursor"`
	Count      int     `json:"count"`
}

type SetList struct {
	Data       []SetSummary `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

type SetService struct {
	db     *gorm.DB
	events *EventRecorder
	log    *logger.Logger
	now    func() time.Time
}

func NewSetService(db *gorm.DB, events *EventRecorder, baseLog *logger.Logger) *SetService {
	return &SetService{db: db, events: events, log: baseLog.With("service", "sets"), now: time.Now}
}

func toSummary(s *model.Set) SetSummary {
	return SetSummary{
		ID:         s.ID,
		Name:       s.Name,
		Level:      s.Level,
		WordsCount: s.WordsCount,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func toWordDTO(w *model.Word) WordDTO {
	return WordDTO{ID: w.ID, Pl: w.Pl, En: w.En}
}

// newWords builds rows for the given inputs, spacing created_at by a
// microsecond so insertion order survives a created_at sort.
func newWords(set *model.Set, inputs []WordInput, now time.Time) []model.Word {
	words := make([]model.Word, len(inputs))
	for i, in := range inputs {
		en := strings.TrimSpace(in.En)
		words[i] = model.Word{
			SetID:     set.ID,
			UserID:    set.UserID,
			Pl:        strings.TrimSpace(in.Pl),
			En:        en,
			EnNorm:    model.NormalizeEnglish(en),
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}
	return words
}

func (s *SetService) Create(ctx context.Context, userID uuid.UUID, cmd CreateSetCommand) (*SetSummary, error) {
	now := clock(s.now)
	set := model.Set{
		UserID:     userID,
		Name:       strings.TrimSpace(cmd.Name),
		Level:      cmd.Level,
		WordsCount: len(cmd.Words),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&set).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeDuplicateName, "A set with this name already exists")
			}
			return fmt.Errorf("insert set: %w", err)
		}
		words := newWords(&set, cmd.Words, now)
		if err := tx.Create(&words).Error; err != nil {
			if isDuplicate(err) {
				return apperr.BusinessRule(apperr.CodeDuplicateEnglishWord, "Two words in this set share the same English text")
			}
			return fmt.Errorf("insert words: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Record(ctx, userID, model.EventSetCreated, set.ID, map[string]any{"words_count": set.WordsCount})
	out := toSummary(&set)
	return &out, nil
}

func (s *SetService) List(ctx context.Context, userID uuid.UUID, q ListSetsQuery) (*SetList, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	sort := q.Sort
	if sort == "" {
		sort = SortCreatedAtDesc
	}

	query := s.db.WithContext(ctx).Model(&model.Set{}).Where("user_id = ?", userID)
	if q.Level != "" {
		query = query.Where("level = ?", q.Level)
	}
	if search := strings.TrimSpace(q.Search); search != "" {
		query = query.Where(`LOWER(name) LIKE ? ESCAPE '\'`, escapeLike(strings.ToLower(search))+"%")
	}

	if q.Cursor != "" {
		key, id, err := parseCursor(q.Cursor)
		if err != nil {
			return nil, err
		}
		switch sort {
		case SortNameAsc:
			query = query.Where("(name > ? OR (name = ? AND id > ?))", key, key, id)
		default:
			at, err := time.Parse(time.RFC3339Nano, key)
			if err != nil {
				return nil, apperr.Validation(apperr.CodeInvalidQuery, "cursor is malformed")
			}
			query = query.Where("(created_at < ? OR (created_at = ? AND id < ?))", at, at, id)
		}
	}

	if sort == SortNameAsc {
		query = query.Order("name ASC").Order("id ASC")
	} else {
		query = query.Order("created_at DESC").Order("id DESC")
	}

	var rows []model.Set
	if err := query.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}

	var next *string
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		c := encodeCursor(sort, &last)
		next = &c
	}

	out := &SetList{Data: make([]SetSummary, len(rows)), Pagination: Pagination{NextCursor: next, Count: len(rows)}}
	for i := range rows {
		out.Data[i] = toSummary(&rows[i])
	}
	return out, nil
}

func encodeCursor(sort string, s *model.Set) string {
	if sort == SortNameAsc {
		return s.Name + "|" + s.ID.String()
	}
	return s.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + s.ID.String()
}

// parseCursor splits at the last "|" so names containing one still parse.
func parseCursor(cursor string) (string, uuid.UUID, error) {
	i := strings.LastIndex(cursor, "|")
	if i <= 0 {
		return "", uuid.Nil, apperr.Validation(apperr.CodeInvalidQuery, "cursor is malformed")
	}
	id, err := uuid.Parse(cursor[i+1:])
	if err != nil {
		return "", uuid.Nil, apperr.Validation(apperr.CodeInvalidQuery, "cursor is malformed")
	}
	return cursor[:i], id, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *SetService) loadOwned(tx *gorm.DB, userID, setID uuid.UUID, code string) (*model.Set, error) {
	var set model.Set
	err := tx.Where("id = ? AND user_id = ?", setID, userID).Take(&set).Error
	if err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(code, "Set not found")
		}
		return nil, fmt.Errorf("load set: %w", err)
	}
	return &set, nil
}

func (s *SetService) Get(ctx context.Context, userID, setID uuid.UUID) (*SetDetail, error) {
	db := s.db.WithContext(ctx)
	set, err := s.loadOwned(db, userID, setID, apperr.CodeSetNotFound)
	if err != nil {
		return nil, err
	}

	var words []model.Word
	if err := db.Where("set_id = ?", set.ID).Order("created_at ASC").Order("id ASC").Find(&words).Error; err != nil {
		return nil, fmt.Errorf("load words: %w", err)
	}

	var runs []model.GenerationRun
	if err := db.Select("id", "occurred_at").
		Where("set_id = ? AND user_id = ?", set.ID, userID).
		Order("occurred_at DESC").
		Limit(1).
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("load latest generation: %w", err)
	}

	out := &SetDetail{
		SetSummary: toSummary(set),
		UserID:     set.UserID,
		Words:      make([]WordDTO, len(words)),
	}
	for i := range words {
		out.Words[i] = toWordDTO(&words[i])
	}
	if len(runs) > 0 {
		out.LatestGeneration = &GenerationRef{ID: runs[0].ID, OccurredAt: runs[0].OccurredAt}
	}
	return out, nil
}

// HasActiveSession reports whether setID has an unfinished exercise session.
func (s *SetService) HasActiveSession(ctx context.Context, setID uuid.UUID) (bool, error) {
	return hasActiveSession(s.db.WithContext(ctx), setID)
}

func hasActiveSession(tx *gorm.DB, setID uuid.UUID) (bool, error) {
	var n int64
	err := tx.Model(&model.ExerciseSession{}).
		Where("set_id = ? AND finished_at IS NULL", setID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check active session: %w", err)
	}
	return n > 0, nil
}

func (s *SetService) Update(ctx context.Context, userID, setID uuid.UUID, cmd UpdateSetCommand) (*SetDetail, error) {
	if cmd.Name == nil && cmd.Level == nil && cmd.Words == nil {
		return nil, apperr.Validation(apperr.CodeValidation, "At least one of name, level or words is required")
	}

	now := clock(s.now)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		set, err := s.loadOwned(tx, userID, setID, apperr.CodeSetNotFound)
		if err != nil {
			return err
		}

		if cmd.Words != nil {
			active, err := hasActiveSession(tx, set.ID)
			if err != nil {
				return err
			}
			if active {
				return apperr.Conflict(apperr.CodeActiveSession, "Finish the running session before editing words")
			}
		}

		updates := map[string]any{"updated_at": now}
		if cmd.Name != nil {
			updates["name"] = strings.TrimSpace(*cmd.Name)
		}
		if cmd.Level != nil {
			updates["level"] = *cmd.Level
		}
		if cmd.Words != nil {
			if err := replaceWords(tx, set, *cmd.Words, now); err != nil {
				return err
			}
			updates["words_count"] = len(*cmd.Words)
		}

		if err := tx.Model(&model.Set{}).Where("id = ?", set.ID).Updates(updates).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeDuplicateName, "A set with this name already exists")
			}
			return fmt.Errorf("update set: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, userID, setID)
}

// replaceWords makes the set's words exactly inputs. Kept words are first
// moved to a placeholder en_norm so texts can be swapped between them
// without tripping the (set_id, en_norm) index.
func replaceWords(tx *gorm.DB, set *model.Set, inputs []WordUpsertInput, now time.Time) error {
	var existing []model.Word
	if err := tx.Where("set_id = ?", set.ID).Find(&existing).Error; err != nil {
		return fmt.Errorf("load words: %w", err)
	}
	owned := make(map[uuid.UUID]bool, len(existing))
	for _, w := range existing {
		owned[w.ID] = true
	}

	kept := make(map[uuid.UUID]bool)
	var added []WordInput
	for _, in := range inputs {
		if in.ID == nil {
			added = append(added, WordInput{Pl: in.Pl, En: in.En})
			continue
		}
		if !owned[*in.ID] {
			return apperr.NotFound(apperr.CodeWordNotFound, fmt.Sprintf("Word %s is not part of this set", in.ID))
		}
		if kept[*in.ID] {
			return apperr.Validation(apperr.CodeValidation, "Each word id may appear only once")
		}
		kept[*in.ID] = true
	}

	var removed []uuid.UUID
	for _, w := range existing {
		if !kept[w.ID] {
			removed = append(removed, w.ID)
		}
	}
	if len(removed) > 0 {
		if err := tx.Where("set_id = ? AND id IN ?", set.ID, removed).Delete(&model.Word{}).Error; err != nil {
			return fmt.Errorf("delete words: %w", err)
		}
	}

	for id := range kept {
		if err := tx.Model(&model.Word{}).Where("id = ?", id).Update("en_norm", "#pending:"+id.String()).Error; err != nil {
			return fmt.Errorf("stage word: %w", err)
		}
	}
	for _, in := range inputs {
		if in.ID == nil {
			continue
		}
		en := strings.TrimSpace(in.En)
		err := tx.Model(&model.Word{}).Where("id = ?", *in.ID).Updates(map[string]any{
			"pl":      strings.TrimSpace(in.Pl),
			"en":      en,
			"en_norm": model.NormalizeEnglish(en),
		}).Error
		if err != nil {
			if isDuplicate(err) {
				return apperr.BusinessRule(apperr.CodeDuplicateEnglishWord, "Two words in this set share the same English text")
			}
			return fmt.Errorf("update word: %w", err)
		}
	}

	if len(added) > 0 {
		words := newWords(set, added, now)
		if err := tx.Create(&words).Error; err != nil {
			if isDuplicate(err) {
				return apperr.BusinessRule(apperr.CodeDuplicateEnglishWord, "Two words in this set share the same English text")
			}
			return fmt.Errorf("insert words: %w", err)
		}
	}
	return nil
}

func (s *SetService) Delete(ctx context.Context, userID, setID uuid.UUID) error {
	db := s.db.WithContext(ctx)
	set, err := s.loadOwned(db, userID, setID, apperr.CodeSetNotFound)
	if err != nil {
		return err
	}
	active, err := hasActiveSession(db, set.ID)
	if err != nil {
		return err
	}
	if active {
		return apperr.Conflict(apperr.CodeActiveSession, "Finish the running session before deleting this set")
	}

	s.events.Record(ctx, userID, model.EventSetDeleted, set.ID, map[string]any{"name": set.Name})

	return db.Transaction(func(tx *gorm.DB) error {
		// Re-check under the transaction so a session started meanwhile wins.
		active, err := hasActiveSession(tx, set.ID)
		if err != nil {
			return err
		}
		if active {
			return apperr.Conflict(apperr.CodeActiveSession, "Finish the running session before deleting this set")
		}

		var sessionIDs, generationIDs []uuid.UUID
		if err := tx.Model(&model.ExerciseSession{}).Where("set_id = ?", set.ID).Pluck("id", &sessionIDs).Error; err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if err := tx.Model(&model.GenerationRun{}).Where("set_id = ?", set.ID).Pluck("id", &generationIDs).Error; err != nil {
			return fmt.Errorf("list generations: %w", err)
		}

		if len(sessionIDs) > 0 {
			if err := tx.Where("session_id IN ?", sessionIDs).Delete(&model.Attempt{}).Error; err != nil {
				return fmt.Errorf("delete attempts: %w", err)
			}
			if err := tx.Where("session_id IN ?", sessionIDs).Delete(&model.Rating{}).Error; err != nil {
				return fmt.Errorf("delete ratings: %w", err)
			}
			if err := tx.Where("id IN ?", sessionIDs).Delete(&model.ExerciseSession{}).Error; err != nil {
				return fmt.Errorf("delete sessions: %w", err)
			}
		}
		if len(generationIDs) > 0 {
			if err := tx.Where("generation_id IN ?", generationIDs).Delete(&model.Sentence{}).Error; err != nil {
				return fmt.Errorf("delete sentences: %w", err)
			}
			if err := tx.Where("id IN ?", generationIDs).Delete(&model.GenerationRun{}).Error; err != nil {
				return fmt.Errorf("delete generations: %w", err)
			}
		}
		if err := tx.Where("set_id = ?", set.ID).Delete(&model.Word{}).Error; err != nil {
			return fmt.Errorf("delete words: %w", err)
		}
		if err := tx.Where("id = ?", set.ID).Delete(&model.Set{}).Error; err != nil {
			return fmt.Errorf("delete set: %w", err)
		}
		return nil
	})
}
