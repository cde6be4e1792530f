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
	"gorm.io/gorm/clause"
)

const ModeTranslate = "translate"

type StartSessionCommand struct {
	SetID        string  `json:"set_id" binding:"required,uuid"`
	GenerationID *string `json:"generation_id" binding:"omitempty,uuid"`
	Mode         string  `json:"mode" binding:"required,oneof=translate"`
}

type FinishSessionCommand struct {
	CompletedReason string `json:"completed_reason" binding:"omitempty,max=100,notblank"`
}

type SubmitAttemptCommand struct {
	SentenceID string `json:"sentence_id" binding:"required,uuid"`
	AnswerRaw  string `json:"answer_raw" binding:"required,max=500"`
}

type RateSessionCommand struct {
	Stars   int     `json:"stars" binding:"required,min=1,max=5"`
	Comment *string `json:"comment" binding:"omitempty,max=500"`
}

type StartedSession struct {
	ID               uuid.UUID `json:"id"`
	SetID            uuid.UUID `json:"set_id"`
	GenerationID     uuid.UUID `json:"generation_id"`
	StartedAt        time.Time `json:"started_at"`
	PendingSentences int       `json:"pending_sentences"`
}

type Progress struct {
	Attempted int `json:"attempted"`
	Correct   int `json:"correct"`
	Remaining int `json:"remaining"`
}

type AttemptSummary struct {
	ID        uuid.UUID `json:"attempt_id"`
	AttemptNo int       `json:"attempt_no"`
	AnswerRaw string    `json:"answer_raw"`
	IsCorrect bool      `json:"is_correct"`
	CheckedAt time.Time `json:"checked_at"`
}

type SessionSentence struct {
	SentenceDTO
	LatestAttempt *AttemptSummary `json:"latest_attempt"`
}

type SessionView struct {
	ID              uuid.UUID         `json:"id"`
	SetID           uuid.UUID         `json:"set_id"`
	GenerationID    uuid.UUID         `json:"generation_id"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at"`
	CompletedReason *string           `json:"completed_reason"`
	Sentences       []SessionSentence `json:"sentences"`
	Progress        Progress          `json:"progress"`
}

type FinishResult struct {
	Message    string    `json:"message"`
	FinishedAt time.Time `json:"finished_at"`
}

type Feedback struct {
	Highlight   []string `json:"highlight"`
	Explanation *string  `json:"explanation,omitempty"`
}

type AttemptDTO struct {
	ID         uuid.UUID `json:"attempt_id"`
	SentenceID uuid.UUID `json:"sentence_id"`
	AttemptNo  int       `json:"attempt_no"`
	IsCorrect  bool      `json:"is_correct"`
	AnswerRaw  string    `json:"answer_raw"`
	AnswerNorm string    `json:"answer_norm"`
	CheckedAt  time.Time `json:"checked_at"`
	Feedback   Feedback  `json:"feedback"`
}

type RatingDTO struct {
	SessionID uuid.UUID `json:"session_id"`
	Stars     int       `json:"stars"`
	Comment   *string   `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionService struct {
	db     *gorm.DB
	events *EventRecorder
	log    *logger.Logger
	now    func() time.Time
}

func NewSessionService(db *gorm.DB, events *EventRecorder, baseLog *logger.Logger) *SessionService {
	return &SessionService{db: db, events: events, log: baseLog.With("service", "sessions"), now: time.Now}
}

var errSessionRunning = apperr.Conflict(apperr.CodeSessionAlreadyRunning, "A session for this set is already running")

func (s *SessionService) Start(ctx context.Context, userID uuid.UUID, cmd StartSessionCommand) (*StartedSession, error) {
	setID, err := uuid.Parse(cmd.SetID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeInvalidSetID, "set_id must be a UUID")
	}
	db := s.db.WithContext(ctx)

	var running int64
	if err := db.Model(&model.ExerciseSession{}).
		Where("user_id = ? AND set_id = ? AND finished_at IS NULL", userID, setID).
		Count(&running).Error; err != nil {
		return nil, fmt.Errorf("check running session: %w", err)
	}
	if running > 0 {
		return nil, errSessionRunning
	}

	var set model.Set
	if err := db.Select("id").Where("id = ? AND user_id = ?", setID, userID).Take(&set).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeSetNotFound, "Set not found")
		}
		return nil, fmt.Errorf("load set: %w", err)
	}

	var run model.GenerationRun
	q := db.Select("id").Where("user_id = ? AND set_id = ?", userID, setID)
	if cmd.GenerationID != nil {
		genID, err := uuid.Parse(*cmd.GenerationID)
		if err != nil {
			return nil, apperr.Validation(apperr.CodeValidation, "generation_id must be a UUID")
		}
		if err := q.Where("id = ?", genID).Take(&run).Error; err != nil {
			if isNotFound(err) {
				return nil, apperr.NotFound(apperr.CodeGenerationNotFound, "Generation not found for this set")
			}
			return nil, fmt.Errorf("load generation: %w", err)
		}
	} else {
		if err := q.Order("occurred_at DESC").Take(&run).Error; err != nil {
			if isNotFound(err) {
				return nil, apperr.BusinessRule(apperr.CodeNoGenerationFound, "Generate sentences for this set first")
			}
			return nil, fmt.Errorf("load latest generation: %w", err)
		}
	}

	session := model.ExerciseSession{
		UserID:       userID,
		SetID:        setID,
		GenerationID: run.ID,
		StartedAt:    clock(s.now),
	}
	if err := db.Create(&session).Error; err != nil {
		if isDuplicate(err) {
			return nil, errSessionRunning
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}

	var pending int64
	if err := db.Model(&model.Sentence{}).Where("generation_id = ?", run.ID).Count(&pending).Error; err != nil {
		return nil, fmt.Errorf("count sentences: %w", err)
	}

	s.events.Record(ctx, userID, model.EventSessionStarted, session.ID, map[string]any{
		"set_id":        setID.String(),
		"generation_id": run.ID.String(),
		"mode":          cmd.Mode,
	})

	return &StartedSession{
		ID:               session.ID,
		SetID:            setID,
		GenerationID:     run.ID,
		StartedAt:        session.StartedAt,
		PendingSentences: int(pending),
	}, nil
}

func (s *SessionService) load(tx *gorm.DB, userID, sessionID uuid.UUID) (*model.ExerciseSession, error) {
	var session model.ExerciseSession
	if err := tx.Where("id = ? AND user_id = ?", sessionID, userID).Take(&session).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeSessionNotFound, "Session not found")
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

func (s *SessionService) Get(ctx context.Context, userID, sessionID uuid.UUID) (*SessionView, error) {
	db := s.db.WithContext(ctx)
	session, err := s.load(db, userID, sessionID)
	if err != nil {
		return nil, err
	}

	var sentences []model.Sentence
	if err := db.Where("generation_id = ?", session.GenerationID).Order("position ASC").Find(&sentences).Error; err != nil {
		return nil, fmt.Errorf("load sentences: %w", err)
	}
	var attempts []model.Attempt
	if err := db.Where("session_id = ?", session.ID).Order("attempt_no ASC").Find(&attempts).Error; err != nil {
		return nil, fmt.Errorf("load attempts: %w", err)
	}

	latest := latestAttempts(attempts)
	view := &SessionView{
		ID:              session.ID,
		SetID:           session.SetID,
		GenerationID:    session.GenerationID,
		StartedAt:       session.StartedAt,
		FinishedAt:      session.FinishedAt,
		CompletedReason: session.CompletedReason,
		Sentences:       make([]SessionSentence, len(sentences)),
	}
	for i, sen := range sentences {
		item := SessionSentence{SentenceDTO: SentenceDTO{ID: sen.ID, WordID: sen.WordID, PlText: sen.PlText, TargetEn: sen.TargetEn}}
		if a, ok := latest[sen.ID]; ok {
			item.LatestAttempt = &AttemptSummary{
				ID:        a.ID,
				AttemptNo: a.AttemptNo,
				AnswerRaw: a.AnswerRaw,
				IsCorrect: a.IsCorrect,
				CheckedAt: a.CheckedAt,
			}
			view.Progress.Attempted++
			if a.IsCorrect {
				view.Progress.Correct++
			}
		}
		view.Sentences[i] = item
	}
	view.Progress.Remaining = len(sentences) - view.Progress.Attempted
	return view, nil
}

// latestAttempts keeps the highest attempt_no per sentence.
func latestAttempts(attempts []model.Attempt) map[uuid.UUID]model.Attempt {
	out := make(map[uuid.UUID]model.Attempt, len(attempts))
	for _, a := range attempts {
		if prev, ok := out[a.SentenceID]; !ok || a.AttemptNo > prev.AttemptNo {
			out[a.SentenceID] = a
		}
	}
	return out
}

func (s *SessionService) Finish(ctx context.Context, userID, sessionID uuid.UUID, cmd FinishSessionCommand) (*FinishResult, error) {
	db := s.db.WithContext(ctx)
	session, err := s.load(db, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, apperr.Conflict(apperr.CodeAlreadyFinished, "Session is already finished")
	}

	reason := cmd.CompletedReason
	if reason == "" {
		reason = model.ReasonManualExit
	}
	finishedAt := clock(s.now)

	res := db.Model(&model.ExerciseSession{}).
		Where("id = ? AND finished_at IS NULL", session.ID).
		Updates(map[string]any{"finished_at": finishedAt, "completed_reason": reason})
	if res.Error != nil {
		return nil, fmt.Errorf("finish session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(apperr.CodeAlreadyFinished, "Session is already finished")
	}

	s.events.Record(ctx, userID, model.EventSessionFinished, session.ID, map[string]any{
		"completed_reason": reason,
	})
	return &FinishResult{Message: "SESSION_FINISHED", FinishedAt: finishedAt}, nil
}

func (s *SessionService) SubmitAttempt(ctx context.Context, userID, sessionID uuid.UUID, cmd SubmitAttemptCommand) (*AttemptDTO, error) {
	sentenceID, err := uuid.Parse(cmd.SentenceID)
	if err != nil {
		return nil, apperr.Validation(apperr.CodeValidation, "sentence_id must be a UUID")
	}

	var out AttemptDTO
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.load(tx, userID, sessionID)
		if err != nil {
			return err
		}
		if !session.Active() {
			return apperr.Conflict(apperr.CodeAlreadyFinished, "Session is already finished")
		}

		var sentence model.Sentence
		if err := tx.Where("id = ? AND generation_id = ?", sentenceID, session.GenerationID).Take(&sentence).Error; err != nil {
			if isNotFound(err) {
				return apperr.NotFound(apperr.CodeSentenceNotFound, "Sentence is not part of this session")
			}
			return fmt.Errorf("load sentence: %w", err)
		}

		var last int
		if err := tx.Model(&model.Attempt{}).
			Where("session_id = ? AND sentence_id = ?", session.ID, sentence.ID).
			Select("COALESCE(MAX(attempt_no), 0)").
			Scan(&last).Error; err != nil {
			return fmt.Errorf("load attempt number: %w", err)
		}

		norm := NormalizeAnswer(cmd.AnswerRaw)
		attempt := model.Attempt{
			SessionID:  session.ID,
			SentenceID: sentence.ID,
			UserID:     userID,
			AttemptNo:  last + 1,
			AnswerRaw:  cmd.AnswerRaw,
			AnswerNorm: norm,
			IsCorrect:  norm == sentence.TargetEnNorm,
			CheckedAt:  clock(s.now),
		}
		if err := tx.Create(&attempt).Error; err != nil {
			if isDuplicate(err) {
				return apperr.Conflict(apperr.CodeAttemptConflict, "Another attempt was recorded at the same time")
			}
			return fmt.Errorf("insert attempt: %w", err)
		}

		out = AttemptDTO{
			ID:         attempt.ID,
			SentenceID: sentence.ID,
			AttemptNo:  attempt.AttemptNo,
			IsCorrect:  attempt.IsCorrect,
			AnswerRaw:  attempt.AnswerRaw,
			AnswerNorm: attempt.AnswerNorm,
			CheckedAt:  attempt.CheckedAt,
			Feedback:   Feedback{Highlight: []string{}},
		}
		if !attempt.IsCorrect {
			explanation := fmt.Sprintf("Expected %q", sentence.TargetEn)
			out.Feedback.Highlight = []string{sentence.TargetEn}
			out.Feedback.Explanation = &explanation
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// NormalizeAnswer folds an answer to the form compared against a sentence's
// target: surrounding punctuation dropped, lower-cased, single-spaced.
func NormalizeAnswer(s string) string {
	return model.NormalizeEnglish(strings.Trim(strings.TrimSpace(s), `.,!?;:"'`))
}

func (s *SessionService) Rate(ctx context.Context, userID, sessionID uuid.UUID, cmd RateSessionCommand) (*RatingDTO, error) {
	db := s.db.WithContext(ctx)
	session, err := s.load(db, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Active() {
		return nil, apperr.BusinessRule(apperr.CodeSessionNotFinished, "Finish the session before rating it")
	}

	now := clock(s.now)
	rating := model.Rating{
		SessionID: session.ID,
		UserID:    userID,
		Stars:     cmd.Stars,
		Comment:   cmd.Comment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"stars", "comment", "updated_at"}),
	}).Create(&rating).Error
	if err != nil {
		return nil, fmt.Errorf("upsert rating: %w", err)
	}

	var stored model.Rating
	if err := db.Where("session_id = ?", session.ID).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("load rating: %w", err)
	}
	return &RatingDTO{SessionID: stored.SessionID, Stars: stored.Stars, Comment: stored.Comment, CreatedAt: stored.CreatedAt}, nil
}

// FinishStale marks active sessions started before now-olderThan as
// abandoned. With dryRun it only counts them.
func (s *SessionService) FinishStale(ctx context.Context, olderThan time.Duration, dryRun bool) (int, error) {
	now := clock(s.now)
	cutoff := now.Add(-olderThan)
	db := s.db.WithContext(ctx)

	var stale []model.ExerciseSession
	if err := db.Where("finished_at IS NULL AND started_at < ?", cutoff).Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("find stale sessions: %w", err)
	}
	if dryRun || len(stale) == 0 {
		return len(stale), nil
	}

	finished := 0
	for _, session := range stale {
		res := db.Model(&model.ExerciseSession{}).
			Where("id = ? AND finished_at IS NULL", session.ID).
			Updates(map[string]any{"finished_at": now, "completed_reason": model.ReasonAbandoned})
		if res.Error != nil {
			return finished, fmt.Errorf("finish session %s: %w", session.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}
		finished++
		s.events.Record(ctx, session.UserID, model.EventSessionFinished, session.ID, map[string]any{
			"completed_reason": model.ReasonAbandoned,
		})
	}
	s.log.Info("finished stale sessions", "count", finished, "cutoff", cutoff.Format(time.RFC3339))
	return finished, nil
}

// ActiveSession returns the user's most recently started unfinished
// session, or nil.
func (s *SessionService) ActiveSession(ctx context.Context, userID uuid.UUID) (*model.ExerciseSession, error) {
	var sessions []model.ExerciseSession
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND finished_at IS NULL", userID).
		Order("started_at DESC").
		Limit(1).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}
