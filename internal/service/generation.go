package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/llm"
	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
	"gorm.io/gorm"
)

const replayTTL = 24 * time.Hour

// SentenceGenerator is the provider side of a generation run.
type SentenceGenerator interface {
	GenerateSentences(ctx context.Context, req llm.SentenceRequest) (*llm.SentenceResponse, error)
}

// ReplayCache keeps finished generation responses keyed by idempotency key.
type ReplayCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type GenerateCommand struct {
	ModelID       string   `json:"model_id" binding:"omitempty,max=100"`
	Temperature   *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	PromptVersion string   `json:"prompt_version" binding:"omitempty,max=20,prompt_version"`
}

type SentenceDTO struct {
	ID       uuid.UUID `json:"sentence_id"`
	WordID   uuid.UUID `json:"word_id"`
	PlText   string    `json:"pl_text"`
	TargetEn string    `json:"target_en"`
}

type GenerationUsage struct {
	TokensIn                  int     `json:"tokens_in"`
	TokensOut                 int     `json:"tokens_out"`
	CostUSD                   float64 `json:"cost_usd"`
	RemainingGenerationsToday int     `json:"remaining_generations_today"`
}

type GenerationResult struct {
	GenerationID uuid.UUID       `json:"generation_id"`
	SetID        uuid.UUID       `json:"set_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Sentences    []SentenceDTO   `json:"sentences"`
	Usage        GenerationUsage `json:"usage"`

	// Replayed is set when the result came from an earlier run with the
	// same idempotency key.
	Replayed bool `json:"-"`
}

type GenerationService struct {
	db           *gorm.DB
	llm          SentenceGenerator
	usage        *UsageService
	cache        ReplayCache
	events       *EventRecorder
	log          *logger.Logger
	now          func() time.Time
	defaultModel string
}

// NewGenerationService wires the generation flow. cache may be nil.
func NewGenerationService(db *gorm.DB, gen SentenceGenerator, usage *UsageService, cache ReplayCache, events *EventRecorder, defaultModel string, baseLog *logger.Logger) *GenerationService {
	return &GenerationService{
		db:           db,
		llm:          gen,
		usage:        usage,
		cache:        cache,
		events:       events,
		log:          baseLog.With("service", "generation"),
		now:          time.Now,
		defaultModel: defaultModel,
	}
}

func (s *GenerationService) Trigger(ctx context.Context, userID, setID uuid.UUID, cmd GenerateCommand, idempotencyKey string) (*GenerationResult, error) {
	db := s.db.WithContext(ctx)

	var set model.Set
	if err := db.Where("id = ? AND user_id = ?", setID, userID).Take(&set).Error; err != nil {
		if isNotFound(err) {
			return nil, apperr.NotFound(apperr.CodeSetNotFound, "Set not found")
		}
		return nil, fmt.Errorf("load set: %w", err)
	}
	if set.WordsCount == 0 {
		return nil, apperr.BusinessRule(apperr.CodeSetHasNoWords, "Add words to the set before generating sentences")
	}

	now := clock(s.now)
	used, err := s.usage.usedSince(ctx, userID, dayStart(now))
	if err != nil {
		return nil, err
	}
	limit := s.usage.Limit()
	if used >= limit {
		return nil, apperr.BusinessRule(apperr.CodeDailyLimitReached, fmt.Sprintf("Daily limit of %d generations reached", limit))
	}
	remaining := max(0, limit-(used+1))

	if prev, err := s.replay(ctx, userID, idempotencyKey); err != nil {
		return nil, err
	} else if prev != nil {
		prev.Usage.RemainingGenerationsToday = remaining
		prev.Replayed = true
		return prev, nil
	}

	var words []model.Word
	if err := db.Where("set_id = ?", set.ID).Order("created_at ASC").Order("id ASC").Find(&words).Error; err != nil {
		return nil, fmt.Errorf("load words: %w", err)
	}
	if len(words) == 0 {
		return nil, apperr.BusinessRule(apperr.CodeSetHasNoWords, "Add words to the set before generating sentences")
	}
	snapshot := make([]model.SnapshotWord, len(words))
	for i, w := range words {
		snapshot[i] = model.SnapshotWord{Pl: w.Pl, En: w.En}
	}

	modelID := cmd.ModelID
	if modelID == "" {
		modelID = s.defaultModel
	}
	temperature := llm.DefaultTemperature
	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}
	promptVersion := cmd.PromptVersion
	if promptVersion == "" {
		promptVersion = llm.DefaultPromptVersion
	}

	run := model.GenerationRun{
		UserID:         userID,
		SetID:          set.ID,
		ModelID:        modelID,
		Temperature:    temperature,
		PromptVersion:  promptVersion,
		IdempotencyKey: idempotencyKey,
		WordsSnapshot:  snapshot,
		OccurredAt:     now,
	}
	if err := db.Create(&run).Error; err != nil {
		if isDuplicate(err) {
			return nil, apperr.Conflict(apperr.CodeDuplicateIdempotency, "A generation with this idempotency key is already in progress")
		}
		return nil, fmt.Errorf("insert generation run: %w", err)
	}

	resp, err := s.llm.GenerateSentences(ctx, llm.SentenceRequest{
		Words:         snapshot,
		ModelID:       modelID,
		Temperature:   &temperature,
		PromptVersion: promptVersion,
		Level:         string(set.Level),
	})
	if err != nil {
		s.discard(ctx, run.ID)
		return nil, upstreamError(err)
	}

	err = db.Model(&model.GenerationRun{}).Where("id = ?", run.ID).Updates(map[string]any{
		"tokens_in":  resp.Usage.TokensIn,
		"tokens_out": resp.Usage.TokensOut,
		"cost_usd":   resp.Usage.CostUSD,
	}).Error
	if err != nil {
		s.log.Warn("failed to store generation usage", "generation_id", run.ID.String(), "error", err)
	}

	byNorm := make(map[string]uuid.UUID, len(words))
	for _, w := range words {
		byNorm[w.EnNorm] = w.ID
	}
	sentences := make([]model.Sentence, len(resp.Sentences))
	for i, gs := range resp.Sentences {
		target := strings.TrimSpace(gs.TargetEn)
		norm := model.NormalizeEnglish(target)
		wordID, ok := byNorm[norm]
		if !ok {
			s.discard(ctx, run.ID)
			s.log.Warn("generated sentence targets an unknown word",
				"generation_id", run.ID.String(),
				"target_en", target,
			)
			return nil, apperr.Upstream(llm.CodeInvalidResponse,
				fmt.Sprintf("Generated sentence %d targets a word that is not in the set", i+1), nil)
		}
		pl := strings.TrimSpace(gs.PlText)
		sentences[i] = model.Sentence{
			GenerationID: run.ID,
			UserID:       userID,
			WordID:       wordID,
			Position:     i,
			PlText:       pl,
			TargetEn:     target,
			TargetEnNorm: norm,
			PlWordCount:  len(strings.Fields(pl)),
			CreatedAt:    now,
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&sentences).Error
	})
	if err != nil {
		s.discard(ctx, run.ID)
		return nil, fmt.Errorf("insert sentences: %w", err)
	}

	s.events.Record(ctx, userID, model.EventGenerationRunCreated, run.ID, map[string]any{
		"model_id":  modelID,
		"sentences": len(sentences),
	})

	out := &GenerationResult{
		GenerationID: run.ID,
		SetID:        set.ID,
		OccurredAt:   run.OccurredAt,
		Sentences:    toSentenceDTOs(sentences),
		Usage: GenerationUsage{
			TokensIn:                  resp.Usage.TokensIn,
			TokensOut:                 resp.Usage.TokensOut,
			CostUSD:                   resp.Usage.CostUSD,
			RemainingGenerationsToday: remaining,
		},
	}
	s.remember(ctx, userID, idempotencyKey, out)
	return out, nil
}

// replay returns the stored result for an idempotency key, or nil when the
// key has not been used.
func (s *GenerationService) replay(ctx context.Context, userID uuid.UUID, key string) (*GenerationResult, error) {
	if s.cache != nil {
		data, ok, err := s.cache.Get(ctx, replayKey(userID, key))
		switch {
		case err != nil:
			s.log.Warn("replay cache read failed", "error", err)
		case ok:
			var res GenerationResult
			if jerr := json.Unmarshal(data, &res); jerr == nil {
				return &res, nil
			}
			s.log.Warn("replay cache entry is corrupt", "user_id", userID.String())
		}
	}

	db := s.db.WithContext(ctx)
	var run model.GenerationRun
	err := db.Where("user_id = ? AND idempotency_key = ?", userID, key).Take(&run).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency key: %w", err)
	}

	var sentences []model.Sentence
	if err := db.Where("generation_id = ?", run.ID).Order("position ASC").Find(&sentences).Error; err != nil {
		return nil, fmt.Errorf("load sentences: %w", err)
	}
	if len(sentences) == 0 {
		return nil, apperr.Conflict(apperr.CodeDuplicateIdempotency, "A generation with this idempotency key is already in progress")
	}

	res := &GenerationResult{
		GenerationID: run.ID,
		SetID:        run.SetID,
		OccurredAt:   run.OccurredAt,
		Sentences:    toSentenceDTOs(sentences),
		Usage: GenerationUsage{
			TokensIn:  run.TokensIn,
			TokensOut: run.TokensOut,
			CostUSD:   run.CostUSD,
		},
	}
	s.remember(ctx, userID, key, res)
	return res, nil
}

func (s *GenerationService) remember(ctx context.Context, userID uuid.UUID, key string, res *GenerationResult) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, replayKey(userID, key), data, replayTTL); err != nil {
		s.log.Warn("replay cache write failed", "error", err)
	}
}

// discard removes a placeholder run that never received sentences.
func (s *GenerationService) discard(ctx context.Context, runID uuid.UUID) {
	err := s.db.WithContext(context.WithoutCancel(ctx)).Where("id = ?", runID).Delete(&model.GenerationRun{}).Error
	if err != nil {
		s.log.Error("failed to discard generation run", "generation_id", runID.String(), "error", err)
	}
}

func replayKey(userID uuid.UUID, key string) string {
	return userID.String() + ":" + key
}

func toSentenceDTOs(sentences []model.Sentence) []SentenceDTO {
	out := make([]SentenceDTO, len(sentences))
	for i, s := range sentences {
		out[i] = SentenceDTO{ID: s.ID, WordID: s.WordID, PlText: s.PlText, TargetEn: s.TargetEn}
	}
	return out
}

func upstreamError(err error) error {
	var lerr *llm.Error
	if errors.As(err, &lerr) {
		return apperr.Upstream(lerr.Code, lerr.Message, err)
	}
	return apperr.Upstream(llm.CodeUnknownError, "Sentence provider failed", err)
}
