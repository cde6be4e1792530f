package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/cache"
	"github.com/smartwords/api/internal/llm"
	"github.com/smartwords/api/internal/model"
	"github.com/smartwords/api/internal/testutil"
)

func TestTriggerGeneratesSentences(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals(
		WordInput{Pl: "kot", En: "cat"},
		WordInput{Pl: "pies", En: "dog"},
	))
	mustNoErr(t, err)

	got, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "k1")
	mustNoErr(t, err)

	if len(got.Sentences) != 2 || got.Sentences[0].TargetEn != "cat" || got.Sentences[1].TargetEn != "dog" {
		t.Fatalf("sentences = %+v", got.Sentences)
	}
	if got.Usage.TokensIn != 120 || got.Usage.TokensOut != 40 {
		t.Fatalf("usage = %+v", got.Usage)
	}
	if got.Usage.RemainingGenerationsToday != DailyGenerationLimit-1 {
		t.Fatalf("remaining = %d", got.Usage.RemainingGenerationsToday)
	}
	if got.Replayed {
		t.Fatal("first call must not be a replay")
	}

	if f.gen.last.ModelID != "openai/gpt-4o-mini" || f.gen.last.PromptVersion != llm.DefaultPromptVersion {
		t.Fatalf("request defaults = %+v", f.gen.last)
	}
	if f.gen.last.Temperature == nil || *f.gen.last.Temperature != llm.DefaultTemperature {
		t.Fatal("temperature default not applied")
	}
	if f.gen.last.Level != string(model.LevelA1) {
		t.Fatalf("level = %q", f.gen.last.Level)
	}

	var run model.GenerationRun
	mustNoErr(t, f.db.First(&run, "id = ?", got.GenerationID).Error)
	if run.TokensIn != 120 || run.CostUSD != llm.CalculateCost(120, 40) {
		t.Fatalf("stored usage = %+v", run)
	}
	if len(run.WordsSnapshot) != 2 || run.WordsSnapshot[0].En != "cat" {
		t.Fatalf("snapshot = %+v", run.WordsSnapshot)
	}

	detail, err := f.sets.Get(ctx, user.ID, set.ID)
	mustNoErr(t, err)
	if detail.LatestGeneration == nil || detail.LatestGeneration.ID != got.GenerationID {
		t.Fatal("latest_generation not reported")
	}
}

func TestTriggerReplaysIdempotencyKey(t *testing.T) {
	caches := map[string]ReplayCache{
		"database only": nil,
		"memory cache":  cache.NewMemoryCache(),
	}
	for name, rc := range caches {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, rc)
			user := testutil.CreateUser(t, f.db)
			ctx := context.Background()

			set, err := f.sets.Create(ctx, user.ID, animals())
			mustNoErr(t, err)

			first, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "same-key")
			mustNoErr(t, err)
			second, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "same-key")
			mustNoErr(t, err)

			if !second.Replayed {
				t.Fatal("second call should be a replay")
			}
			if second.GenerationID != first.GenerationID || second.Sentences[0].ID != first.Sentences[0].ID {
				t.Fatalf("replay returned different data: %+v vs %+v", second, first)
			}
			if f.gen.calls != 1 {
				t.Fatalf("provider calls = %d, want 1", f.gen.calls)
			}
			if n := count(t, f.db, &model.GenerationRun{}, ""); n != 1 {
				t.Fatalf("runs = %d, want 1", n)
			}
			// One run today, so the replay reports limit - (1 + 1).
			if second.Usage.RemainingGenerationsToday != DailyGenerationLimit-2 {
				t.Fatalf("replay remaining = %d", second.Usage.RemainingGenerationsToday)
			}
		})
	}
}

func TestTriggerDailyLimit(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals())
	mustNoErr(t, err)

	for i := 0; i < DailyGenerationLimit; i++ {
		_, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, fmt.Sprintf("k%d", i))
		mustNoErr(t, err)
	}

	_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "one-more")
	wantCode(t, err, apperr.CodeDailyLimitReached)
	if apperr.HTTPStatus(err) != 403 {
		t.Fatalf("status = %d, want 403", apperr.HTTPStatus(err))
	}

	usage, err := f.usage.DailyUsage(ctx, user.ID)
	mustNoErr(t, err)
	if usage.Used != DailyGenerationLimit || usage.Remaining != 0 {
		t.Fatalf("usage = %+v", usage)
	}

	// The window resets at the next UTC midnight.
	f.clock.T = usage.NextResetAt
	_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "tomorrow")
	mustNoErr(t, err)
}

func TestTriggerPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	stranger := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals())
	mustNoErr(t, err)

	_, err = f.generation.Trigger(ctx, stranger.ID, set.ID, GenerateCommand{}, "k")
	wantCode(t, err, apperr.CodeSetNotFound)

	empty := testutil.CreateSet(t, f.db, user.ID, "Empty")
	_, err = f.generation.Trigger(ctx, user.ID, empty.ID, GenerateCommand{}, "k")
	wantCode(t, err, apperr.CodeSetHasNoWords)

	if f.gen.calls != 0 {
		t.Fatalf("provider called %d times", f.gen.calls)
	}
}

func TestTriggerMappingMissLeavesNoRun(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals())
	mustNoErr(t, err)
	f.gen.respond = func(llm.SentenceRequest) *llm.SentenceResponse {
		return &llm.SentenceResponse{Sentences: []llm.GeneratedSentence{{PlText: "Widzę psa.", TargetEn: "dog"}}}
	}

	_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "k1")
	wantCode(t, err, llm.CodeInvalidResponse)
	if apperr.HTTPStatus(err) != 502 {
		t.Fatalf("status = %d, want 502", apperr.HTTPStatus(err))
	}
	if n := count(t, f.db, &model.GenerationRun{}, ""); n != 0 {
		t.Fatalf("runs = %d, want 0", n)
	}
}

func TestTriggerMatchesNormalizedTarget(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals(WordInput{Pl: "czarny kot", En: "black cat"}))
	mustNoErr(t, err)
	f.gen.respond = func(llm.SentenceRequest) *llm.SentenceResponse {
		return &llm.SentenceResponse{Sentences: []llm.GeneratedSentence{{PlText: "Widzę czarnego kota.", TargetEn: "  Black   Cat "}}}
	}

	got, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "k1")
	mustNoErr(t, err)
	detail, err := f.sets.Get(ctx, user.ID, set.ID)
	mustNoErr(t, err)
	if got.Sentences[0].WordID != detail.Words[0].ID {
		t.Fatalf("word_id = %s, want %s", got.Sentences[0].WordID, detail.Words[0].ID)
	}
	var stored model.Sentence
	mustNoErr(t, f.db.First(&stored, "id = ?", got.Sentences[0].ID).Error)
	if stored.TargetEnNorm != "black cat" || stored.PlWordCount != 3 {
		t.Fatalf("stored sentence = %+v", stored)
	}
}

func TestTriggerProviderFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"rate limited", &llm.Error{Code: llm.CodeRateLimit, Message: "slow down"}, llm.CodeRateLimit, 429},
		{"server error", &llm.Error{Code: llm.CodeServerError, Message: "boom"}, llm.CodeServerError, 502},
		{"unclassified", errors.New("socket closed"), llm.CodeUnknownError, 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			user := testutil.CreateUser(t, f.db)
			ctx := context.Background()

			set, err := f.sets.Create(ctx, user.ID, animals())
			mustNoErr(t, err)
			f.gen.err = tt.err

			_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "k1")
			wantCode(t, err, tt.code)
			if got := apperr.HTTPStatus(err); got != tt.status {
				t.Fatalf("status = %d, want %d", got, tt.status)
			}
			if n := count(t, f.db, &model.GenerationRun{}, ""); n != 0 {
				t.Fatalf("runs = %d, want 0", n)
			}

			// The key is free again once the failed run is gone.
			f.gen.err = nil
			_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "k1")
			mustNoErr(t, err)
		})
	}
}

func TestTriggerInFlightKeyConflicts(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals())
	mustNoErr(t, err)

	// A placeholder run without sentences is what a concurrent request
	// leaves behind while it waits on the provider.
	placeholder := model.GenerationRun{
		UserID:         user.ID,
		SetID:          set.ID,
		ModelID:        "m",
		PromptVersion:  llm.DefaultPromptVersion,
		IdempotencyKey: "busy",
		OccurredAt:     f.clock.Now(),
	}
	mustNoErr(t, f.db.Create(&placeholder).Error)

	_, err = f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{}, "busy")
	wantCode(t, err, apperr.CodeDuplicateIdempotency)
	if f.gen.calls != 0 {
		t.Fatal("provider must not be called for an in-flight key")
	}
}

func TestTriggerHonoursCommand(t *testing.T) {
	f := newFixture(t, nil)
	user := testutil.CreateUser(t, f.db)
	ctx := context.Background()

	set, err := f.sets.Create(ctx, user.ID, animals())
	mustNoErr(t, err)

	temp := 1.2
	got, err := f.generation.Trigger(ctx, user.ID, set.ID, GenerateCommand{
		ModelID:       "mistralai/mistral-small",
		Temperature:   &temp,
		PromptVersion: "v1.2.0",
	}, "k1")
	mustNoErr(t, err)

	var run model.GenerationRun
	mustNoErr(t, f.db.First(&run, "id = ?", got.GenerationID).Error)
	if run.ModelID != "mistralai/mistral-small" || run.Temperature != 1.2 || run.PromptVersion != "v1.2.0" {
		t.Fatalf("run = %+v", run)
	}
	if !run.OccurredAt.Equal(f.clock.Now().Truncate(time.Microsecond)) {
		t.Fatalf("occurred_at = %v", run.OccurredAt)
	}
}
