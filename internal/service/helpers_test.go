package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/smartwords/api/internal/apperr"
	"github.com/smartwords/api/internal/llm"
	"github.com/smartwords/api/internal/testutil"
	"gorm.io/gorm"
)

var day = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

// fakeGenerator answers with one sentence per requested word unless
// respond or err is set.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   int
	last    llm.SentenceRequest
	err     error
	respond func(req llm.SentenceRequest) *llm.SentenceResponse
}

func (f *fakeGenerator) GenerateSentences(_ context.Context, req llm.SentenceRequest) (*llm.SentenceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		return f.respond(req), nil
	}
	resp := &llm.SentenceResponse{
		Model: req.ModelID,
		Usage: llm.Usage{TokensIn: 120, TokensOut: 40, CostUSD: llm.CalculateCost(120, 40)},
	}
	for _, w := range req.Words {
		resp.Sentences = append(resp.Sentences, llm.GeneratedSentence{
			PlText:   "Widzę " + w.Pl + " w ogrodzie.",
			TargetEn: w.En,
		})
	}
	return resp, nil
}

type fixture struct {
	db         *gorm.DB
	clock      *testutil.Clock
	gen        *fakeGenerator
	usage      *UsageService
	events     *EventRecorder
	sets       *SetService
	sessions   *SessionService
	generation *GenerationService
}

func newFixture(t *testing.T, cache ReplayCache) *fixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	clk := testutil.NewClock(day)

	f := &fixture{db: db, clock: clk, gen: &fakeGenerator{}}
	f.events = NewEventRecorder(db, log)
	f.events.now = clk.Now
	f.usage = NewUsageService(db, DailyGenerationLimit, log)
	f.usage.now = clk.Now
	f.sets = NewSetService(db, f.events, log)
	f.sets.now = clk.Now
	f.sessions = NewSessionService(db, f.events, log)
	f.sessions.now = clk.Now
	f.generation = NewGenerationService(db, f.gen, f.usage, cache, f.events, "openai/gpt-4o-mini", log)
	f.generation.now = clk.Now
	return f
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil error", code)
	}
	if !apperr.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func count(t *testing.T, db *gorm.DB, model any, where string, args ...any) int {
	t.Helper()
	var n int64
	q := db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return int(n)
}
