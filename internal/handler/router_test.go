package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smartwords/api/internal/auth"
	"github.com/smartwords/api/internal/cache"
	"github.com/smartwords/api/internal/llm"
	"github.com/smartwords/api/internal/ratelimit"
	"github.com/smartwords/api/internal/service"
	"github.com/smartwords/api/internal/testutil"
	"github.com/smartwords/api/internal/validator"
)

const testSecret = "handler-test-secret"

type echoGenerator struct{}

func (echoGenerator) GenerateSentences(_ context.Context, req llm.SentenceRequest) (*llm.SentenceResponse, error) {
	resp := &llm.SentenceResponse{Usage: llm.Usage{TokensIn: 10, TokensOut: 5, CostUSD: llm.CalculateCost(10, 5)}}
	for _, w := range req.Words {
		resp.Sentences = append(resp.Sentences, llm.GeneratedSentence{PlText: "Mam " + w.Pl + ".", TargetEn: strings.ToUpper(w.En)})
	}
	return resp, nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	token  string
}

func newTestServer(t *testing.T, limits map[string]ratelimit.ActionConfig) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if err := validator.Register(); err != nil {
		t.Fatalf("register validators: %v", err)
	}

	db := testutil.DB(t)
	log := testutil.Logger(t)
	if limits == nil {
		limits = ratelimit.DefaultLimits(100)
	}
	limiter := ratelimit.NewLimiter(nil, limits, log)

	events := service.NewEventRecorder(db, log)
	usage := service.NewUsageService(db, service.DailyGenerationLimit, log)
	sets := service.NewSetService(db, events, log)
	sessions := service.NewSessionService(db, events, log)
	generation := service.NewGenerationService(db, echoGenerator{}, usage, cache.NewMemoryCache(), events, "openai/gpt-4o-mini", log)
	authService := service.NewAuthService(db, testSecret, service.NewLogMailer(log, "http://localhost:3000"), log)

	router := NewRouter(RouterDeps{
		Log:        log,
		JWTSecret:  testSecret,
		Limiter:    limiter,
		Sets:       NewSetHandler(sets),
		Export:     NewExportHandler(sets),
		Generation: NewGenerationHandler(generation, log),
		Sessions:   NewSessionHandler(sessions),
		Usage:      NewUsageHandler(usage, service.NewDashboardService(db, sessions, usage), limiter),
		Auth:       NewAuthHandler(authService, nil, "http://localhost:3000", log),
	})

	user := testutil.CreateUser(t, db)
	token, err := auth.GenerateAccessToken(auth.Identity{UserID: user.ID, Email: user.Email}, testSecret, time.Now())
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return &testServer{t: t, router: router, token: token}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type envelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decode[envelope](t, w)
	if env.Error.Code != code || env.Error.Message == "" {
		t.Fatalf("envelope = %+v, want code %s", env, code)
	}
}

func TestEndToEndExerciseFlow(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create set: %d %s", w.Code, w.Body.String())
	}
	set := decode[service.SetSummary](t, w)
	if set.WordsCount != 1 {
		t.Fatalf("words_count = %d", set.WordsCount)
	}

	w = s.do(http.MethodPost, "/api/sets/"+set.ID.String()+"/generate", "", IdempotencyKeyHeader, "k1")
	if w.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", w.Code, w.Body.String())
	}
	gen := decode[service.GenerationResult](t, w)
	if len(gen.Sentences) != 1 || !strings.EqualFold(gen.Sentences[0].TargetEn, "cat") {
		t.Fatalf("sentences = %+v", gen.Sentences)
	}

	w = s.do(http.MethodPost, "/api/sessions", `{"set_id":"`+set.ID.String()+`","mode":"translate"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start session: %d %s", w.Code, w.Body.String())
	}
	started := decode[service.StartedSession](t, w)
	if started.PendingSentences != 1 {
		t.Fatalf("pending_sentences = %d", started.PendingSentences)
	}

	w = s.do(http.MethodGet, "/api/sessions/"+started.ID.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get session: %d %s", w.Code, w.Body.String())
	}
	view := decode[service.SessionView](t, w)
	if view.Progress != (service.Progress{Attempted: 0, Correct: 0, Remaining: 1}) {
		t.Fatalf("progress = %+v", view.Progress)
	}

	w = s.do(http.MethodPatch, "/api/sessions/"+started.ID.String()+"/finish", `{"completed_reason":"manual_exit"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("finish: %d %s", w.Code, w.Body.String())
	}
	finished := decode[service.FinishResult](t, w)
	if finished.FinishedAt.IsZero() {
		t.Fatal("finished_at is empty")
	}

	w = s.do(http.MethodPost, "/api/sessions", `{"set_id":"`+set.ID.String()+`","mode":"translate"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("second session: %d %s", w.Code, w.Body.String())
	}
}

func TestErrorEnvelope(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create set: %d %s", w.Code, w.Body.String())
	}
	set := decode[service.SetSummary](t, w)
	setPath := "/api/sets/" + set.ID.String()

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers []string
		status  int
		code    string
	}{
		{"malformed json", http.MethodPost, "/api/sets", `{"name":`, nil, 400, "INVALID_JSON"},
		{"missing fields", http.MethodPost, "/api/sets", `{"level":"A1","words":[{"pl":"a","en":"b"}]}`, nil, 400, "MISSING_FIELDS"},
		{"bad level", http.MethodPost, "/api/sets", `{"name":"X","level":"Z9","words":[{"pl":"a","en":"b"}]}`, nil, 400, "INVALID_CEFR_LEVEL"},
		{"too many words", http.MethodPost, "/api/sets", `{"name":"X","level":"A1","words":[{"pl":"a","en":"a"},{"pl":"b","en":"b"},{"pl":"c","en":"c"},{"pl":"d","en":"d"},{"pl":"e","en":"e"},{"pl":"f","en":"f"}]}`, nil, 422, "TOO_MANY_WORDS"},
		{"no words", http.MethodPost, "/api/sets", `{"name":"X","level":"A1","words":[]}`, nil, 422, "NO_WORDS"},
		{"duplicate name", http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"}]}`, nil, 409, "DUPLICATE_NAME"},
		{"too many replacement words", http.MethodPatch, setPath, `{"words":[{"pl":"a","en":"a"},{"pl":"b","en":"b"},{"pl":"c","en":"c"},{"pl":"d","en":"d"},{"pl":"e","en":"e"},{"pl":"f","en":"f"}]}`, nil, 422, "TOO_MANY_WORDS"},
		{"bad set id", http.MethodGet, "/api/sets/nope", "", nil, 400, "INVALID_SET_ID"},
		{"unknown set", http.MethodGet, "/api/sets/" + uuid.NewString(), "", nil, 404, "SET_NOT_FOUND"},
		{"delete unknown set", http.MethodDelete, "/api/sets/" + uuid.NewString(), "", nil, 404, "SET_NOT_FOUND"},
		{"bad word id", http.MethodDelete, setPath + "/words/nope", "", nil, 400, "INVALID_WORD_ID"},
		{"bad query", http.MethodGet, "/api/sets?limit=500", "", nil, 400, "INVALID_QUERY"},
		{"missing idempotency key", http.MethodPost, setPath + "/generate", "", nil, 400, "MISSING_IDEMPOTENCY_KEY"},
		{"bad temperature", http.MethodPost, setPath + "/generate", `{"temperature":3}`, []string{IdempotencyKeyHeader, "t"}, 400, "INVALID_TEMPERATURE"},
		{"bad prompt version", http.MethodPost, setPath + "/generate", `{"prompt_version":"latest"}`, []string{IdempotencyKeyHeader, "p"}, 400, "INVALID_PROMPT_VERSION"},
		{"bad session id", http.MethodGet, "/api/sessions/nope", "", nil, 400, "INVALID_SESSION_ID"},
		{"bad mode", http.MethodPost, "/api/sessions", `{"set_id":"` + set.ID.String() + `","mode":"listen"}`, nil, 400, "VALIDATION_ERROR"},
		{"no generation", http.MethodPost, "/api/sessions", `{"set_id":"` + set.ID.String() + `","mode":"translate"}`, nil, 422, "NO_GENERATION_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, s.do(tt.method, tt.path, tt.body, tt.headers...), tt.status, tt.code)
		})
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	s.token = ""
	expectError(t, s.do(http.MethodGet, "/api/dashboard", ""), 401, "UNAUTHORIZED")

	s.token = "not-a-jwt"
	expectError(t, s.do(http.MethodGet, "/api/usage/daily", ""), 401, "UNAUTHORIZED")
}

func TestUsageAndDashboard(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodGet, "/api/usage/daily", "")
	if w.Code != http.StatusOK {
		t.Fatalf("usage: %d %s", w.Code, w.Body.String())
	}
	usage := decode[service.DailyUsage](t, w)
	if usage.Limit != service.DailyGenerationLimit || usage.Remaining != service.DailyGenerationLimit {
		t.Fatalf("usage = %+v", usage)
	}

	w = s.do(http.MethodGet, "/api/dashboard", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"active_session":null`) {
		t.Fatalf("dashboard body = %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/usage/limits", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"generate"`) {
		t.Fatalf("limits: %d %s", w.Code, w.Body.String())
	}
}

func TestGenerateRateLimited(t *testing.T) {
	s := newTestServer(t, map[string]ratelimit.ActionConfig{
		ratelimit.ActionGenerate: {Limit: 1, Window: time.Minute},
	})

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"}]}`)
	set := decode[service.SetSummary](t, w)
	path := "/api/sets/" + set.ID.String() + "/generate"

	w = s.do(http.MethodPost, path, "", IdempotencyKeyHeader, "a")
	if w.Code != http.StatusOK {
		t.Fatalf("first generate: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
	expectError(t, s.do(http.MethodPost, path, "", IdempotencyKeyHeader, "b"), 429, "RATE_LIMIT_EXCEEDED")
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	s.token = ""

	w := s.do(http.MethodPost, "/api/auth/signup", `{"email":"ala@example.com","password":"correct horse"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", w.Code, w.Body.String())
	}
	session := decode[service.AuthSession](t, w)

	expectError(t, s.do(http.MethodPost, "/api/auth/signup", `{"email":"bob@example.com","password":"short"}`), 400, "WEAK_PASSWORD")
	expectError(t, s.do(http.MethodPost, "/api/auth/login", `{"email":"ala@example.com","password":"nope nope"}`), 401, "INVALID_CREDENTIALS")

	w = s.do(http.MethodPost, "/api/auth/recover", `{"email":"ghost@example.com"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "RESET_EMAIL_SENT") {
		t.Fatalf("recover: %d %s", w.Code, w.Body.String())
	}

	s.token = session.Session.AccessToken
	w = s.do(http.MethodGet, "/api/dashboard", "")
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard with signup token: %d %s", w.Code, w.Body.String())
	}

	w = s.do(http.MethodPost, "/api/auth/logout", `{"refresh_token":"`+session.Session.RefreshToken+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: %d %s", w.Code, w.Body.String())
	}
	expectError(t, s.do(http.MethodPost, "/api/auth/exchange", `{"refresh_token":"`+session.Session.RefreshToken+`"}`), 401, "RECOVERY_TOKEN_INVALID")

	w = s.do(http.MethodGet, "/api/auth/google", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("google route without config: %d", w.Code)
	}
}

func TestExportSet(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"},{"pl":"pies","en":"dog"}]}`)
	set := decode[service.SetSummary](t, w)
	path := "/api/sets/" + set.ID.String() + "/export"

	w = s.do(http.MethodGet, path+"?format=csv", "")
	if w.Code != http.StatusOK {
		t.Fatalf("csv export: %d %s", w.Code, w.Body.String())
	}
	if body := w.Body.String(); !strings.HasPrefix(body, "en,pl\n") || !strings.Contains(body, "cat,kot\n") {
		t.Fatalf("csv body = %q", body)
	}

	w = s.do(http.MethodGet, path+"?format=md", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "| dog | pies |") {
		t.Fatalf("markdown export: %d %s", w.Code, w.Body.String())
	}

	expectError(t, s.do(http.MethodGet, path+"?format=pdf", ""), 400, "INVALID_QUERY")
	expectError(t, s.do(http.MethodGet, "/api/sets/"+uuid.NewString()+"/export", ""), 404, "SET_NOT_FOUND")
}

func TestFinishSessionReason(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Animals","level":"A1","words":[{"pl":"kot","en":"cat"}]}`)
	set := decode[service.SetSummary](t, w)
	if w = s.do(http.MethodPost, "/api/sets/"+set.ID.String()+"/generate", "", IdempotencyKeyHeader, "k1"); w.Code != http.StatusOK {
		t.Fatalf("generate: %d %s", w.Code, w.Body.String())
	}
	start := func() string {
		t.Helper()
		w := s.do(http.MethodPost, "/api/sessions", `{"set_id":"`+set.ID.String()+`","mode":"translate"}`)
		if w.Code != http.StatusCreated {
			t.Fatalf("start session: %d %s", w.Code, w.Body.String())
		}
		return "/api/sessions/" + decode[service.StartedSession](t, w).ID.String()
	}

	path := start()
	expectError(t, s.do(http.MethodPatch, path+"/finish", `{"completed_reason":"   "}`), 400, "VALIDATION_ERROR")
	expectError(t, s.do(http.MethodPatch, path+"/finish", `{"completed_reason":"`+strings.Repeat("x", 101)+`"}`), 400, "VALIDATION_ERROR")

	if w := s.do(http.MethodPatch, path+"/finish", `{"completed_reason":"timeout"}`); w.Code != http.StatusOK {
		t.Fatalf("finish with custom reason: %d %s", w.Code, w.Body.String())
	}
	view := decode[service.SessionView](t, s.do(http.MethodGet, path, ""))
	if view.CompletedReason == nil || *view.CompletedReason != "timeout" {
		t.Fatalf("completed_reason = %v, want timeout", view.CompletedReason)
	}

	path = start()
	if w := s.do(http.MethodPatch, path+"/finish", ""); w.Code != http.StatusOK {
		t.Fatalf("finish without body: %d %s", w.Code, w.Body.String())
	}
	view = decode[service.SessionView](t, s.do(http.MethodGet, path, ""))
	if view.CompletedReason == nil || *view.CompletedReason != "manual_exit" {
		t.Fatalf("default completed_reason = %v, want manual_exit", view.CompletedReason)
	}
}

func TestExportMarkdownEscapesCells(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(http.MethodPost, "/api/sets", `{"name":"Colours","level":"A1","words":[{"pl":"czarny|biały","en":"black|white"}]}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create set: %d %s", w.Code, w.Body.String())
	}
	set := decode[service.SetSummary](t, w)

	w = s.do(http.MethodGet, "/api/sets/"+set.ID.String()+"/export?format=md", "")
	if w.Code != http.StatusOK {
		t.Fatalf("markdown export: %d %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `| black\|white | czarny\|biały |`) {
		t.Fatalf("markdown body = %s", w.Body.String())
	}

	w = s.do(http.MethodGet, "/api/sets/"+set.ID.String()+"/export?format=csv", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "black|white,czarny|biały\n") {
		t.Fatalf("csv export: %d %q", w.Code, w.Body.String())
	}
}

func TestMarkdownCell(t *testing.T) {
	tests := map[string]string{
		"cat":       "cat",
		"a|b":       `a\|b`,
		`back\`:     `back\\`,
		"two\nrows": "two rows",
	}
	for in, want := range tests {
		if got := markdownCell(in); got != want {
			t.Errorf("markdownCell(%q) = %q, want %q", in, got, want)
		}
	}
}
