package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/smartwords/api/internal/logger"
	"github.com/smartwords/api/internal/model"
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultTemperature = 0.7

	inputPricePer1K  = 0.03
	outputPricePer1K = 0.06
)

type Config struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	DefaultModel string
	AppURL       string
	AppName      string
}

// OpenRouterClient calls the chat-completions endpoint and retries
// transient failures with exponential backoff.
type OpenRouterClient struct {
	cfg         Config
	httpClient  *http.Client
	log         *logger.Logger
	backoffUnit time.Duration
}

type SentenceRequest struct {
	Words         []model.SnapshotWord
	ModelID       string
	Temperature   *float64
	PromptVersion string
	Level         string
}

type GeneratedSentence struct {
	PlText   string `json:"pl_text"`
	TargetEn string `json:"target_en"`
}

type Usage struct {
	TokensIn  int
	TokensOut int
	CostUSD   float64
}

type SentenceResponse struct {
	Model     string
	Sentences []GeneratedSentence
	Usage     Usage
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema jsonSchemaFormat `json:"json_schema"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func NewOpenRouterClient(cfg Config, baseLog *logger.Logger) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &OpenRouterClient{
		cfg:         cfg,
		httpClient:  &http.Client{},
		log:         baseLog.With("component", "openrouter"),
		backoffUnit: time.Second,
	}
}

func (c *OpenRouterClient) GenerateSentences(ctx context.Context, req SentenceRequest) (*SentenceResponse, error) {
	if c.cfg.APIKey == "" {
		return nil, &Error{Code: CodeConfigError, Message: "OpenRouter API key is not configured"}
	}
	if len(req.Words) == 0 {
		return nil, &Error{Code: CodeBadInput, Message: "at least one word is required"}
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = c.cfg.DefaultModel
	}
	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body, err := json.Marshal(chatRequest{
		Model: modelID,
		Messages: []chatMessage{
			{Role: "user", Content: BuildSentencePrompt(req.PromptVersion, req.Level, req.Words)},
		},
		Temperature: temperature,
		ResponseFormat: responseFormat{
			Type: "json_schema",
			JSONSchema: jsonSchemaFormat{
				Name:   "sentence_generation_response",
				Strict: true,
				Schema: sentenceSchema,
			},
		},
	})
	if err != nil {
		return nil, &Error{Code: CodeBadInput, Message: "failed to marshal request", Err: err}
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		raw, err := c.send(ctx, body)
		if err == nil {
			resp, perr := parseResponse(raw)
			if perr != nil {
				recordCall(modelID, perr.Code, time.Since(start))
				return nil, perr
			}
			recordCall(modelID, "success", time.Since(start))
			recordTokens(resp.Usage)
			return resp, nil
		}

		var lerr *Error
		if !errors.As(err, &lerr) || !lerr.Retryable() || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			code := CodeUnknownError
			if lerr != nil {
				code = lerr.Code
			}
			recordCall(modelID, code, time.Since(start))
			return nil, err
		}

		delay := time.Duration(1<<attempt) * c.backoffUnit
		c.log.Warn("openrouter call failed, retrying",
			"attempt", attempt,
			"code", lerr.Code,
			"delay", delay.String(),
		)
		select {
		case <-ctx.Done():
			recordCall(modelID, CodeTimeout, time.Since(start))
			return nil, &Error{Code: CodeTimeout, Message: "request cancelled during backoff", Err: ctx.Err()}
		case <-time.After(delay):
		}
	}
}

func (c *OpenRouterClient) send(ctx context.Context, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeBadInput, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.AppURL != "" {
		req.Header.Set("HTTP-Referer", c.cfg.AppURL)
	}
	if c.cfg.AppName != "" {
		req.Header.Set("X-Title", c.cfg.AppName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, string(data))
	}
	return data, nil
}

func classifyTransportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Code: CodeTimeout, Message: "request timed out", Err: err}
	}
	return &Error{Code: CodeNetworkError, Message: "network error", Err: err}
}

func parseResponse(raw []byte) (*SentenceResponse, *Error) {
	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "response is not a chat completion", Err: err}
	}
	if chat.ID == "" || chat.Usage == nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "response is missing id or usage"}
	}
	if len(chat.Choices) == 0 || strings.TrimSpace(chat.Choices[0].Message.Content) == "" {
		return nil, &Error{Code: CodeEmptyResponse, Message: "response has no content"}
	}

	content, err := ExtractJSON(chat.Choices[0].Message.Content)
	if err != nil {
		return nil, &Error{Code: CodeParseError, Message: "content is not JSON", Err: err}
	}

	var payload struct {
		Sentences []GeneratedSentence `json:"sentences"`
	}
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, &Error{Code: CodeInvalidResponse, Message: "content does not match the sentence schema", Err: err}
	}
	if len(payload.Sentences) == 0 {
		return nil, &Error{Code: CodeInvalidResponse, Message: "no sentences returned"}
	}
	for i, s := range payload.Sentences {
		if strings.TrimSpace(s.PlText) == "" || strings.TrimSpace(s.TargetEn) == "" {
			return nil, &Error{Code: CodeInvalidResponse, Message: fmt.Sprintf("sentence %d is incomplete", i+1)}
		}
	}

	return &SentenceResponse{
		Model:     chat.Model,
		Sentences: payload.Sentences,
		Usage: Usage{
			TokensIn:  chat.Usage.PromptTokens,
			TokensOut: chat.Usage.CompletionTokens,
			CostUSD:   CalculateCost(chat.Usage.PromptTokens, chat.Usage.CompletionTokens),
		},
	}, nil
}

// CalculateCost prices a call from the fixed per-1K token table, rounded to
// 6 decimal places.
func CalculateCost(tokensIn, tokensOut int) float64 {
	cost := float64(tokensIn)/1000*inputPricePer1K + float64(tokensOut)/1000*outputPricePer1K
	return math.Round(cost*1e6) / 1e6
}

var (
	fenceOpen  = regexp.MustCompile("(?s)^```(?:json)?\\s*")
	fenceClose = regexp.MustCompile("(?s)\\s*```\\s*$")
)

// ExtractJSON extracts the JSON object from model output that may be wrapped
// in a markdown code fence or surrounded by extra text.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)
	response = fenceOpen.ReplaceAllString(response, "")
	response = fenceClose.ReplaceAllString(response, "")
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no valid JSON object found in response")
	}

	jsonStr := response[start : end+1]
	if !json.Valid([]byte(jsonStr)) {
		return "", fmt.Errorf("extracted text is not valid JSON")
	}
	return jsonStr, nil
}
