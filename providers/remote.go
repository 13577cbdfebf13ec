package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teilomillet/extractopt/internal/logging"
)

// RemoteBackend talks to an OpenAI-compatible chat completions API
// (OpenAI, LM Studio, vLLM, OpenRouter ...). There is no network batching:
// every conversation is its own request, so failures are isolated per entry.
type RemoteBackend struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	logger      logging.Logger
	limiter     *rate.Limiter
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	maxTokens   int
}

type RemoteOption func(*RemoteBackend)

func WithHTTPClient(client *http.Client) RemoteOption {
	return func(b *RemoteBackend) {
		b.client = client
	}
}

func WithTimeout(timeout time.Duration) RemoteOption {
	return func(b *RemoteBackend) {
		client := *b.client
		client.Timeout = timeout
		b.client = &client
	}
}

func WithLogger(logger logging.Logger) RemoteOption {
	return func(b *RemoteBackend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConcurrency bounds the number of requests in flight for one Submit.
func WithConcurrency(n int) RemoteOption {
	return func(b *RemoteBackend) {
		if n < 1 {
			n = 1
		}
		b.concurrency = n
	}
}

// WithRateLimit throttles requests to perSecond; zero disables the limiter.
func WithRateLimit(perSecond float64) RemoteOption {
	return func(b *RemoteBackend) {
		if perSecond <= 0 {
			b.limiter = nil
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func WithRetry(maxRetries int, delay time.Duration) RemoteOption {
	return func(b *RemoteBackend) {
		b.maxRetries = maxRetries
		b.retryDelay = delay
	}
}

func WithMaxTokens(n int) RemoteOption {
	return func(b *RemoteBackend) {
		b.maxTokens = n
	}
}

// NewRemoteBackend creates a backend for the API rooted at baseURL
// (e.g. "http://localhost:1234/v1").
func NewRemoteBackend(baseURL, apiKey string, opts ...RemoteOption) *RemoteBackend {
	b := &RemoteBackend{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: 120 * time.Second},
		logger:      logging.NewLogger(logging.LogLevelWarn),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RemoteBackend) Name() string {
	return "remote"
}

// Endpoint returns the chat completions URL.
func (b *RemoteBackend) Endpoint() string {
	return b.baseURL + "/chat/completions"
}

type responseFormat struct {
	Type       string           `json:"type"`
	JSONSchema *namedJSONSchema `json:"json_schema,omitempty"`
}

type namedJSONSchema struct {
	Name   string             `json:"name"`
	Schema *jsonschema.Schema `json:"schema"`
	Strict bool               `json:"strict"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       Conversation    `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Submit issues one request per conversation, at most concurrency at a time.
func (b *RemoteBackend) Submit(ctx context.Context, model string, convs []Conversation, schema *jsonschema.Schema, temperature float64) []Result {
	results := make([]Result, len(convs))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, conv := range convs {
		g.Go(func() error {
			text, err := b.generate(ctx, model, conv, schema, temperature)
			if err != nil {
				b.logger.Error("Generation failed", "backend", b.Name(), "model", model, "index", i, "error", err)
				results[i] = Result{Err: err}
				return nil
			}
			results[i] = Result{Text: text}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *RemoteBackend) generate(ctx context.Context, model string, conv Conversation, schema *jsonschema.Schema, temperature float64) (string, error) {
	body, err := json.Marshal(b.buildRequest(model, conv, schema, temperature))
	if err != nil {
		return "", NewGenerationError(ErrorTypeRequest, "failed to marshal request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			b.logger.Debug("Retrying", "model", model, "attempt", attempt+1, "delay", b.retryDelay)
			if err := b.wait(ctx); err != nil {
				return "", err
			}
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return "", NewGenerationError(ErrorTypeRequest, "rate limiter", err)
			}
		}

		text, err := b.attempt(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) || ctx.Err() != nil {
			break
		}
		b.logger.Warn("Generation attempt failed", "model", model, "attempt", attempt+1, "error", err)
	}
	return "", lastErr
}

func (b *RemoteBackend) buildRequest(model string, conv Conversation, schema *jsonschema.Schema, temperature float64) chatRequest {
	req := chatRequest{
		Model:       model,
		Messages:    conv,
		Temperature: temperature,
		MaxTokens:   b.maxTokens,
	}
	if schema != nil {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &namedJSONSchema{
				Name:   "response_data",
				Schema: schema,
				Strict: false,
			},
		}
	}
	return req
}

func (b *RemoteBackend) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.retryDelay):
		return nil
	}
}

func (b *RemoteBackend) attempt(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", NewGenerationError(ErrorTypeRequest, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", NewGenerationError(ErrorTypeRequest, "failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewGenerationError(ErrorTypeResponse, "failed to read response body", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", NewGenerationError(ErrorTypeResponse, "failed to parse response", err)
	}
	if parsed.Error != nil {
		return "", NewGenerationError(ErrorTypeAPI, parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", NewGenerationError(ErrorTypeResponse, "empty response from API", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ Backend = (*RemoteBackend)(nil)

func (b *RemoteBackend) String() string {
	return fmt.Sprintf("remote(%s)", b.baseURL)
}
