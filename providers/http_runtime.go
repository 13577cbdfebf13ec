package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teilomillet/extractopt/internal/logging"
)

// HTTPRuntime serves local models through an OpenAI-compatible text
// completions endpoint (vLLM, llama.cpp server, LM Studio). A batch is a
// single request whose prompt is an array.
type HTTPRuntime struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	unbatchable []string
	logger      logging.Logger
}

// NewHTTPRuntime creates a runtime rooted at endpoint (e.g.
// "http://localhost:8000/v1"). Model identifiers containing one of
// unbatchable (case-insensitive) are treated as non-batchable architectures.
func NewHTTPRuntime(endpoint, apiKey string, timeout time.Duration, unbatchable []string, logger logging.Logger) *HTTPRuntime {
	if logger == nil {
		logger = logging.NewLogger(logging.LogLevelWarn)
	}
	return &HTTPRuntime{
		endpoint:    strings.TrimRight(endpoint, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: timeout},
		unbatchable: unbatchable,
		logger:      logger,
	}
}

// Load checks that the server lists modelID and returns a handle for it.
func (r *HTTPRuntime) Load(ctx context.Context, modelID string) (Model, Tokenizer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/models", nil)
	if err != nil {
		return nil, nil, err
	}
	r.setHeaders(req)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("listing models: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading model list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, statusError(resp.StatusCode, body)
	}

	var list struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, nil, fmt.Errorf("parsing model list: %w", err)
	}
	found := false
	for _, m := range list.Data {
		if m.ID == modelID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("model %q is not served at %s", modelID, r.endpoint)
	}

	model := &httpModel{runtime: r, id: modelID, architecture: r.architecture(modelID)}
	r.logger.Debug("Model loaded", "model", modelID, "architecture", model.architecture)
	return model, ChatMLTokenizer{}, nil
}

// architecture returns the matching unbatchable architecture name, or "".
func (r *HTTPRuntime) architecture(modelID string) string {
	lower := strings.ToLower(modelID)
	for _, arch := range r.unbatchable {
		arch = strings.ToLower(strings.TrimSpace(arch))
		if arch != "" && strings.Contains(lower, arch) {
			return arch
		}
	}
	return ""
}

func (r *HTTPRuntime) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      any      `json:"prompt"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Index int    `json:"index"`
		Text  string `json:"text"`
	} `json:"choices"`
}

type httpModel struct {
	runtime      *HTTPRuntime
	id           string
	architecture string
}

func (m *httpModel) BatchGenerate(ctx context.Context, prompts []string, s Sampler) ([]string, error) {
	if m.architecture != "" {
		return nil, fmt.Errorf("%w: %s", ErrBatchUnsupported, m.architecture)
	}
	texts, err := m.complete(ctx, prompts, len(prompts), s)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) && rejectsPromptArray(genErr) {
			return nil, fmt.Errorf("%w: %v", ErrBatchUnsupported, genErr)
		}
		return nil, err
	}
	return texts, nil
}

// rejectsPromptArray reports whether the server refused a batched request
// because of the array prompt itself. A 501 always counts; a 400 or 422 only
// when the error body names the prompt as a list, array or batch, so other
// bad requests are not retried one by one.
func rejectsPromptArray(err *GenerationError) bool {
	switch err.StatusCode {
	case http.StatusNotImplemented:
		return true
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		msg := strings.ToLower(err.Message)
		if !strings.Contains(msg, "prompt") {
			return false
		}
		for _, word := range []string{"array", "list", "batch"} {
			if strings.Contains(msg, word) {
				return true
			}
		}
	}
	return false
}

func (m *httpModel) Generate(ctx context.Context, prompt string, s Sampler) (string, error) {
	texts, err := m.complete(ctx, prompt, 1, s)
	if err != nil {
		return "", err
	}
	return texts[0], nil
}

func (m *httpModel) complete(ctx context.Context, prompt any, n int, s Sampler) ([]string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       m.id,
		Prompt:      prompt,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		Stop:        []string{ChatMLStop},
	})
	if err != nil {
		return nil, NewGenerationError(ErrorTypeRequest, "failed to marshal request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.runtime.endpoint+"/completions", bytes.NewReader(body))
	if err != nil {
		return nil, NewGenerationError(ErrorTypeRequest, "failed to create request", err)
	}
	m.runtime.setHeaders(req)

	resp, err := m.runtime.client.Do(req)
	if err != nil {
		return nil, NewGenerationError(ErrorTypeRequest, "failed to send request", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewGenerationError(ErrorTypeResponse, "failed to read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, respBody)
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, NewGenerationError(ErrorTypeResponse, "failed to parse response", err)
	}
	if len(parsed.Choices) != n {
		return nil, NewGenerationError(ErrorTypeResponse, fmt.Sprintf("expected %d choices, got %d", n, len(parsed.Choices)), nil)
	}
	texts := make([]string, n)
	seen := make([]bool, n)
	for _, c := range parsed.Choices {
		if c.Index < 0 || c.Index >= n || seen[c.Index] {
			return nil, NewGenerationError(ErrorTypeResponse, fmt.Sprintf("unexpected choice index %d", c.Index), nil)
		}
		seen[c.Index] = true
		texts[c.Index] = c.Text
	}
	return texts, nil
}
