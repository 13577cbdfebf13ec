package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/extractopt/internal/logging"
)

// completionServer serves /v1/models and /v1/completions. Array prompts are
// rejected with rejectArrays when it is non-zero, answering rejectBody or a
// message naming the array prompt.
func completionServer(t *testing.T, rejectArrays int, rejectBody ...string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"qwen-7b"},{"id":"falcon-mamba-7b"}]}`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Prompt json.RawMessage `json:"prompt"`
			Stop   []string        `json:"stop"`
		}
		if !assert.NoError(t, json.Unmarshal(body, &req)) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		assert.Equal(t, []string{ChatMLStop}, req.Stop)

		var prompts []string
		if err := json.Unmarshal(req.Prompt, &prompts); err == nil {
			if rejectArrays != 0 {
				msg := `{"error":"prompt must be a string, not a list"}`
				if len(rejectBody) > 0 {
					msg = rejectBody[0]
				}
				w.WriteHeader(rejectArrays)
				_, _ = w.Write([]byte(msg))
				return
			}
		} else {
			var single string
			if !assert.NoError(t, json.Unmarshal(req.Prompt, &single)) {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			prompts = []string{single}
		}

		// answer in reverse index order to check reassembly
		choices := make([]map[string]any, 0, len(prompts))
		for i := len(prompts) - 1; i >= 0; i-- {
			choices = append(choices, map[string]any{"index": i, "text": fmt.Sprintf("out:%d:%d", i, len(prompts[i]))})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": choices})
	})
	return httptest.NewServer(mux)
}

func newTestRuntime(url string) *HTTPRuntime {
	return NewHTTPRuntime(url+"/v1", "", 5*time.Second, []string{"mamba", "rwkv"}, logging.NewMockLogger())
}

func TestHTTPRuntimeLoad(t *testing.T) {
	srv := completionServer(t, 0)
	defer srv.Close()
	rt := newTestRuntime(srv.URL)

	model, tok, err := rt.Load(context.Background(), "qwen-7b")
	require.NoError(t, err)
	assert.NotNil(t, model)
	assert.IsType(t, ChatMLTokenizer{}, tok)

	_, _, err = rt.Load(context.Background(), "missing")
	assert.ErrorContains(t, err, "not served")
}

func TestHTTPRuntimeBatchGenerate(t *testing.T) {
	srv := completionServer(t, 0)
	defer srv.Close()

	model, _, err := newTestRuntime(srv.URL).Load(context.Background(), "qwen-7b")
	require.NoError(t, err)

	out, err := model.BatchGenerate(context.Background(), []string{"a", "bb", "ccc"}, Sampler{Temperature: 0.1, MaxTokens: 32})
	require.NoError(t, err)
	assert.Equal(t, []string{"out:0:1", "out:1:2", "out:2:3"}, out)

	single, err := model.Generate(context.Background(), "dddd", Sampler{})
	require.NoError(t, err)
	assert.Equal(t, "out:0:4", single)
}

func TestHTTPRuntimeUnbatchableArchitecture(t *testing.T) {
	srv := completionServer(t, 0)
	defer srv.Close()

	model, _, err := newTestRuntime(srv.URL).Load(context.Background(), "falcon-mamba-7b")
	require.NoError(t, err)

	_, err = model.BatchGenerate(context.Background(), []string{"a"}, Sampler{})
	assert.True(t, errors.Is(err, ErrBatchUnsupported))
}

func TestHTTPRuntimeArrayRejectedIsBatchUnsupported(t *testing.T) {
	srv := completionServer(t, http.StatusUnprocessableEntity)
	defer srv.Close()

	model, _, err := newTestRuntime(srv.URL).Load(context.Background(), "qwen-7b")
	require.NoError(t, err)

	_, err = model.BatchGenerate(context.Background(), []string{"a", "b"}, Sampler{})
	assert.True(t, errors.Is(err, ErrBatchUnsupported))
}

func TestHTTPRuntimeOtherBadRequestIsNotBatchUnsupported(t *testing.T) {
	srv := completionServer(t, http.StatusBadRequest, `{"error":"maximum context length exceeded"}`)
	defer srv.Close()

	model, _, err := newTestRuntime(srv.URL).Load(context.Background(), "qwen-7b")
	require.NoError(t, err)

	_, err = model.BatchGenerate(context.Background(), []string{"a", "b"}, Sampler{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrBatchUnsupported))

	srv501 := completionServer(t, http.StatusNotImplemented, "")
	defer srv501.Close()
	model, _, err = newTestRuntime(srv501.URL).Load(context.Background(), "qwen-7b")
	require.NoError(t, err)
	_, err = model.BatchGenerate(context.Background(), []string{"a", "b"}, Sampler{})
	assert.True(t, errors.Is(err, ErrBatchUnsupported))
}

func TestLocalBackendOverHTTPRuntimeFallsBack(t *testing.T) {
	srv := completionServer(t, http.StatusBadRequest)
	defer srv.Close()

	b := NewLocalBackend(newTestRuntime(srv.URL), 32, logging.NewMockLogger())
	results := b.Submit(context.Background(), "qwen-7b", testConvs(3), nil, 0.1)

	require.Len(t, results, 3)
	for _, r := range results {
		require.True(t, r.OK(), "%v", r.Err)
		assert.Contains(t, r.Text, "out:0:")
	}
}

func TestChatMLTemplate(t *testing.T) {
	out, err := ChatMLTokenizer{}.ApplyChatTemplate([]Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "<|im_start|>system\nbe brief<|im_end|>\n<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n", out)

	out, err = ChatMLTokenizer{}.ApplyChatTemplate([]Message{{Role: RoleUser, Content: "x"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "<|im_start|>user\nx<|im_end|>\n", out)
}

func TestGenerationErrorRetryable(t *testing.T) {
	assert.True(t, statusError(http.StatusServiceUnavailable, nil).Retryable())
	assert.True(t, statusError(http.StatusTooManyRequests, nil).Retryable())
	assert.False(t, statusError(http.StatusBadRequest, nil).Retryable())
	assert.False(t, statusError(http.StatusForbidden, nil).Retryable())
	assert.True(t, NewGenerationError(ErrorTypeRequest, "dial", errors.New("refused")).Retryable())

	err := NewGenerationError(ErrorTypeLoad, "failed", errors.New("boom"))
	assert.Equal(t, "LoadError (failed): boom", err.Error())
	assert.Equal(t, "BatchError: x", NewGenerationError(ErrorTypeBatch, "x", nil).Error())
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", statusError(502, []byte("bad gateway")))))
}
