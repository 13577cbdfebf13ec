package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/internal/logging"
)

type loadedModel struct {
	id        string
	model     Model
	tokenizer Tokenizer
}

// LocalBackend runs conversations through a locally loaded model.
//
// It keeps one current model plus a cache of every model it has loaded, so
// alternating between the student and teacher identifiers does not reload
// weights. A batch is attempted first; when the architecture cannot be
// batched it falls back to one-at-a-time generation with the same sampler.
// Any other batch failure fails every entry of the batch.
//
// The loaded model is never shared between in-flight calls: Submit holds
// the backend's lock for the whole batch.
type LocalBackend struct {
	runtime   Runtime
	logger    logging.Logger
	maxTokens int

	mu      sync.Mutex
	cache   map[string]*loadedModel
	current *loadedModel
}

func NewLocalBackend(runtime Runtime, maxTokens int, logger logging.Logger) *LocalBackend {
	if logger == nil {
		logger = logging.NewLogger(logging.LogLevelWarn)
	}
	return &LocalBackend{
		runtime:   runtime,
		logger:    logger,
		maxTokens: maxTokens,
		cache:     make(map[string]*loadedModel),
	}
}

func (b *LocalBackend) Name() string {
	return "local"
}

// CurrentModel returns the identifier of the model currently loaded.
func (b *LocalBackend) CurrentModel() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ""
	}
	return b.current.id
}

func (b *LocalBackend) load(ctx context.Context, modelID string) error {
	if b.current != nil && b.current.id == modelID {
		return nil
	}
	if cached, ok := b.cache[modelID]; ok {
		b.logger.Debug("Switching to cached model", "model", modelID)
		b.current = cached
		return nil
	}

	b.logger.Info("Loading model", "model", modelID)
	model, tokenizer, err := b.runtime.Load(ctx, modelID)
	if err != nil {
		return NewGenerationError(ErrorTypeLoad, fmt.Sprintf("failed to load model %s", modelID), err)
	}
	lm := &loadedModel{id: modelID, model: model, tokenizer: tokenizer}
	b.cache[modelID] = lm
	b.current = lm
	return nil
}

func (b *LocalBackend) Submit(ctx context.Context, modelID string, convs []Conversation, schema *jsonschema.Schema, temperature float64) []Result {
	if len(convs) == 0 {
		return []Result{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.load(ctx, modelID); err != nil {
		b.logger.Error("Model load failed", "model", modelID, "error", err)
		return failAll(len(convs), err)
	}

	hint, err := schemaHint(schema)
	if err != nil {
		b.logger.Warn("Failed to marshal schema, generating without hint", "error", err)
	}

	prompts := make([]string, len(convs))
	for i, conv := range convs {
		prompt, err := b.current.tokenizer.ApplyChatTemplate(appendHint(conv, hint), true)
		if err != nil {
			genErr := NewGenerationError(ErrorTypeBatch, "failed to apply chat template", err)
			b.logger.Error("Batch preparation failed", "model", modelID, "index", i, "error", err)
			return failAll(len(convs), genErr)
		}
		prompts[i] = prompt
	}

	sampler := Sampler{Temperature: temperature, MaxTokens: b.maxTokens}
	texts, err := b.current.model.BatchGenerate(ctx, prompts, sampler)
	switch {
	case err == nil && len(texts) == len(prompts):
		results := make([]Result, len(texts))
		for i, text := range texts {
			results[i] = Result{Text: text}
		}
		return results
	case err == nil:
		err = fmt.Errorf("batch returned %d outputs for %d prompts", len(texts), len(prompts))
	case errors.Is(err, ErrBatchUnsupported):
		b.logger.Warn("Batch generation not supported for this model architecture, falling back to sequential generation",
			"model", modelID, "reason", err)
		return b.sequential(ctx, modelID, prompts, sampler)
	}

	b.logger.Error("Batch generation failed", "model", modelID, "error", err)
	return failAll(len(convs), NewGenerationError(ErrorTypeBatch, "batch generation failed", err))
}

func (b *LocalBackend) sequential(ctx context.Context, modelID string, prompts []string, sampler Sampler) []Result {
	results := make([]Result, len(prompts))
	for i, prompt := range prompts {
		text, err := b.current.model.Generate(ctx, prompt, sampler)
		if err != nil {
			b.logger.Error("Sequential generation failed", "model", modelID, "index", i, "error", err)
			results[i] = Result{Err: NewGenerationError(ErrorTypeResponse, fmt.Sprintf("sequence %d", i), err)}
			continue
		}
		results[i] = Result{Text: text}
		b.logger.Debug("Processed sequentially", "model", modelID, "done", i+1, "total", len(prompts))
	}
	return results
}

func schemaHint(schema *jsonschema.Schema) (string, error) {
	if schema == nil {
		return "", nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return "\n\nOutput MUST follow this JSON schema: " + string(data), nil
}

// appendHint returns conv with hint appended to its last message when that
// message is a user turn. conv itself is left untouched.
func appendHint(conv Conversation, hint string) []Message {
	msgs := conv.Clone()
	if hint == "" || len(msgs) == 0 {
		return msgs
	}
	last := len(msgs) - 1
	if msgs[last].Role == RoleUser {
		msgs[last].Content += hint
	}
	return msgs
}

var _ Backend = (*LocalBackend)(nil)
