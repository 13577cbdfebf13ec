package providers

import "context"

// Sampler carries the sampling configuration shared by the batched and the
// sequential generation paths.
type Sampler struct {
	Temperature float64
	MaxTokens   int
}

// Model is a loaded local model.
//
// BatchGenerate must return one output per prompt, in order, or an error.
// Architectures that cannot be batched return an error wrapping
// ErrBatchUnsupported.
type Model interface {
	BatchGenerate(ctx context.Context, prompts []string, s Sampler) ([]string, error)
	Generate(ctx context.Context, prompt string, s Sampler) (string, error)
}

// Tokenizer renders a conversation into the model's prompt format.
type Tokenizer interface {
	ApplyChatTemplate(messages []Message, addGenerationPrompt bool) (string, error)
}

// Runtime loads models by identifier.
type Runtime interface {
	Load(ctx context.Context, modelID string) (Model, Tokenizer, error)
}
