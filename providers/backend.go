// Package providers implements the generation backends the optimizer runs
// against: a remote OpenAI-compatible chat API and a locally batched
// inference runtime. Both satisfy Backend, so callers never depend on
// which one is in use.
package providers

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/internal/logging"
)

// Backend sends a batch of conversations to a named model.
//
// Submit returns exactly one Result per conversation, in input order. A
// failed conversation is reported through Result.Err and never aborts the
// rest of the batch from the caller's point of view. When schema is non-nil
// the backend constrains (or asks) the model to answer with a matching JSON
// document.
type Backend interface {
	Name() string
	Submit(ctx context.Context, model string, convs []Conversation, schema *jsonschema.Schema, temperature float64) []Result
}

// New builds the backend selected by cfg.Backend.
func New(cfg *config.Config, logger logging.Logger) (Backend, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		return NewRemoteBackend(cfg.BaseURL, cfg.APIKey,
			WithLogger(logger),
			WithTimeout(cfg.Timeout),
			WithConcurrency(cfg.Concurrency),
			WithRateLimit(cfg.RateLimit),
			WithRetry(cfg.MaxRetries, cfg.RetryDelay),
			WithMaxTokens(cfg.MaxTokens),
		), nil
	case config.BackendLocal:
		runtime := NewHTTPRuntime(cfg.LocalEndpoint, cfg.APIKey, cfg.Timeout, cfg.UnbatchableArchitectures, logger)
		return NewLocalBackend(runtime, cfg.MaxTokens, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
