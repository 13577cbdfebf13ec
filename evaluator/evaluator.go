package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/internal/logging"
	"github.com/teilomillet/extractopt/providers"
)

// ErrEmptyResponse is returned when the teacher answered with nothing usable.
var ErrEmptyResponse = errors.New("empty teacher response")

// Submission pairs a source document with the student output to audit.
type Submission struct {
	Document string
	Output   string
}

// CritiqueResult is the outcome of auditing one Submission. Err is set when
// generation failed or the answer could not be parsed; Raw keeps the
// teacher's text whenever there was one.
type CritiqueResult struct {
	Critique Critique
	Raw      string
	Err      error
}

// Evaluator runs the teacher side of the protocol on top of a Backend.
type Evaluator struct {
	backend             providers.Backend
	model               string
	temperature         float64
	mutationTemperature float64
	logger              logging.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTemperature sets the sampling temperature for scoring, stop decisions,
// shortening and summaries.
func WithTemperature(t float64) Option {
	return func(e *Evaluator) { e.temperature = t }
}

// WithMutationTemperature sets the sampling temperature for prompt and
// schema rewrites.
func WithMutationTemperature(t float64) Option {
	return func(e *Evaluator) { e.mutationTemperature = t }
}

func WithLogger(logger logging.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// New creates an Evaluator that sends every request to model on backend.
func New(backend providers.Backend, model string, opts ...Option) *Evaluator {
	e := &Evaluator{
		backend:             backend,
		model:               model,
		temperature:         0.1,
		mutationTemperature: 0.7,
		logger:              logging.NewLogger(logging.LogLevelWarn),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the teacher model identifier.
func (e *Evaluator) Model() string { return e.model }

// ask sends a single user message and returns the teacher's text.
func (e *Evaluator) ask(ctx context.Context, prompt string, schema *jsonschema.Schema, temperature float64) (string, error) {
	results := e.backend.Submit(ctx, e.model, []providers.Conversation{providers.NewConversation("", prompt)}, schema, temperature)
	if len(results) != 1 {
		return "", fmt.Errorf("backend returned %d results for 1 conversation", len(results))
	}
	if !results[0].OK() {
		return "", results[0].Err
	}
	return results[0].Text, nil
}

// Critique audits every submission in one batched call. The returned slice
// is aligned with subs.
func (e *Evaluator) Critique(ctx context.Context, subs []Submission) []CritiqueResult {
	out := make([]CritiqueResult, len(subs))
	if len(subs) == 0 {
		return out
	}
	convs := make([]providers.Conversation, len(subs))
	for i, s := range subs {
		convs[i] = EvaluationConversation(s.Document, s.Output)
	}

	results := e.backend.Submit(ctx, e.model, convs, critiqueSchema, e.temperature)
	for i := range out {
		if i >= len(results) {
			out[i].Err = fmt.Errorf("no result for submission %d", i)
			continue
		}
		r := results[i]
		if !r.OK() {
			out[i].Err = r.Err
			continue
		}
		out[i].Raw = r.Text
		out[i].Critique, out[i].Err = ParseCritique(r.Text)
		if out[i].Err != nil {
			e.logger.Debug("Critique rejected", "index", i, "error", out[i].Err, "raw", r.Text)
		}
	}
	return out
}

// ShouldStop asks the teacher whether optimization should halt. Any error
// means the verdict is unknown and the caller applies its own fallback.
func (e *Evaluator) ShouldStop(ctx context.Context, in StopInput) (StopDecision, error) {
	text, err := e.ask(ctx, MetaEvaluationPrompt(in), stopDecisionSchema, e.temperature)
	if err != nil {
		return StopDecision{}, err
	}
	return ParseStopDecision(text)
}

// RewritePrompt asks the teacher for an improved prompt and returns it
// normalized. The length limit is only requested, not checked.
func (e *Evaluator) RewritePrompt(ctx context.Context, current string, feedback []string, maxLength int, unit string) (string, error) {
	text, err := e.ask(ctx, RewritePromptPrompt(current, feedback, maxLength, unit), nil, e.mutationTemperature)
	if err != nil {
		return "", err
	}
	prompt := NormalizePrompt(text)
	if prompt == "" {
		return "", ErrEmptyResponse
	}
	return prompt, nil
}

// RewriteSchema asks the teacher for an improved schema.
func (e *Evaluator) RewriteSchema(ctx context.Context, current *jsonschema.Schema, prompt string, feedback []string) (*jsonschema.Schema, error) {
	schemaJSON, err := SchemaJSON(current)
	if err != nil {
		return nil, err
	}
	text, err := e.ask(ctx, RewriteSchemaPrompt(schemaJSON, prompt, feedback), nil, e.mutationTemperature)
	if err != nil {
		return nil, err
	}
	return ParseSchema(text)
}

// Shorten asks the teacher for a more concise version of text.
func (e *Evaluator) Shorten(ctx context.Context, text string, maxLength int, unit string) (string, error) {
	answer, err := e.ask(ctx, ShortenPrompt(text, maxLength, unit), nil, e.temperature)
	if err != nil {
		return "", err
	}
	shortened := NormalizePrompt(answer)
	if shortened == "" {
		return "", ErrEmptyResponse
	}
	return shortened, nil
}

// Summarize asks the teacher for a natural-language summary of a run.
// history is rendered as indented JSON.
func (e *Evaluator) Summarize(ctx context.Context, history any) (string, error) {
	b, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}
	text, err := e.ask(ctx, SummaryPrompt(string(b)), nil, e.temperature)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
