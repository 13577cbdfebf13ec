package optimizer

import (
	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/internal/logging"
)

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithStudentModel sets the model whose prompt or schema is optimized.
func WithStudentModel(model string) Option {
	return func(o *Optimizer) { o.studentModel = model }
}

// WithInitialCandidate sets the starting prompt and schema. A nil schema
// keeps the built-in extraction schema.
func WithInitialCandidate(prompt string, schema *jsonschema.Schema) Option {
	return func(o *Optimizer) {
		o.initial.Prompt = prompt
		if schema != nil {
			o.initial.Schema = schema
		}
	}
}

// WithMaxPromptLength sets the hard prompt length limit. length measures
// prompts in unit; nil counts characters.
func WithMaxPromptLength(maxLength int, unit string, length LengthFunc) Option {
	return func(o *Optimizer) {
		o.maxPromptLength = maxLength
		o.lengthUnit = unit
		if length != nil {
			o.length = length
		}
	}
}

// WithScoreThreshold sets the average score at which a run stops when the
// teacher's stop decision is unavailable.
func WithScoreThreshold(threshold float64) Option {
	return func(o *Optimizer) { o.threshold = threshold }
}

// WithIterations sets the iteration bounds. The stop check is skipped until
// min iterations have run.
func WithIterations(minIterations, maxIterations int) Option {
	return func(o *Optimizer) {
		o.minIterations = minIterations
		o.maxIterations = maxIterations
	}
}

// WithTarget selects what is mutated between iterations: "prompt" or "schema".
func WithTarget(target string) Option {
	return func(o *Optimizer) { o.target = target }
}

func WithStudentTemperature(t float64) Option {
	return func(o *Optimizer) { o.studentTemperature = t }
}

// WithRecorder sets where run artifacts are written.
func WithRecorder(r Recorder) Option {
	return func(o *Optimizer) { o.recorder = r }
}

func WithLogger(logger logging.Logger) Option {
	return func(o *Optimizer) { o.logger = logger }
}

func WithIterationCallback(callback IterationCallback) Option {
	return func(o *Optimizer) { o.iterationCallback = callback }
}

// OptionsFromConfig maps a resolved run configuration to options. schema is
// the starting schema; nil keeps the built-in one.
func OptionsFromConfig(cfg *config.Config, schema *jsonschema.Schema) ([]Option, error) {
	length, err := NewLengthFunc(cfg.LengthUnit)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithStudentModel(cfg.StudentModel),
		WithInitialCandidate(cfg.InitialPrompt, schema),
		WithMaxPromptLength(cfg.MaxPromptLength, cfg.LengthUnit, length),
		WithScoreThreshold(cfg.ScoreThreshold),
		WithIterations(cfg.MinIterations, cfg.MaxIterations),
		WithTarget(cfg.Target),
		WithStudentTemperature(cfg.StudentTemperature),
	}, nil
}
