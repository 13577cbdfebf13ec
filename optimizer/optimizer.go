// Package optimizer runs the closed feedback loop that improves a student
// model's extraction prompt (or schema) using a teacher model's critiques.
//
// Each iteration generates extractions for every benchmark document,
// scores them, updates the best candidate, asks the teacher whether to stop
// and, unless it was the last allowed iteration, mutates the candidate. The
// search is greedy: the only backtracking is keeping the best candidate.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/artifacts"
	"github.com/teilomillet/extractopt/config"
	"github.com/teilomillet/extractopt/documents"
	"github.com/teilomillet/extractopt/evaluator"
	"github.com/teilomillet/extractopt/internal/logging"
	"github.com/teilomillet/extractopt/providers"
)

// Teacher is the evaluator side of the loop.
type Teacher interface {
	Shortener
	Critique(ctx context.Context, subs []evaluator.Submission) []evaluator.CritiqueResult
	ShouldStop(ctx context.Context, in evaluator.StopInput) (evaluator.StopDecision, error)
	RewritePrompt(ctx context.Context, current string, feedback []string, maxLength int, unit string) (string, error)
	RewriteSchema(ctx context.Context, current *jsonschema.Schema, prompt string, feedback []string) (*jsonschema.Schema, error)
	Summarize(ctx context.Context, history any) (string, error)
}

// Recorder persists run artifacts. Implementations handle their own write
// failures.
type Recorder interface {
	SaveCandidate(iteration int, prompt string, schema *jsonschema.Schema)
	SaveOutput(iteration, document int, output string)
	LogRow(row artifacts.Row)
	SaveBest(target, prompt string, schema *jsonschema.Schema, score float64)
	SaveSummary(summary string)
}

type nopRecorder struct{}

func (nopRecorder) SaveCandidate(int, string, *jsonschema.Schema)        {}
func (nopRecorder) SaveOutput(int, int, string)                          {}
func (nopRecorder) LogRow(artifacts.Row)                                 {}
func (nopRecorder) SaveBest(string, string, *jsonschema.Schema, float64) {}
func (nopRecorder) SaveSummary(string)                                   {}

var (
	_ Teacher  = (*evaluator.Evaluator)(nil)
	_ Recorder = (*artifacts.Store)(nil)
)

// Optimizer drives one optimization run. It is not safe for concurrent Runs.
type Optimizer struct {
	backend  providers.Backend
	teacher  Teacher
	docs     []documents.Document
	enforcer *Enforcer

	studentModel       string
	initial            Candidate
	maxPromptLength    int
	lengthUnit         string
	length             LengthFunc
	threshold          float64
	minIterations      int
	maxIterations      int
	target             string
	studentTemperature float64

	recorder          Recorder
	logger            logging.Logger
	iterationCallback IterationCallback
}

// New creates an Optimizer generating with backend and judging with teacher
// over docs.
func New(backend providers.Backend, teacher Teacher, docs []documents.Document, opts ...Option) (*Optimizer, error) {
	o := &Optimizer{
		backend:            backend,
		teacher:            teacher,
		docs:               docs,
		initial:            Candidate{Prompt: config.DefaultInitialPrompt, Schema: evaluator.DefaultExtractionSchema()},
		maxPromptLength:    DefaultMaxPromptLength,
		lengthUnit:         config.LengthUnitChars,
		length:             CharLength,
		threshold:          DefaultScoreThreshold,
		minIterations:      DefaultMinIterations,
		maxIterations:      DefaultMaxIterations,
		target:             config.TargetPrompt,
		studentTemperature: DefaultStudentTemperature,
		recorder:           nopRecorder{},
		logger:             logging.NewLogger(logging.LogLevelInfo),
	}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case o.backend == nil:
		return nil, errors.New("optimizer: backend is required")
	case o.teacher == nil:
		return nil, errors.New("optimizer: teacher is required")
	case len(o.docs) == 0:
		return nil, errors.New("optimizer: at least one document is required")
	case o.studentModel == "":
		return nil, errors.New("optimizer: student model is required")
	case o.maxPromptLength <= 0:
		return nil, fmt.Errorf("optimizer: max prompt length must be positive, got %d", o.maxPromptLength)
	case o.maxIterations < 1:
		return nil, fmt.Errorf("optimizer: max iterations must be at least 1, got %d", o.maxIterations)
	case o.minIterations > o.maxIterations:
		return nil, fmt.Errorf("optimizer: min iterations %d exceeds max iterations %d", o.minIterations, o.maxIterations)
	case o.target != config.TargetPrompt && o.target != config.TargetSchema:
		return nil, fmt.Errorf("optimizer: unknown target %q", o.target)
	case o.initial.Schema == nil:
		return nil, errors.New("optimizer: initial schema is required")
	}

	o.enforcer = NewEnforcer(teacher, o.maxPromptLength, o.lengthUnit, o.length, o.logger)
	return o, nil
}

// runState is everything a run accumulates. Only Run touches it.
type runState struct {
	current Candidate
	best    BestCandidate
	history []IterationRecord
}

func newRunState(start Candidate) *runState {
	return &runState{
		current: start,
		best:    BestCandidate{Candidate: start.Clone(), Score: DefaultInitialScore},
	}
}

// record appends r to the history and reports whether it became the best.
func (s *runState) record(r IterationRecord) bool {
	s.history = append(s.history, r)
	if r.Average > s.best.Score {
		s.best = BestCandidate{Candidate: r.Candidate.Clone(), Score: r.Average, Iteration: r.Iteration}
		return true
	}
	return false
}

// Run executes the optimization loop until the teacher stops it, the score
// threshold is reached as a fallback, or the iteration budget runs out.
//
// It returns ErrPromptTooLong, before any artifact is written, when the
// starting prompt cannot be shortened under the limit, and the context's
// error when ctx is cancelled. Every other fault is logged and absorbed.
func (o *Optimizer) Run(ctx context.Context) (result *Result, err error) {
	ctx, span := startSpan(ctx, "optimizer.Run", attrTarget.String(o.target), attrDocuments.Int(len(o.docs)))
	defer func() { endSpan(span, err) }()

	prompt, enforceErr := o.enforcer.Enforce(ctx, o.initial.Prompt)
	if enforceErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		o.logger.Error("Initial prompt exceeds maximum length", "max_length", o.maxPromptLength, "unit", o.lengthUnit, "error", enforceErr)
		return nil, fmt.Errorf("%w: %w", ErrPromptTooLong, enforceErr)
	}
	state := newRunState(Candidate{Prompt: prompt, Schema: o.initial.Schema}.Clone())

	o.logger.Info("Starting optimization",
		"student", o.studentModel,
		"target", o.target,
		"documents", len(o.docs),
		"max_iterations", o.maxIterations)

	termination := MaxIterations
	for i := 0; i < o.maxIterations; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		record, iterErr := o.iterate(ctx, state, i+1)
		if iterErr != nil {
			return nil, iterErr
		}

		if stop, ok := o.checkStop(ctx, record); ok {
			termination = stop
			break
		}
		if i == o.maxIterations-1 {
			break
		}
		o.mutate(ctx, state, record)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}

	return o.finish(ctx, state, termination), nil
}

type studentOutput struct {
	doc  documents.Document
	text string
}

// iterate runs the generate, evaluate, aggregate and record steps for
// iteration n (1-based).
func (o *Optimizer) iterate(ctx context.Context, state *runState, n int) (IterationRecord, error) {
	ctx, span := startSpan(ctx, "optimizer.Iteration", attrIteration.Int(n))
	candidate := state.current.Clone()
	o.recorder.SaveCandidate(n, candidate.Prompt, candidate.Schema)

	outputs, failures := o.generate(ctx, n, candidate)
	if err := ctx.Err(); err != nil {
		endSpan(span, err)
		return IterationRecord{}, err
	}

	critiques, evalFailures := o.evaluate(ctx, n, candidate, outputs)
	if err := ctx.Err(); err != nil {
		endSpan(span, err)
		return IterationRecord{}, err
	}
	failures = append(failures, evalFailures...)

	record := IterationRecord{
		Iteration: n,
		Candidate: candidate,
		Critiques: critiques,
		Failures:  failures,
		Average:   average(critiques),
	}
	improved := state.record(record)
	recordIteration(record.Average, state.best.Score)
	span.SetAttributes(attrAverage.Float64(record.Average), attrFailures.Int(len(failures)))
	endSpan(span, nil)

	o.logger.Info("Iteration complete",
		"iteration", n,
		"average", record.Average,
		"scored", len(critiques),
		"failures", len(failures),
		"best_score", state.best.Score)
	if improved {
		o.logger.Info("New best candidate", "iteration", n, "score", record.Average)
	}
	if o.iterationCallback != nil {
		o.iterationCallback(record)
	}
	return record, nil
}

// generate asks the student for one extraction per document. Failed or
// empty generations are dropped for this iteration.
func (o *Optimizer) generate(ctx context.Context, n int, candidate Candidate) ([]studentOutput, []Failure) {
	ctx, span := startSpan(ctx, "optimizer.Generate", attrIteration.Int(n), attrModel.String(o.studentModel))
	defer span.End()

	convs := make([]providers.Conversation, len(o.docs))
	for j, doc := range o.docs {
		convs[j] = providers.NewConversation(candidate.Prompt, doc.Text)
	}
	results := o.backend.Submit(ctx, o.studentModel, convs, candidate.Schema, o.studentTemperature)

	var (
		outputs  []studentOutput
		failures []Failure
	)
	for j, doc := range o.docs {
		var err error
		switch {
		case j >= len(results):
			err = errors.New("no result returned")
		case !results[j].OK():
			err = results[j].Err
		case strings.TrimSpace(results[j].Text) == "":
			err = errors.New("empty output")
		}
		if err != nil {
			o.logger.Warn("Student generation failed", "iteration", n, "document", doc.ID, "error", err)
			recordGenerationFailure("student")
			failures = append(failures, Failure{Document: doc.ID, Stage: StageGenerate, Error: err.Error()})
			continue
		}

		text := results[j].Text
		o.recorder.SaveOutput(n, doc.ID, text)
		if o.target == config.TargetPrompt {
			if _, perr := evaluator.ParseExtraction(text); perr != nil {
				recordMalformed("extraction")
				o.logger.Debug("Student output does not match the extraction shape", "iteration", n, "document", doc.ID, "error", perr)
			}
		}
		outputs = append(outputs, studentOutput{doc: doc, text: text})
	}
	return outputs, failures
}

// evaluate scores every surviving output in one teacher batch. Critiques
// that fail or cannot be parsed do not count toward the average.
func (o *Optimizer) evaluate(ctx context.Context, n int, candidate Candidate, outputs []studentOutput) ([]DocumentCritique, []Failure) {
	if len(outputs) == 0 {
		return nil, nil
	}
	ctx, span := startSpan(ctx, "optimizer.Evaluate", attrIteration.Int(n), attrDocuments.Int(len(outputs)))
	defer span.End()

	subs := make([]evaluator.Submission, len(outputs))
	for k, out := range outputs {
		subs[k] = evaluator.Submission{Document: out.doc.Text, Output: out.text}
	}
	results := o.teacher.Critique(ctx, subs)

	var (
		critiques []DocumentCritique
		failures  []Failure
	)
	for k, out := range outputs {
		var err error
		if k >= len(results) {
			err = errors.New("no critique returned")
		} else {
			err = results[k].Err
		}
		if err != nil {
			if errors.Is(err, evaluator.ErrMalformed) {
				recordMalformed("critique")
			} else {
				recordGenerationFailure("teacher")
			}
			o.logger.Warn("Critique dropped", "iteration", n, "document", out.doc.ID, "error", err)
			failures = append(failures, Failure{Document: out.doc.ID, Stage: StageEvaluate, Error: err.Error()})
			continue
		}

		c := results[k].Critique
		critiques = append(critiques, DocumentCritique{
			Document:    out.doc.ID,
			Score:       c.Score,
			Critique:    c.Critique,
			MissingInfo: c.MissingInfo,
		})
		o.recorder.LogRow(artifacts.Row{
			Iteration:     n,
			Document:      out.doc.ID,
			StudentOutput: out.text,
			Score:         c.Score,
			Critique:      c.Critique,
			Prompt:        candidate.Prompt,
		})
		o.logger.Debug("Document scored", "iteration", n, "document", out.doc.ID, "score", c.Score)
	}
	return critiques, failures
}

// checkStop applies the stopping policy once the minimum iteration count is
// reached. The teacher decides; if its verdict is unavailable the average is
// compared against the threshold.
func (o *Optimizer) checkStop(ctx context.Context, record IterationRecord) (Termination, bool) {
	if record.Iteration < o.minIterations {
		return MaxIterations, false
	}

	decision, err := o.teacher.ShouldStop(ctx, evaluator.StopInput{
		Iteration: record.Iteration,
		Average:   record.Average,
		Threshold: o.threshold,
		Feedback:  record.Feedback(),
	})
	if err == nil {
		if decision.Stop {
			o.logger.Info("Teacher decided to stop", "iteration", record.Iteration, "reasoning", decision.Reasoning)
			return StoppedByEvaluator, true
		}
		o.logger.Info("Teacher decided to continue", "iteration", record.Iteration, "reasoning", decision.Reasoning)
		return MaxIterations, false
	}

	if errors.Is(err, evaluator.ErrMalformed) {
		recordMalformed("stop_decision")
	}
	o.logger.Warn("Stop decision unavailable, applying score threshold",
		"iteration", record.Iteration, "average", record.Average, "threshold", o.threshold, "error", err)
	if record.Average >= o.threshold {
		o.logger.Info("Score threshold reached", "iteration", record.Iteration, "average", record.Average)
		return StoppedByThreshold, true
	}
	return MaxIterations, false
}

// mutate replaces the target field of the current candidate. A rewrite that
// fails, cannot be parsed or cannot be made short enough is discarded.
func (o *Optimizer) mutate(ctx context.Context, state *runState, record IterationRecord) {
	ctx, span := startSpan(ctx, "optimizer.Mutate", attrIteration.Int(record.Iteration), attrTarget.String(o.target))
	defer span.End()

	feedback := record.Feedback()
	switch o.target {
	case config.TargetSchema:
		schema, err := o.teacher.RewriteSchema(ctx, state.current.Schema, state.current.Prompt, feedback)
		if err != nil {
			if errors.Is(err, evaluator.ErrMalformed) {
				recordMalformed("schema")
			}
			o.logger.Warn("Schema rewrite discarded, keeping previous schema", "iteration", record.Iteration, "error", err)
			recordMutation(o.target, "discarded")
			return
		}
		state.current.Schema = schema
	default:
		rewritten, err := o.teacher.RewritePrompt(ctx, state.current.Prompt, feedback, o.maxPromptLength, o.lengthUnit)
		if err != nil {
			o.logger.Warn("Prompt rewrite failed, keeping previous prompt", "iteration", record.Iteration, "error", err)
			recordMutation(o.target, "discarded")
			return
		}
		enforced, err := o.enforcer.Enforce(ctx, rewritten)
		if err != nil {
			o.logger.Warn("Rewritten prompt exceeds maximum length, keeping previous prompt", "iteration", record.Iteration, "error", err)
			recordMutation(o.target, "discarded")
			return
		}
		state.current.Prompt = enforced
	}
	recordMutation(o.target, "applied")
	o.logger.Debug("Candidate mutated", "iteration", record.Iteration, "target", o.target)
}

// finish persists the best candidate and asks for the run summary.
func (o *Optimizer) finish(ctx context.Context, state *runState, termination Termination) *Result {
	best := state.best
	o.recorder.SaveBest(o.target, best.Candidate.Prompt, best.Candidate.Schema, best.Score)
	o.logger.Info("Optimization complete",
		"termination", termination.String(),
		"iterations", len(state.history),
		"best_score", best.Score,
		"best_iteration", best.Iteration)

	res := &Result{
		Best:        best,
		History:     state.history,
		Termination: termination,
	}

	ctx, span := startSpan(ctx, "optimizer.Summarize")
	summary, err := o.teacher.Summarize(ctx, summaryView(state.history, o.target))
	endSpan(span, err)
	if err != nil {
		o.logger.Warn("Summary generation failed", "error", err)
		res.SummaryErr = err
		return res
	}
	o.recorder.SaveSummary(summary)
	res.Summary = summary
	return res
}
