package optimizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/artifacts"
	"github.com/teilomillet/extractopt/documents"
	"github.com/teilomillet/extractopt/evaluator"
	"github.com/teilomillet/extractopt/internal/logging"
	"github.com/teilomillet/extractopt/providers"
)

const validExtraction = `{"events":[{"event":"Dam collapse after heavy rain","location":"Brazil","severity":"Critical","status":"Ongoing"}]}`

// fakeTeacher implements Teacher with overridable behaviour and call counts.
type fakeTeacher struct {
	mu sync.Mutex

	critique      func(call int, subs []evaluator.Submission) []evaluator.CritiqueResult
	stop          func(in evaluator.StopInput) (evaluator.StopDecision, error)
	rewritePrompt func(call int, current string) (string, error)
	rewriteSchema func(call int, current *jsonschema.Schema) (*jsonschema.Schema, error)
	shorten       func(text string, maxLength int) (string, error)
	summarize     func(history any) (string, error)

	calls         map[string]int
	stopInputs    []evaluator.StopInput
	shortenInputs []string
	critiqueSubs  [][]evaluator.Submission
}

func newFakeTeacher() *fakeTeacher {
	return &fakeTeacher{calls: map[string]int{}}
}

func (f *fakeTeacher) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeTeacher) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func scoreAll(score int) func(int, []evaluator.Submission) []evaluator.CritiqueResult {
	return func(_ int, subs []evaluator.Submission) []evaluator.CritiqueResult {
		out := make([]evaluator.CritiqueResult, len(subs))
		for i := range out {
			out[i].Critique = evaluator.Critique{Score: score, Critique: fmt.Sprintf("scored %d", score)}
		}
		return out
	}
}

func (f *fakeTeacher) Critique(_ context.Context, subs []evaluator.Submission) []evaluator.CritiqueResult {
	n := f.count("critique")
	f.mu.Lock()
	f.critiqueSubs = append(f.critiqueSubs, subs)
	f.mu.Unlock()
	if f.critique == nil {
		return scoreAll(7)(n, subs)
	}
	return f.critique(n, subs)
}

func (f *fakeTeacher) ShouldStop(_ context.Context, in evaluator.StopInput) (evaluator.StopDecision, error) {
	f.count("stop")
	f.mu.Lock()
	f.stopInputs = append(f.stopInputs, in)
	f.mu.Unlock()
	if f.stop == nil {
		return evaluator.StopDecision{Stop: false, Reasoning: "keep going"}, nil
	}
	return f.stop(in)
}

func (f *fakeTeacher) RewritePrompt(_ context.Context, current string, _ []string, _ int, _ string) (string, error) {
	n := f.count("rewrite_prompt")
	if f.rewritePrompt == nil {
		return fmt.Sprintf("prompt v%d", n+1), nil
	}
	return f.rewritePrompt(n, current)
}

func (f *fakeTeacher) RewriteSchema(_ context.Context, current *jsonschema.Schema, _ string, _ []string) (*jsonschema.Schema, error) {
	n := f.count("rewrite_schema")
	if f.rewriteSchema == nil {
		return nil, fmt.Errorf("%w: not configured", evaluator.ErrMalformed)
	}
	return f.rewriteSchema(n, current)
}

func (f *fakeTeacher) Shorten(_ context.Context, text string, maxLength int, _ string) (string, error) {
	f.count("shorten")
	f.mu.Lock()
	f.shortenInputs = append(f.shortenInputs, text)
	f.mu.Unlock()
	if f.shorten == nil {
		return "", errors.New("shorten not configured")
	}
	return f.shorten(text, maxLength)
}

func (f *fakeTeacher) Summarize(_ context.Context, history any) (string, error) {
	f.count("summarize")
	if f.summarize == nil {
		return "summary", nil
	}
	return f.summarize(history)
}

// memRecorder keeps artifacts in memory.
type memRecorder struct {
	mu         sync.Mutex
	candidates []Candidate
	outputs    map[string]string
	rows       []artifacts.Row
	bestTarget string
	best       Candidate
	bestScore  float64
	bestSaves  int
	summaries  []string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{outputs: map[string]string{}}
}

func (r *memRecorder) SaveCandidate(_ int, prompt string, schema *jsonschema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates = append(r.candidates, Candidate{Prompt: prompt, Schema: schema})
}

func (r *memRecorder) SaveOutput(iteration, document int, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[fmt.Sprintf("%d/%d", iteration, document)] = output
}

func (r *memRecorder) LogRow(row artifacts.Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

func (r *memRecorder) SaveBest(target, prompt string, schema *jsonschema.Schema, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bestTarget = target
	r.best = Candidate{Prompt: prompt, Schema: schema}
	r.bestScore = score
	r.bestSaves++
}

func (r *memRecorder) SaveSummary(summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, summary)
}

// studentBackend answers every student request with a valid extraction,
// failing documents whose text contains one of failOn.
func studentBackend(failOn ...string) *providers.MockBackend {
	return providers.NewMockBackend(func(_ providers.Call, _ int, conv providers.Conversation) (string, error) {
		doc := conv[len(conv)-1].Content
		for _, f := range failOn {
			if strings.Contains(doc, f) {
				return "", errors.New("connection reset")
			}
		}
		return validExtraction, nil
	})
}

func newTestOptimizer(backend providers.Backend, teacher Teacher, opts ...Option) (*Optimizer, error) {
	base := []Option{
		WithStudentModel("student"),
		WithLogger(logging.NewMockLogger()),
	}
	return New(backend, teacher, documents.Default(), append(base, opts...)...)
}
