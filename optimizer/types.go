package optimizer

import (
	"github.com/invopop/jsonschema"

	"github.com/teilomillet/extractopt/evaluator"
)

// Candidate is the prompt and schema pair under test in one iteration.
type Candidate struct {
	Prompt string
	Schema *jsonschema.Schema
}

// Clone returns a snapshot that shares nothing with c.
func (c Candidate) Clone() Candidate {
	return Candidate{Prompt: c.Prompt, Schema: evaluator.CloneSchema(c.Schema)}
}

// DocumentCritique is a valid critique of one document's output.
type DocumentCritique struct {
	Document    int    `json:"document"`
	Score       int    `json:"score"`
	Critique    string `json:"critique"`
	MissingInfo string `json:"missing_info"`
}

// Stage names where in an iteration a failure happened.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageEvaluate Stage = "evaluate"
)

// Failure records a soft fault that removed a document from scoring.
type Failure struct {
	Document int    `json:"document"`
	Stage    Stage  `json:"stage"`
	Error    string `json:"error"`
}

// IterationRecord is the immutable account of one iteration. Iteration is
// 1-based.
type IterationRecord struct {
	Iteration int                `json:"iteration"`
	Candidate Candidate          `json:"-"`
	Critiques []DocumentCritique `json:"critiques"`
	Failures  []Failure          `json:"failures,omitempty"`
	Average   float64            `json:"avg_score"`
}

// Feedback renders the critiques the way the teacher reads them.
func (r IterationRecord) Feedback() []string {
	out := make([]string, 0, len(r.Critiques))
	for _, c := range r.Critiques {
		out = append(out, feedbackLine(c))
	}
	return out
}

// BestCandidate is the highest scoring candidate seen so far. Iteration is
// 0 while the starting candidate has not been scored.
type BestCandidate struct {
	Candidate Candidate
	Score     float64
	Iteration int
}

// Termination describes why a run ended.
type Termination int

const (
	MaxIterations Termination = iota
	StoppedByEvaluator
	StoppedByThreshold
)

func (t Termination) String() string {
	switch t {
	case StoppedByEvaluator:
		return "stopped_by_evaluator"
	case StoppedByThreshold:
		return "stopped_by_threshold"
	default:
		return "max_iterations"
	}
}

// Result is the outcome of a completed run. SummaryErr is set when the final
// summary could not be produced; the run is still considered successful.
type Result struct {
	Best        BestCandidate
	History     []IterationRecord
	Termination Termination
	Summary     string
	SummaryErr  error
}

// IterationCallback is called after every iteration is recorded.
type IterationCallback func(record IterationRecord)
