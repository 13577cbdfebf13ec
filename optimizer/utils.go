package optimizer

import (
	"fmt"

	"github.com/teilomillet/extractopt/config"
)

func feedbackLine(c DocumentCritique) string {
	line := fmt.Sprintf("Document %d: %s", c.Document, c.Critique)
	if c.MissingInfo != "" {
		line += " Missing: " + c.MissingInfo
	}
	return line
}

// average is the mean of the critique scores, 0 for none.
func average(critiques []DocumentCritique) float64 {
	if len(critiques) == 0 {
		return 0
	}
	sum := 0
	for _, c := range critiques {
		sum += c.Score
	}
	return float64(sum) / float64(len(critiques))
}

// historyEntry is the view of an iteration the teacher summarizes.
type historyEntry struct {
	Iteration int      `json:"iteration"`
	Prompt    string   `json:"prompt"`
	Schema    any      `json:"schema,omitempty"`
	AvgScore  float64  `json:"avg_score"`
	Critiques []string `json:"critiques"`
	Failures  int      `json:"failures,omitempty"`
}

func summaryView(history []IterationRecord, target string) []historyEntry {
	out := make([]historyEntry, len(history))
	for i, r := range history {
		e := historyEntry{
			Iteration: r.Iteration,
			Prompt:    r.Candidate.Prompt,
			AvgScore:  r.Average,
			Critiques: r.Feedback(),
			Failures:  len(r.Failures),
		}
		if target == config.TargetSchema && r.Candidate.Schema != nil {
			e.Schema = r.Candidate.Schema
		}
		out[i] = e
	}
	return out
}
