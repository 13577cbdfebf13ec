package evaluator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/teilomillet/extractopt/providers"
)

const auditorRole = "You are a data auditor."

// unitLabel names a length unit in prose.
func unitLabel(unit string) string {
	if unit == "tokens" {
		return "tokens"
	}
	return "characters"
}

func feedbackJSON(feedback []string) string {
	if feedback == nil {
		feedback = []string{}
	}
	b, err := json.Marshal(feedback)
	if err != nil {
		return strings.Join(feedback, "\n")
	}
	return string(b)
}

// EvaluationConversation asks the teacher to audit one extraction.
func EvaluationConversation(document, output string) providers.Conversation {
	return providers.NewConversation(auditorRole, fmt.Sprintf(`
Evaluate this extraction based on the text.
Article: %s
Extraction: %s

Check for: 1. Factuality 2. Correct Schema 3. Missing Events.
Score the extraction from 1 (unusable) to 10 (complete and accurate).
`, strings.TrimSpace(document), strings.TrimSpace(output)))
}

// StopInput carries what the teacher sees when deciding whether to stop.
type StopInput struct {
	Iteration int
	Average   float64
	Threshold float64
	Feedback  []string
}

// MetaEvaluationPrompt asks the teacher whether optimization should halt.
func MetaEvaluationPrompt(in StopInput) string {
	return fmt.Sprintf(`
Review the performance of the current prompt in Iteration %d.
Average Score: %.2f/10
Feedback bucket: %s

Decide if we should 'stop_optimization'.
Stop if:
1. The average score is >= %.1f.
2. The scores have plateaued and major issues are resolved.
3. The feedback indicates only minor nitpicks remain.
`, in.Iteration, in.Average, feedbackJSON(in.Feedback), in.Threshold)
}

// RewritePromptPrompt asks the teacher for a better system prompt.
func RewritePromptPrompt(current string, feedback []string, maxLength int, unit string) string {
	return fmt.Sprintf(`
The current system prompt is: "%s"

It failed on these points in the last round:
%s

Task: Write a BETTER system prompt to fix these errors.
Guidelines:
1. Keep it concise but comprehensive. It MUST NOT exceed %d %s.
2. Address the specific failures mentioned in the feedback.
3. Return ONLY the new system prompt text. No "Here is the prompt" or "System Prompt:".
`, current, feedbackJSON(feedback), maxLength, unitLabel(unit))
}

// RewriteSchemaPrompt asks the teacher for a better extraction schema.
func RewriteSchemaPrompt(schemaJSON, prompt string, feedback []string) string {
	return fmt.Sprintf(`
The student model extracts events using this system prompt:
"%s"

and must answer with JSON matching this schema:
%s

It failed on these points in the last round:
%s

Task: Write a BETTER JSON schema that makes these errors less likely.
Guidelines:
1. The schema must describe a JSON object with a "properties" section.
2. Use field descriptions and enums to remove ambiguity.
3. Return ONLY the JSON schema. No explanation, no markdown.
`, prompt, schemaJSON, feedbackJSON(feedback))
}

// ShortenPrompt asks the teacher to compress text below a length limit.
func ShortenPrompt(text string, maxLength int, unit string) string {
	return fmt.Sprintf(`
The following system prompt is too long. Rewrite it so it is at most %d %s
while keeping every instruction that matters for the task.

Prompt:
%s

Return ONLY the shortened prompt text. No "Here is the prompt" or "System Prompt:".
`, maxLength, unitLabel(unit), text)
}

// SummaryPrompt asks the teacher to summarize a finished run.
func SummaryPrompt(historyJSON string) string {
	return fmt.Sprintf(`
You are an expert Prompt Engineer. Review the history of this optimization session.

HISTORY:
%s

Task:
1. Identify what prompt techniques improved the score.
2. Identify what techniques caused failures or low scores.
3. Summarize the best practices for this specific task (Event Extraction).

Output a concise summary.
`, historyJSON)
}
