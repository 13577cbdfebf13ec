package evaluator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ErrMalformed is wrapped by every parse failure of a structured response.
var ErrMalformed = errors.New("malformed structured response")

// parseObject decodes raw into T after normalization. Every key the schema
// requires must be present and the decoded value must pass its validate tags.
func parseObject[T any](raw string, schema *jsonschema.Schema) (T, error) {
	var zero T
	cleaned := []byte(CleanJSON(raw))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(cleaned, &fields); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, key := range requiredFields(schema) {
		if _, ok := fields[key]; !ok {
			return zero, fmt.Errorf("%w: missing field %q", ErrMalformed, key)
		}
	}

	var v T
	if err := json.Unmarshal(cleaned, &v); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate.Struct(v); err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// ParseCritique parses a teacher critique. The score must lie in 1..10.
func ParseCritique(raw string) (Critique, error) {
	return parseObject[Critique](raw, critiqueSchema)
}

// ParseStopDecision parses the teacher's meta-evaluation verdict.
func ParseStopDecision(raw string) (StopDecision, error) {
	return parseObject[StopDecision](raw, stopDecisionSchema)
}

// ParseExtraction parses a student output against the built-in extraction
// shape. It is used for reporting only.
func ParseExtraction(raw string) (Extraction, error) {
	return parseObject[Extraction](raw, extractionSchema)
}
