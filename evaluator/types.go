// Package evaluator defines the structured contracts exchanged with the
// student and teacher models: the extraction the student produces, the
// critique the teacher scores it with, and the teacher's decision to stop.
// Every response passes through the same normalization step before it is
// parsed, and every parse returns an error wrapping ErrMalformed instead of
// a partially filled value.
package evaluator

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance used across the package.
var validate = validator.New()

// Severity levels an extracted event may carry.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityModerate = "Moderate"
	SeverityLow      = "Low"
)

// Status values an extracted event may carry.
const (
	StatusOngoing   = "Ongoing"
	StatusCompleted = "Completed"
	StatusEmerging  = "Emerging"
)

// Event is one extracted occurrence.
type Event struct {
	Event    string `json:"event" jsonschema:"description=Short description (5-10 words)" validate:"required"`
	Location string `json:"location" jsonschema:"description=Country or region" validate:"required"`
	Severity string `json:"severity" jsonschema:"enum=Critical,enum=High,enum=Moderate,enum=Low" validate:"required,oneof=Critical High Moderate Low"`
	Status   string `json:"status" jsonschema:"enum=Ongoing,enum=Completed,enum=Emerging" validate:"required,oneof=Ongoing Completed Emerging"`
}

// Extraction is the document the student model is asked to produce.
type Extraction struct {
	Events []Event `json:"events" validate:"required,dive"`
}

// Critique is the teacher's judgment of one extraction against its source.
type Critique struct {
	Score       int    `json:"score" jsonschema:"description=Score from 1-10,minimum=1,maximum=10" validate:"min=1,max=10"`
	Critique    string `json:"critique" jsonschema:"description=Reasoning for the score"`
	MissingInfo string `json:"missing_info" jsonschema:"description=Specific details missed by the student"`
}

// UnmarshalJSON accepts any whole number as the score, so 7 and 7.0 are
// the same score.
func (c *Critique) UnmarshalJSON(data []byte) error {
	type plain Critique
	var raw struct {
		plain
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Score != math.Trunc(raw.Score) || math.Abs(raw.Score) > math.MaxInt32 {
		return fmt.Errorf("score %v is not a whole number", raw.Score)
	}
	*c = Critique(raw.plain)
	c.Score = int(raw.Score)
	return nil
}

// StopDecision is the teacher's verdict on whether optimization should halt.
type StopDecision struct {
	Stop      bool   `json:"stop_optimization" jsonschema:"description=Set to true if the prompt is now good enough or if it's no longer improving significantly."`
	Reasoning string `json:"reasoning,omitempty" jsonschema:"description=Reasoning for the decision to stop or continue."`
}
