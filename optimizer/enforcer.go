package optimizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/teilomillet/extractopt/internal/logging"
)

var (
	// ErrConstraintUnsatisfied is returned when a prompt is still too long
	// after every shortening attempt.
	ErrConstraintUnsatisfied = errors.New("prompt length constraint could not be satisfied")

	// ErrPromptTooLong is returned by Run when the starting prompt cannot be
	// brought under the length limit. No iteration is attempted.
	ErrPromptTooLong = errors.New("initial prompt exceeds maximum length")
)

// Shortener rewrites text more concisely.
type Shortener interface {
	Shorten(ctx context.Context, text string, maxLength int, unit string) (string, error)
}

// Enforcer keeps prompts within a hard length limit by asking a Shortener
// for shorter versions.
type Enforcer struct {
	shortener   Shortener
	maxLength   int
	unit        string
	length      LengthFunc
	maxAttempts int
	logger      logging.Logger
}

// NewEnforcer creates an Enforcer. A nil length falls back to CharLength.
func NewEnforcer(shortener Shortener, maxLength int, unit string, length LengthFunc, logger logging.Logger) *Enforcer {
	if length == nil {
		length = CharLength
	}
	if logger == nil {
		logger = logging.NewLogger(logging.LogLevelWarn)
	}
	return &Enforcer{
		shortener:   shortener,
		maxLength:   maxLength,
		unit:        unit,
		length:      length,
		maxAttempts: MaxShortenAttempts,
		logger:      logger,
	}
}

// Fits reports whether text is within the limit.
func (e *Enforcer) Fits(text string) bool {
	return e.length(text) <= e.maxLength
}

// Enforce returns text unchanged when it fits. Otherwise it asks for up to
// MaxShortenAttempts rewrites, each starting from the latest attempt, and
// returns the first one that fits. A failed rewrite still uses up an attempt.
func (e *Enforcer) Enforce(ctx context.Context, text string) (string, error) {
	if e.Fits(text) {
		return text, nil
	}

	current := text
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		shorter, err := e.shortener.Shorten(ctx, current, e.maxLength, e.unit)
		if err != nil {
			e.logger.Warn("Shortening attempt failed", "attempt", attempt, "error", err)
			continue
		}
		n := e.length(shorter)
		if n <= e.maxLength {
			e.logger.Debug("Prompt shortened", "attempt", attempt, "length", n, "max_length", e.maxLength)
			return shorter, nil
		}
		e.logger.Debug("Shortened prompt still too long", "attempt", attempt, "length", n, "max_length", e.maxLength)
		current = shorter
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: still %d %s after %d attempts (max %d)",
		ErrConstraintUnsatisfied, e.length(current), e.unit, e.maxAttempts, e.maxLength)
}
