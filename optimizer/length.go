package optimizer

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teilomillet/extractopt/config"
)

// LengthFunc measures a prompt in the unit the length limit is expressed in.
type LengthFunc func(text string) int

// CharLength counts Unicode code points.
func CharLength(text string) int {
	return utf8.RuneCountInString(text)
}

// TokenEncoding is the tiktoken encoding used for token limits.
const TokenEncoding = "cl100k_base"

// TokenLength returns a LengthFunc counting tiktoken tokens.
func TokenLength() (LengthFunc, error) {
	enc, err := tiktoken.GetEncoding(TokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s encoding: %w", TokenEncoding, err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// NewLengthFunc returns the LengthFunc for a configured length unit.
func NewLengthFunc(unit string) (LengthFunc, error) {
	switch unit {
	case config.LengthUnitChars, "":
		return CharLength, nil
	case config.LengthUnitTokens:
		return TokenLength()
	default:
		return nil, fmt.Errorf("unknown length unit %q", unit)
	}
}
