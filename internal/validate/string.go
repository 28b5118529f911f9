// Package validate provides input validation helpers for configuration
// values and API payloads.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooLong = errors.New("string is too long")
	ErrEmpty         = errors.New("string is empty")
)

// NonEmptyString trims whitespace and validates the result is non-empty
// and within maxLength runes. Returns the trimmed string.
func NonEmptyString(s string, maxLength int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmpty
	}
	if maxLength > 0 && utf8.RuneCountInString(s) > maxLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrStringTooLong, maxLength)
	}
	return s, nil
}
