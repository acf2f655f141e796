// Package phonex handles E.164 phone numbers: validation, normalization of
// user input, and masking for display.
package phonex

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid reports a value that cannot be normalized to E.164.
var ErrInvalid = errors.New("phonex: not an E.164 phone number")

// e164 matches +<country><number>, 7 to 15 digits total, no leading zero.
var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// Valid reports whether s is already canonical E.164.
func Valid(s string) bool {
	return e164.MatchString(s)
}

// Normalize strips common formatting characters (spaces, dashes, dots,
// parentheses) and validates the result as E.164.
func Normalize(s string) (string, error) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ' ', '-', '.', '(', ')':
			continue
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	if !Valid(out) {
		return "", ErrInvalid
	}
	return out, nil
}

// Mask hides the middle of a phone number for display, keeping the country
// prefix and the last two digits, e.g. "+15551234567" -> "+15*******67".
// Invalid input is masked entirely rather than echoed back.
func Mask(s string) string {
	if !Valid(s) {
		return "***"
	}

	// "+" plus up to two digits of country code stay visible.
	visible := 3
	if len(s) < 8 {
		visible = 2
	}

	return s[:visible] + strings.Repeat("*", len(s)-visible-2) + s[len(s)-2:]
}
