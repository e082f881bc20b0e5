package util

import (
	"regexp"
	"strings"
)

var (
	e164Regex      = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
	phoneJunkRegex = regexp.MustCompile(`[^\d+]+`)
	codeRegex      = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// NormalizeIdentifier strips formatting from a phone number and turns a
// leading 00 international prefix into +.
func NormalizeIdentifier(raw string) string {
	s := phoneJunkRegex.ReplaceAllString(strings.TrimSpace(raw), "")
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	return s
}

// IsValidIdentifier reports whether s is an E.164 phone number.
func IsValidIdentifier(s string) bool {
	return e164Regex.MatchString(s)
}

// IsValidCode reports whether s looks like a numeric verification code.
func IsValidCode(s string) bool {
	return codeRegex.MatchString(s)
}
