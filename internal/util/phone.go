package util

import (
	"errors"
	"regexp"
	"strings"
)

var (
	nonDigits = regexp.MustCompile(`\D+`)

	ErrInvalidWhatsApp = errors.New("whatsapp number must have 10 to 15 digits")
)

// NormalizeWhatsApp keeps only the digits of raw; separators and "+" are
// dropped and nothing is rewritten. The result must be 10 to 15 digits long.
func NormalizeWhatsApp(raw string) (string, error) {
	s := nonDigits.ReplaceAllString(strings.TrimSpace(raw), "")
	if len(s) < 10 || len(s) > 15 {
		return "", ErrInvalidWhatsApp
	}
	return s, nil
}
