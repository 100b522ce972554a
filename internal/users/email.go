package users

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// NormalizeEmail trims, NFC-normalizes and lowercases an address so that
// lookups and the unique index agree on one spelling.
func NormalizeEmail(email string) string {
	// Casers carry state and cannot be shared across goroutines.
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(email)))
}
