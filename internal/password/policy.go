package password

import (
	"unicode"

	"github.com/odyssey-erp/odyssey-auth/internal/shared"
)

// Length bounds enforced by CheckStrength.
const (
	MinLength = 8
	MaxLength = 128
)

// CheckStrength enforces the password policy for new passwords.
func CheckStrength(password string) error {
	runes := []rune(password)
	if len(runes) < MinLength {
		return shared.NewValidationError("password", "must be at least 8 characters")
	}
	if len(runes) > MaxLength {
		return shared.NewValidationError("password", "must be at most 128 characters")
	}
	var upper, lower, digit bool
	for _, r := range runes {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper || !lower || !digit {
		return shared.NewValidationError("password", "must contain an uppercase letter, a lowercase letter and a digit")
	}
	return nil
}
