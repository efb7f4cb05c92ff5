package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost     = 14 // OWASP 2026 recommendation - stronger than cost 12 (Feb 2026)
	MinPasswordLen = 8
	MaxPasswordLen = 128
)

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	// Return generic error to users - never expose specific requirements to prevent enumeration attacks
	return "invalid password"
}

// denyList rejects passwords from the usual breach-corpus top entries.
// Checked case-insensitively.
var denyList = map[string]struct{}{
	"password":     {},
	"password1":    {},
	"password123":  {},
	"password123!": {},
	"passw0rd":     {},
	"12345678":     {},
	"123456789":    {},
	"1234567890":   {},
	"qwerty123":    {},
	"qwertyuiop":   {},
	"iloveyou":     {},
	"letmein1":     {},
	"welcome1":     {},
	"sunshine":     {},
	"princess":     {},
	"starwars":     {},
	"football":     {},
	"baseball":     {},
	"trustno1":     {},
	"superman":     {},
	"whatever":     {},
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

type classCounts struct {
	upper, lower, digit, special int
}

func classify(password string) classCounts {
	var c classCounts
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			c.upper++
		case unicode.IsLower(r):
			c.lower++
		case unicode.IsDigit(r):
			c.digit++
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			c.special++
		}
	}
	return c
}

// ValidatePassword enforces the account password policy: length bounds, one
// character from each class, and a deny list of common passwords.
func ValidatePassword(password string) error {
	var errs []string

	if len(password) < MinPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", MinPasswordLen))
	}
	if len(password) > MaxPasswordLen {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", MaxPasswordLen))
	}

	c := classify(password)
	if c.upper == 0 {
		errs = append(errs, "must contain at least one uppercase letter")
	}
	if c.lower == 0 {
		errs = append(errs, "must contain at least one lowercase letter")
	}
	if c.digit == 0 {
		errs = append(errs, "must contain at least one digit")
	}
	if c.special == 0 {
		errs = append(errs, "must contain at least one special character")
	}

	if _, banned := denyList[strings.ToLower(password)]; banned {
		errs = append(errs, "is too common, please choose a more unique password")
	}

	if len(errs) > 0 {
		return &PasswordValidationError{Errors: errs}
	}
	return nil
}
