package auth

import (
	"errors"
	"unicode"

	"golang.org/x/crypto/bcrypt"

	"bookstore/pkg/domain"
)

const (
	minPasswordLen = 12
	maxPasswordLen = 72
)

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ValidatePassword enforces the signup password policy. Failures wrap
// domain.ErrValidation.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLen {
		return domain.ValidationError("password must be at least %d characters", minPasswordLen)
	}
	if len(password) > maxPasswordLen {
		return domain.ValidationError("password must be at most %d bytes", maxPasswordLen)
	}
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	var missing error
	switch {
	case !upper:
		missing = errors.New("an uppercase letter")
	case !lower:
		missing = errors.New("a lowercase letter")
	case !digit:
		missing = errors.New("a digit")
	case !special:
		missing = errors.New("a special character")
	}
	if missing != nil {
		return domain.ValidationError("password must contain %s", missing)
	}
	return nil
}
