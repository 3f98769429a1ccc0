// Package inputs holds the local checks a submitted value must pass before
// any collaborator sees it.
package inputs

import (
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	ErrRequired         = errors.New("value required")
	ErrMalformedEmail   = errors.New("malformed email address")
	ErrCodeLength       = errors.New("code has wrong length")
	ErrCodeCharset      = errors.New("code must contain digits only")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordMismatch = errors.New("password confirmation does not match")
)

var validate = validator.New()

// Email accepts a single bare address. Display names are rejected.
func Email(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return ErrRequired
	}
	if err := validate.Var(value, "email,max=254"); err != nil {
		return ErrMalformedEmail
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return ErrMalformedEmail
	}
	return nil
}

// NormalizeEmail lowercases and trims an address that passed Email.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Code checks a numeric one-time code. length <= 0 only requires a value.
func Code(value string, length int) error {
	if value == "" {
		return ErrRequired
	}
	if length <= 0 {
		return nil
	}
	if len(value) != length {
		return ErrCodeLength
	}
	// "number" is digits only; "numeric" would also admit signs and dots.
	if err := validate.Var(value, "number"); err != nil {
		return ErrCodeCharset
	}
	return nil
}

// Credentials only rejects an empty secret; strength is not our concern here.
func Credentials(value string) error {
	if value == "" {
		return ErrRequired
	}
	return nil
}

// NewPassword enforces a minimum length in runes and an exact confirmation
// match. The returned field names which value is at fault.
func NewPassword(password, confirm string, minRunes int) (field string, err error) {
	if password == "" {
		return "password", ErrRequired
	}
	if utf8.RuneCountInString(password) < minRunes {
		return "password", ErrPasswordTooShort
	}
	if password != confirm {
		return "confirm", ErrPasswordMismatch
	}
	return "", nil
}
