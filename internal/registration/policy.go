package registration

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy decides whether a password is acceptable and hashes it.
type PasswordPolicy interface {
	Validate(raw string) (reason string, ok bool)
	Hash(raw string) (string, error)
}

// bcrypt ignores input past this many bytes.
const maxPasswordBytes = 72

// BcryptPolicy enforces length and character class rules and hashes with bcrypt.
type BcryptPolicy struct {
	MinLength int
	Cost      int
}

// NewBcryptPolicy fills in defaults for zero values.
func NewBcryptPolicy(minLength, cost int) BcryptPolicy {
	if minLength <= 0 {
		minLength = 8
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return BcryptPolicy{MinLength: minLength, Cost: cost}
}

// Validate returns a human readable reason when raw is rejected.
func (p BcryptPolicy) Validate(raw string) (string, bool) {
	if len([]rune(raw)) < p.MinLength {
		return fmt.Sprintf("must be at least %d characters", p.MinLength), false
	}
	if len(raw) > maxPasswordBytes {
		return fmt.Sprintf("must be at most %d bytes", maxPasswordBytes), false
	}
	var letter, digit bool
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter {
		return "must contain a letter", false
	}
	if !digit {
		return "must contain a number", false
	}
	return "", true
}

// Hash returns the bcrypt hash of raw.
func (p BcryptPolicy) Hash(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), p.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
