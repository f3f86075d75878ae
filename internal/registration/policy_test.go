package registration

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptPolicyValidate(t *testing.T) {
	p := NewBcryptPolicy(8, bcrypt.MinCost)

	tests := []struct {
		name   string
		raw    string
		reason string
	}{
		{"ok", "Str0ng!pw", ""},
		{"too short", "Ab1", "must be at least 8 characters"},
		{"no digit", "abcdefghij", "must contain a number"},
		{"no letter", "1234567890", "must contain a letter"},
		{"too long", strings.Repeat("a1", 37), "must be at most 72 bytes"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reason, ok := p.Validate(tc.raw)
			assert.Equal(t, tc.reason == "", ok)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestBcryptPolicyHash(t *testing.T) {
	p := NewBcryptPolicy(8, bcrypt.MinCost)
	hash, err := p.Hash("Str0ng!pw")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!pw", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("Str0ng!pw")))
}

func TestNewBcryptPolicyDefaults(t *testing.T) {
	p := NewBcryptPolicy(0, 0)
	assert.Equal(t, 8, p.MinLength)
	assert.Equal(t, bcrypt.DefaultCost, p.Cost)
}

func TestRandomCodes(t *testing.T) {
	var gen RandomCodes
	a, err := gen.Generate()
	require.NoError(t, err)
	b, err := gen.Generate()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, codeBytes)
}
