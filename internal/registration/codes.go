package registration

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// CodeGenerator produces unguessable confirmation codes.
type CodeGenerator interface {
	Generate() (string, error)
}

const codeBytes = 32

// RandomCodes draws codes from crypto/rand.
type RandomCodes struct{}

// Generate returns 32 random bytes encoded as unpadded URL-safe base64.
func (RandomCodes) Generate() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate confirmation code: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
