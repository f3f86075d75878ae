package households

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrCiphertext is returned when a stored value cannot be decrypted.
var ErrCiphertext = errors.New("households: malformed ciphertext")

// FieldCipher encrypts individual column values with AES-GCM. Each value is
// stored as base64(nonce || ciphertext).
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher builds a cipher from a 16, 24 or 32 byte key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("households: field key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("households: field key: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrCiphertext
	}
	size := c.aead.NonceSize()
	if len(raw) < size {
		return "", ErrCiphertext
	}
	plaintext, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", ErrCiphertext
	}
	return string(plaintext), nil
}

// seal encrypts the sensitive columns of h, returned as dob, email, last4ssn.
func (c *FieldCipher) seal(h *Household) (dob, email, ssn string, err error) {
	if dob, err = c.Encrypt(h.DOB); err != nil {
		return "", "", "", err
	}
	if email, err = c.Encrypt(h.Email); err != nil {
		return "", "", "", err
	}
	if ssn, err = c.Encrypt(h.Last4SSN); err != nil {
		return "", "", "", err
	}
	return dob, email, ssn, nil
}

// open decrypts the sensitive columns into h.
func (c *FieldCipher) open(h *Household, dob, email, ssn string) error {
	var err error
	if h.DOB, err = c.Decrypt(dob); err != nil {
		return fmt.Errorf("dob: %w", err)
	}
	if h.Email, err = c.Decrypt(email); err != nil {
		return fmt.Errorf("email: %w", err)
	}
	if h.Last4SSN, err = c.Decrypt(ssn); err != nil {
		return fmt.Errorf("last4ssn: %w", err)
	}
	return nil
}
