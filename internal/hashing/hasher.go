package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrEmptyInput is returned when the secret to hash is empty.
	ErrEmptyInput = errors.New("value cannot be empty")
	// ErrDecode is returned when a stored hash or salt is not valid base64.
	ErrDecode = errors.New("invalid hash encoding")
)

// Vault derives and verifies password hashes with PBKDF2-HMAC-SHA256.
type Vault struct {
	iterations int
	saltLength int
	keyLength  int
}

// NewVault creates a vault with the standard parameters: 100,000 iterations,
// 32-byte salt, 32-byte derived key.
func NewVault() *Vault {
	return &Vault{
		iterations: 100_000,
		saltLength: 32,
		keyLength:  32,
	}
}

// Hash derives a key from the secret with a fresh random salt. Both the
// digest and the salt are returned base64-encoded.
func (v *Vault) Hash(secret string) (hash, salt string, err error) {
	if secret == "" {
		return "", "", ErrEmptyInput
	}

	saltBytes := make([]byte, v.saltLength)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}

	dk := pbkdf2.Key([]byte(secret), saltBytes, v.iterations, v.keyLength, sha256.New)

	return base64.StdEncoding.EncodeToString(dk),
		base64.StdEncoding.EncodeToString(saltBytes),
		nil
}

// Verify re-derives the key with the stored salt and compares digests in
// constant time. A mismatch returns false with a nil error; only malformed
// stored values produce ErrDecode.
func (v *Vault) Verify(secret, hash, salt string) (bool, error) {
	if secret == "" || hash == "" || salt == "" {
		return false, ErrEmptyInput
	}

	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false, ErrDecode
	}
	expected, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false, ErrDecode
	}

	dk := pbkdf2.Key([]byte(secret), saltBytes, v.iterations, len(expected), sha256.New)

	return subtle.ConstantTimeCompare(dk, expected) == 1, nil
}
