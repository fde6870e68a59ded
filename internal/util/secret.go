package util

import (
	"crypto/rand"
	"encoding/hex"
)

// SecretBytes is the entropy of a token secret (256 bits).
const SecretBytes = 32

// NewSecret returns SecretBytes of crypto/rand output, hex-encoded.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
