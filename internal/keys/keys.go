// Package keys generates API credentials and derives the one-way hash that
// is the only form ever persisted or compared.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const secretPrefix = "vs_"

// GenerateSecret mints a new raw API key. The raw value is shown to the
// caller exactly once; only its hash is stored.
func GenerateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(buf), nil
}

// HashSecret returns the SHA-256 hex digest of a raw key. Lookup is by hash
// equality, never by the raw secret.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
