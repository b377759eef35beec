package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenValueBytes is the entropy of an opaque verification token. 128 bits
// keeps guessing infeasible while the hex form stays URL-safe.
const tokenValueBytes = 16

// NewTokenValue returns a fresh random token value as lowercase hex.
func NewTokenValue() (string, error) {
	return NewRandomHex(tokenValueBytes)
}

func NewRandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
