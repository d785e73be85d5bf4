// Package token provides session token generation.
package token

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	entropyBytes = 32
	tokenLength  = entropyBytes * 2
)

// Generate returns 32 random bytes as 64 lowercase hex characters.
func Generate() (string, error) {
	b := make([]byte, entropyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether s has the shape of a generated token.
func Valid(s string) bool {
	if len(s) != tokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'a' && c <= 'f') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
