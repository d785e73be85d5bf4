// Package auth verifies the administrator credential.
package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor used by HashPassword.
const BcryptCost = 12

var (
	ErrNoSecret        = errors.New("no administrator secret configured")
	ErrAmbiguousSecret = errors.New("configure either a password or a password hash, not both")
)

// Equal reports whether submitted is a string equal to secret. The
// comparison time does not depend on where the first differing byte is.
// Inputs of a different length are rejected only after a full scan of
// the configured secret.
func Equal(submitted any, secret string) bool {
	s, ok := submitted.(string)
	if !ok {
		return false
	}
	a, b := []byte(s), []byte(secret)
	if len(a) != len(b) {
		subtle.ConstantTimeCompare(b, b)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Verifier checks submitted passwords against either a plain shared
// secret or a bcrypt hash of it.
type Verifier struct {
	secret string
	hash   []byte
}

// NewVerifier returns a Verifier for exactly one of secret or hash.
func NewVerifier(secret, hash string) (*Verifier, error) {
	switch {
	case secret != "" && hash != "":
		return nil, ErrAmbiguousSecret
	case secret != "":
		return &Verifier{secret: secret}, nil
	case hash != "":
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, err
		}
		return &Verifier{hash: []byte(hash)}, nil
	default:
		return nil, ErrNoSecret
	}
}

// Verify reports whether submitted matches the configured credential.
// Non-string values never match.
func (v *Verifier) Verify(submitted any) bool {
	if v.hash == nil {
		return Equal(submitted, v.secret)
	}
	s, ok := submitted.(string)
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(v.hash, []byte(s)) == nil
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoSecret
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
