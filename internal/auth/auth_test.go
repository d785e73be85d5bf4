package auth

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name      string
		submitted any
		secret    string
		want      bool
	}{
		{"match", "hunter2", "hunter2", true},
		{"same length mismatch first byte", "xunter2", "hunter2", false},
		{"same length mismatch last byte", "hunter3", "hunter2", false},
		{"shorter", "hunter", "hunter2", false},
		{"longer", "hunter22", "hunter2", false},
		{"empty submitted", "", "hunter2", false},
		{"number", 1234, "1234", false},
		{"float", 1234.0, "1234", false},
		{"nil", nil, "hunter2", false},
		{"object", map[string]any{"a": "b"}, "hunter2", false},
		{"bytes are not a string", []byte("hunter2"), "hunter2", false},
		{"unicode match", "pässwörd", "pässwörd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Equal(tt.submitted, tt.secret); got != tt.want {
				t.Errorf("Equal(%v, %q) = %v, want %v", tt.submitted, tt.secret, got, tt.want)
			}
		})
	}
}

func TestNewVerifier(t *testing.T) {
	if _, err := NewVerifier("", ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("no secret: err = %v, want ErrNoSecret", err)
	}
	if _, err := NewVerifier("a", "b"); !errors.Is(err, ErrAmbiguousSecret) {
		t.Errorf("both: err = %v, want ErrAmbiguousSecret", err)
	}
	if _, err := NewVerifier("", "not-a-bcrypt-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestVerifierPlain(t *testing.T) {
	v, err := NewVerifier("hunter2", "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if !v.Verify("hunter2") {
		t.Error("correct password rejected")
	}
	if v.Verify("hunter3") {
		t.Error("wrong password accepted")
	}
	if v.Verify(42) {
		t.Error("non-string accepted")
	}
}

func TestVerifierHash(t *testing.T) {
	h, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword: %v", err)
	}
	v, err := NewVerifier("", string(h))
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	if !v.Verify("hunter2") {
		t.Error("correct password rejected")
	}
	if v.Verify("hunter3") {
		t.Error("wrong password accepted")
	}
	if v.Verify(nil) {
		t.Error("nil accepted")
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword(""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("empty password: err = %v, want ErrNoSecret", err)
	}
	h, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
	cost, err := bcrypt.Cost([]byte(h))
	if err != nil || cost != BcryptCost {
		t.Errorf("cost = %d (err %v), want %d", cost, err, BcryptCost)
	}
}
