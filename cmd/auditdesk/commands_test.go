package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	out, err := execute(t, "hunter2\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := execute(t, "\n", "hash-password"); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestMigrateUpDown(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "cli.db")

	out, err := execute(t, "", "migrate", "up", "--db", dsn)
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "Schema version: 1") {
		t.Errorf("up output = %q", out)
	}

	out, err = execute(t, "", "migrate", "down", "--db", dsn)
	if err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if !strings.Contains(out, "Schema version: 0") {
		t.Errorf("down output = %q", out)
	}

	out, err = execute(t, "", "migrate", "down", "--db", dsn)
	if err != nil {
		t.Fatalf("second migrate down: %v", err)
	}
	if !strings.Contains(out, "No change.") {
		t.Errorf("second down output = %q", out)
	}
}

func TestMigrateRejectsDirection(t *testing.T) {
	if _, err := execute(t, "", "migrate", "sideways", "--db", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Error("expected error for invalid direction")
	}
}
