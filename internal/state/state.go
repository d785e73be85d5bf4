// Package state defines the process state shared by concurrent requests:
// login attempt counters and issued sessions. The default backend keeps
// both in memory; a Valkey backend shares them across instances.
package state

import (
	"context"
	"time"
)

// Entry tracks login attempts from one client identifier.
type Entry struct {
	Attempts       int       `json:"attempts"`
	FirstAttemptAt time.Time `json:"firstAttemptAt"`
	LockedUntil    time.Time `json:"lockedUntil,omitzero"`
}

// Locked reports whether the entry denies attempts at now.
func (e Entry) Locked(now time.Time) bool {
	return !e.LockedUntil.IsZero() && now.Before(e.LockedUntil)
}

// Session is an issued session keyed by its token.
type Session struct {
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RateLimitStore holds rate limit entries keyed by client identifier.
type RateLimitStore interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	// Sweep deletes entries whose window started before olderThan and
	// returns how many were removed.
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// SessionStore holds sessions keyed by token.
type SessionStore interface {
	Get(ctx context.Context, token string) (Session, bool, error)
	Set(ctx context.Context, token string, s Session) error
	Delete(ctx context.Context, token string) error
	// Sweep deletes sessions that expired before now.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
