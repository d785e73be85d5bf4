// Package memory provides in-process implementations of the state stores.
// It is suitable for single-instance deployments; all state is lost on
// restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rsclarke/auditdesk/internal/state"
)

var (
	_ state.RateLimitStore = (*RateLimitStore)(nil)
	_ state.SessionStore   = (*SessionStore)(nil)
)

// RateLimitStore is a mutex-guarded map of rate limit entries.
type RateLimitStore struct {
	mu      sync.RWMutex
	entries map[string]state.Entry
}

// NewRateLimitStore returns an empty store.
func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{entries: make(map[string]state.Entry)}
}

func (s *RateLimitStore) Get(_ context.Context, key string) (state.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *RateLimitStore) Set(_ context.Context, key string, e state.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = e
	return nil
}

func (s *RateLimitStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *RateLimitStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *RateLimitStore) Sweep(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.FirstAttemptAt.Before(olderThan) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// SessionStore is a mutex-guarded map of sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]state.Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]state.Session)}
}

func (s *SessionStore) Get(_ context.Context, token string) (state.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok, nil
}

func (s *SessionStore) Set(_ context.Context, token string, sess state.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sess
	return nil
}

func (s *SessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, sess := range s.sessions {
		if now.After(sess.ExpiresAt) {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}
