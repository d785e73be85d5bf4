// Package session issues and validates opaque administrator session tokens.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/state"
	"github.com/rsclarke/auditdesk/internal/token"
)

// DefaultDuration is the session lifetime when none is configured.
const DefaultDuration = time.Hour

// Manager owns the session store.
type Manager struct {
	store    state.SessionStore
	duration time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewManager returns a Manager issuing sessions that last d.
func NewManager(store state.SessionStore, d time.Duration, logger *zap.Logger) *Manager {
	if d <= 0 {
		d = DefaultDuration
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, duration: d, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Duration returns the lifetime of newly issued sessions.
func (m *Manager) Duration() time.Duration { return m.duration }

// Issue creates a session and returns its token and lifetime. Expired
// sessions are swept first.
func (m *Manager) Issue(ctx context.Context) (string, time.Duration, error) {
	now := m.now()

	if n, err := m.store.Sweep(ctx, now); err != nil {
		m.logger.Warn("session sweep failed", zap.Error(err))
	} else if n > 0 {
		m.logger.Debug("swept expired sessions", zap.Int("removed", n))
	}

	tok, err := token.Generate()
	if err != nil {
		return "", 0, fmt.Errorf("generate session token: %w", err)
	}

	sess := state.Session{CreatedAt: now, ExpiresAt: now.Add(m.duration)}
	if err := m.store.Set(ctx, tok, sess); err != nil {
		return "", 0, fmt.Errorf("store session: %w", err)
	}

	m.logger.Info("session issued", logging.Session(tok), zap.Time("expires_at", sess.ExpiresAt))
	return tok, m.duration, nil
}

// Validate reports whether tok names a live session. An expired session
// is deleted. Store failures count as invalid.
func (m *Manager) Validate(ctx context.Context, tok string) bool {
	if !token.Valid(tok) {
		return false
	}
	sess, ok, err := m.store.Get(ctx, tok)
	if err != nil {
		m.logger.Error("session lookup failed", logging.Session(tok), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if m.now().After(sess.ExpiresAt) {
		if err := m.store.Delete(ctx, tok); err != nil {
			m.logger.Warn("delete expired session", logging.Session(tok), zap.Error(err))
		}
		return false
	}
	return true
}

// Revoke deletes tok. Unknown tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, tok string) error {
	if tok == "" {
		return nil
	}
	if err := m.store.Delete(ctx, tok); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	m.logger.Info("session revoked", logging.Session(tok))
	return nil
}
