// Package ratelimit guards the login action with a fixed-window attempt
// counter and lockout, and throttles overall request rates per client.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/state"
)

// Config controls the login limiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
	Lockout     time.Duration
	// SweepThreshold is the store size above which stale entries are
	// removed during Check.
	SweepThreshold int
	// SweepEvery is how many checks pass between store size probes. Len may
	// walk the whole keyspace on shared backends.
	SweepEvery int
}

// DefaultConfig allows five attempts per hour and locks out for 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		Window:         time.Hour,
		Lockout:        15 * time.Minute,
		SweepThreshold: 10000,
		SweepEvery:     100,
	}
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// RetryAfter is the number of whole seconds until the lockout ends.
	RetryAfter int
}

// Limiter counts login attempts per client identifier.
type Limiter struct {
	mu     sync.Mutex
	cfg    Config
	store  state.RateLimitStore
	logger *zap.Logger
	now    func() time.Time
	checks int
}

// New returns a Limiter backed by store. Zero config fields take defaults.
func New(store state.RateLimitStore, cfg Config, logger *zap.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = def.Lockout
	}
	if cfg.SweepThreshold <= 0 {
		cfg.SweepThreshold = def.SweepThreshold
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = def.SweepEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{cfg: cfg, store: store, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Check records an attempt from id and reports whether it may proceed.
func (l *Limiter) Check(ctx context.Context, id string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeSweep(ctx, now)

	e, ok, err := l.store.Get(ctx, id)
	if err != nil {
		return Decision{}, fmt.Errorf("load rate limit entry: %w", err)
	}

	if !ok {
		return l.allow(ctx, id, state.Entry{Attempts: 1, FirstAttemptAt: now})
	}

	if e.Locked(now) {
		return Decision{RetryAfter: ceilSeconds(e.LockedUntil.Sub(now))}, nil
	}

	if now.Sub(e.FirstAttemptAt) > l.cfg.Window {
		return l.allow(ctx, id, state.Entry{Attempts: 1, FirstAttemptAt: now})
	}

	e.Attempts++
	if e.Attempts > l.cfg.MaxAttempts {
		e.LockedUntil = now.Add(l.cfg.Lockout)
		if err := l.store.Set(ctx, id, e); err != nil {
			return Decision{}, fmt.Errorf("save rate limit entry: %w", err)
		}
		l.logger.Warn("login locked out",
			logging.RemoteIP(id),
			zap.Int("attempts", e.Attempts),
			logging.RetryAfter(l.cfg.Lockout))
		return Decision{RetryAfter: ceilSeconds(l.cfg.Lockout)}, nil
	}

	return l.allow(ctx, id, e)
}

func (l *Limiter) allow(ctx context.Context, id string, e state.Entry) (Decision, error) {
	if err := l.store.Set(ctx, id, e); err != nil {
		return Decision{}, fmt.Errorf("save rate limit entry: %w", err)
	}
	return Decision{Allowed: true}, nil
}

// Reset clears the attempt history for id after a successful login.
func (l *Limiter) Reset(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("reset rate limit entry: %w", err)
	}
	return nil
}

// maybeSweep drops entries whose window started more than two windows ago
// once the store has grown past the threshold. The size is probed only once
// every SweepEvery checks. Failures are only logged.
func (l *Limiter) maybeSweep(ctx context.Context, now time.Time) {
	l.checks++
	if l.checks < l.cfg.SweepEvery {
		return
	}
	l.checks = 0

	n, err := l.store.Len(ctx)
	if err != nil || n <= l.cfg.SweepThreshold {
		return
	}
	removed, err := l.store.Sweep(ctx, now.Add(-2*l.cfg.Window))
	if err != nil {
		l.logger.Warn("rate limit sweep failed", zap.Error(err))
		return
	}
	l.logger.Debug("rate limit sweep", zap.Int("removed", removed), zap.Int("size", n))
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
