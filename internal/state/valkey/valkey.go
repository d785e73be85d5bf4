// Package valkey stores rate limit entries and sessions in Valkey so that
// several server instances share login lockouts and sessions.
//
// Updates are read-modify-write per key without a cross-instance lock, so
// two instances racing on one client identifier may each count a single
// attempt.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/state"
)

const (
	// DefaultKeyPrefix is prepended to every key.
	DefaultKeyPrefix = "auditdesk:"

	scanBatchSize           = 100
	connectionVerifyTimeout = 5 * time.Second

	rateLimitSegment = "rl:"
	sessionSegment   = "sess:"
)

// Config holds connection settings for the Valkey backend.
type Config struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	TLS       *tls.Config
	// EntryTTL bounds how long a rate limit entry lives without updates.
	// Zero keeps entries until swept.
	EntryTTL time.Duration
	Logger   *zap.Logger
}

// Store wraps a Valkey client. Use RateLimits and Sessions for the typed views.
type Store struct {
	client   valkeygo.Client
	prefix   string
	entryTTL time.Duration
	logger   *zap.Logger
}

var (
	_ state.RateLimitStore = (*RateLimitStore)(nil)
	_ state.SessionStore   = (*SessionStore)(nil)
)

// New connects to Valkey and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("valkey address is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to valkey: %w", err)
	}

	logger.Info("connected to valkey",
		logging.Addr(cfg.Address),
		zap.Int("db", cfg.DB),
		zap.String("prefix", prefix))

	return &Store{client: client, prefix: prefix, entryTTL: cfg.EntryTTL, logger: logger}, nil
}

// Close closes the client connection.
func (s *Store) Close() {
	s.client.Close()
}

// RateLimits returns the rate limit view of the store.
func (s *Store) RateLimits() *RateLimitStore { return &RateLimitStore{s: s} }

// Sessions returns the session view of the store.
func (s *Store) Sessions() *SessionStore { return &SessionStore{s: s} }

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Ex(ceilSeconds(ttl)).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Do(ctx, s.client.B().Del().Key(keys...).Build()).Error(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// scan calls fn for every key matching prefix*. SCAN may repeat keys.
func (s *Store) scan(ctx context.Context, prefix string, fn func(key string) error) error {
	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return fmt.Errorf("scan %s: %w", prefix, err)
		}
		for _, key := range result.Elements {
			if err := fn(key); err != nil {
				return err
			}
		}
		cursor = result.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

// ceilSeconds rounds d up to whole seconds, never below one.
func ceilSeconds(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// RateLimitStore keeps rate limit entries as JSON values.
type RateLimitStore struct{ s *Store }

func (r *RateLimitStore) key(id string) string { return r.s.prefix + rateLimitSegment + id }

func (r *RateLimitStore) Get(ctx context.Context, key string) (state.Entry, bool, error) {
	var e state.Entry
	ok, err := r.s.getJSON(ctx, r.key(key), &e)
	return e, ok, err
}

func (r *RateLimitStore) Set(ctx context.Context, key string, e state.Entry) error {
	return r.s.setJSON(ctx, r.key(key), e, r.s.entryTTL)
}

func (r *RateLimitStore) Delete(ctx context.Context, key string) error {
	return r.s.del(ctx, r.key(key))
}

func (r *RateLimitStore) Len(ctx context.Context) (int, error) {
	seen := make(map[string]struct{})
	err := r.s.scan(ctx, r.s.prefix+rateLimitSegment, func(key string) error {
		seen[key] = struct{}{}
		return nil
	})
	return len(seen), err
}

func (r *RateLimitStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	var stale []string
	err := r.s.scan(ctx, r.s.prefix+rateLimitSegment, func(key string) error {
		var e state.Entry
		ok, err := r.s.getJSON(ctx, key, &e)
		if err != nil {
			r.s.logger.Warn("skipping unreadable rate limit entry", zap.String("key", key), zap.Error(err))
			return nil
		}
		if ok && e.FirstAttemptAt.Before(olderThan) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := r.s.del(ctx, stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// SessionStore keeps sessions as JSON values that Valkey expires natively
// at ExpiresAt.
type SessionStore struct{ s *Store }

func (ss *SessionStore) key(token string) string { return ss.s.prefix + sessionSegment + token }

func (ss *SessionStore) Get(ctx context.Context, token string) (state.Session, bool, error) {
	var sess state.Session
	ok, err := ss.s.getJSON(ctx, ss.key(token), &sess)
	return sess, ok, err
}

func (ss *SessionStore) Set(ctx context.Context, token string, sess state.Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return ss.s.del(ctx, ss.key(token))
	}
	return ss.s.setJSON(ctx, ss.key(token), sess, ttl)
}

func (ss *SessionStore) Delete(ctx context.Context, token string) error {
	return ss.s.del(ctx, ss.key(token))
}

// Sweep is a no-op apart from keys that outlived their expiry, which only
// happens when clocks disagree between instances.
func (ss *SessionStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	var stale []string
	err := ss.s.scan(ctx, ss.s.prefix+sessionSegment, func(key string) error {
		var sess state.Session
		ok, err := ss.s.getJSON(ctx, key, &sess)
		if err != nil {
			return nil
		}
		if ok && now.After(sess.ExpiresAt) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := ss.s.del(ctx, stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}
