// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// tokenPrefixLength is how much of a session token may appear in logs.
const tokenPrefixLength = 8

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", "auditdesk")), nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("AUDITDESK_LOG_LEVEL", "info"),
		Format: getenv("AUDITDESK_LOG_FORMAT", "json"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// RemoteIP returns a zap field for the client identifier used for rate limiting.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Origin returns a zap field for a CORS origin.
func Origin(origin string) zap.Field { return zap.String("origin", origin) }

// Action returns a zap field for a dispatched action name.
func Action(action string) zap.Field { return zap.String("action", action) }

// Status returns a zap field for a response status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// Entity returns a zap field for an entity table name.
func Entity(kind string) zap.Field { return zap.String("entity", kind) }

// RetryAfter returns a zap field for a lockout delay.
func RetryAfter(d time.Duration) zap.Field { return zap.Duration("retry_after", d) }

// Backend returns a zap field for a storage backend name.
func Backend(name string) zap.Field { return zap.String("backend", name) }

// Session returns a zap field carrying only a short prefix of a session token.
func Session(token string) zap.Field {
	if len(token) > tokenPrefixLength {
		token = token[:tokenPrefixLength]
	}
	return zap.String("session", token)
}

// TLSMode returns a zap field for the TLS mode of a listener.
func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }
