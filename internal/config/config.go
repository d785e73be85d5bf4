// Package config loads server configuration from the environment, an
// optional .env file and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rsclarke/auditdesk/internal/validation"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AUDITDESK"

// Config holds the server configuration. Values are read once at startup.
type Config struct {
	ListenAddr   string        `mapstructure:"LISTEN_ADDR" validate:"required"`
	DatabaseURL  string        `mapstructure:"DATABASE_URL" validate:"required"`
	AutoMigrate  bool          `mapstructure:"AUTO_MIGRATE"`
	StoreTimeout time.Duration `mapstructure:"STORE_TIMEOUT" validate:"gt=0"`

	AdminPassword     string `mapstructure:"ADMIN_PASSWORD" validate:"required_without=AdminPasswordHash,excluded_with=AdminPasswordHash"`
	AdminPasswordHash string `mapstructure:"ADMIN_PASSWORD_HASH"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS" validate:"required"`

	MaxLoginAttempts int           `mapstructure:"MAX_LOGIN_ATTEMPTS" validate:"min=1"`
	LoginWindow      time.Duration `mapstructure:"LOGIN_WINDOW" validate:"gt=0"`
	LockoutDuration  time.Duration `mapstructure:"LOCKOUT_DURATION" validate:"gt=0"`
	SessionDuration  time.Duration `mapstructure:"SESSION_DURATION" validate:"gt=0"`

	StateBackend    string `mapstructure:"STATE_BACKEND" validate:"oneof=memory valkey"`
	ValkeyAddr      string `mapstructure:"VALKEY_ADDR" validate:"required_if=StateBackend valkey"`
	ValkeyPassword  string `mapstructure:"VALKEY_PASSWORD"`
	ValkeyDB        int    `mapstructure:"VALKEY_DB" validate:"min=0"`
	ValkeyKeyPrefix string `mapstructure:"VALKEY_KEY_PREFIX"`
	ValkeyTLS       bool   `mapstructure:"VALKEY_TLS"`

	TrustProxy        bool    `mapstructure:"TRUST_PROXY"`
	TrustedProxyCount int     `mapstructure:"TRUSTED_PROXY_COUNT" validate:"min=0"`
	ThrottleRPS       float64 `mapstructure:"THROTTLE_RPS" validate:"min=0"`
	ThrottleBurst     int     `mapstructure:"THROTTLE_BURST" validate:"min=0"`

	MetricsEnabled bool   `mapstructure:"METRICS_ENABLED"`
	MetricsPath    string `mapstructure:"METRICS_PATH" validate:"startswith=/"`

	TLSCert     string `mapstructure:"TLS_CERT" validate:"required_with=TLSKey"`
	TLSKey      string `mapstructure:"TLS_KEY" validate:"required_with=TLSCert"`
	ACMEDomain  string `mapstructure:"ACME_DOMAIN" validate:"omitempty,hostname"`
	ACMEEmail   string `mapstructure:"ACME_EMAIL" validate:"omitempty,email"`
	ACMEStaging bool   `mapstructure:"ACME_STAGING"`
}

var defaults = map[string]any{
	"LISTEN_ADDR":         ":8080",
	"DATABASE_URL":        "auditdesk.db",
	"AUTO_MIGRATE":        true,
	"STORE_TIMEOUT":       "10s",
	"ADMIN_PASSWORD":      "",
	"ADMIN_PASSWORD_HASH": "",
	"ALLOWED_ORIGINS":     "http://localhost:3000",
	"MAX_LOGIN_ATTEMPTS":  5,
	"LOGIN_WINDOW":        "1h",
	"LOCKOUT_DURATION":    "15m",
	"SESSION_DURATION":    "1h",
	"STATE_BACKEND":       "memory",
	"VALKEY_ADDR":         "",
	"VALKEY_PASSWORD":     "",
	"VALKEY_DB":           0,
	"VALKEY_KEY_PREFIX":   "auditdesk:",
	"VALKEY_TLS":          false,
	"TRUST_PROXY":         false,
	"TRUSTED_PROXY_COUNT": 0,
	"THROTTLE_RPS":        10.0,
	"THROTTLE_BURST":      20,
	"METRICS_ENABLED":     true,
	"METRICS_PATH":        "/metrics",
	"TLS_CERT":            "",
	"TLS_KEY":             "",
	"ACME_DOMAIN":         "",
	"ACME_EMAIL":          "",
	"ACME_STAGING":        false,
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"listen":         "LISTEN_ADDR",
	"db":             "DATABASE_URL",
	"auto-migrate":   "AUTO_MIGRATE",
	"state-backend":  "STATE_BACKEND",
	"valkey-addr":    "VALKEY_ADDR",
	"trust-proxy":    "TRUST_PROXY",
	"tls-cert":       "TLS_CERT",
	"tls-key":        "TLS_KEY",
	"acme-domain":    "ACME_DOMAIN",
	"acme-email":     "ACME_EMAIL",
	"acme-staging":   "ACME_STAGING",
	"metrics":        "METRICS_ENABLED",
	"allowed-origin": "ALLOWED_ORIGINS",
}

// Load reads configuration from AUDITDESK_* environment variables, an
// optional .env file in the working directory and, when flags is non-nil,
// any of the known flags the caller explicitly set.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if msg, ok := validation.Struct(c); !ok {
		return fmt.Errorf("invalid config: %s", msg)
	}
	if len(c.Origins()) == 0 {
		return errors.New("invalid config: ALLOWED_ORIGINS must list at least one origin")
	}
	if c.ACMEDomain != "" && c.TLSCert != "" {
		return errors.New("invalid config: ACME_DOMAIN and TLS_CERT are mutually exclusive")
	}
	return nil
}

// Origins returns the allow-listed CORS origins in configured order.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// TLSMode reports how the listener should terminate TLS: "manual", "acme"
// or "" for plain HTTP.
func (c *Config) TLSMode() string {
	switch {
	case c.TLSCert != "" && c.TLSKey != "":
		return "manual"
	case c.ACMEDomain != "":
		return "acme"
	default:
		return ""
	}
}
