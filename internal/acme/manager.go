// Package acme obtains and renews the API certificate via ACME TLS-ALPN-01.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/logging"
)

// Manager handles certificate acquisition and renewal for one domain.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	// DB, when set, holds certificates alongside audit data. Otherwise
	// certificates go to StorageDir on disk.
	DB         *sql.DB
	StorageDir string
	Logger     *zap.Logger

	config *certmagic.Config
}

// SetLogger configures the global certmagic loggers.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

// NewManager creates a manager. db may be nil.
func NewManager(domain, email string, db *sql.DB, staging bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)

	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		DB:      db,
		Logger:  logger.With(logging.Component("acme"), logging.Domain(domain)),
	}
}

func (m *Manager) storage() (certmagic.Storage, error) {
	if m.DB != nil {
		hostname, _ := os.Hostname()
		s, err := certmagicsqlite.NewWithDB(m.DB, certmagicsqlite.WithOwnerID(hostname))
		if err != nil {
			return nil, fmt.Errorf("create certificate storage: %w", err)
		}
		return s, nil
	}
	if m.StorageDir == "" {
		return nil, errors.New("no certificate storage configured")
	}
	return &certmagic.FileStorage{Path: m.StorageDir}, nil
}

// Configure prepares the certmagic config so TLSConfig can be served before
// the certificate exists.
func (m *Manager) Configure() error {
	if m.Domain == "" {
		return errors.New("acme domain is required")
	}

	storage, err := m.storage()
	if err != nil {
		return err
	}

	cfg := certmagic.NewDefault()
	cfg.Storage = storage
	cfg.Logger = m.Logger

	caURL := certmagic.LetsEncryptProductionCA
	if m.Staging {
		caURL = certmagic.LetsEncryptStagingCA
	}

	issuer := certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:                   caURL,
		Email:                m.Email,
		Agreed:               true,
		DisableHTTPChallenge: true,
		Logger:               m.Logger,
	})
	cfg.Issuers = []certmagic.Issuer{issuer}
	m.config = cfg
	return nil
}

// Manage obtains the certificate, blocking until it is available, and keeps
// it renewed in the background. The listener serving TLSConfig must already
// be reachable on port 443 for the challenge to complete.
func (m *Manager) Manage(ctx context.Context) error {
	if m.config == nil {
		if err := m.Configure(); err != nil {
			return err
		}
	}

	m.Logger.Info("obtaining certificate", zap.Bool("staging", m.Staging))
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	m.Logger.Info("certificate ready")
	return nil
}

// TLSConfig returns a TLS configuration serving the managed certificate and
// answering TLS-ALPN challenges. It returns nil before Configure.
func (m *Manager) TLSConfig() *tls.Config {
	if m.config == nil {
		return nil
	}
	return m.config.TLSConfig()
}
