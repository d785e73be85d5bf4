package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/auditdesk/internal/logging"
)

// ServerConfig describes one listener.
type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	TLSConfig         *tls.Config
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

// DefaultServerConfig returns a config with conservative timeouts. The write
// timeout covers the datastore deadline with room to encode the reply.
func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// ManagedServer wraps an http.Server with startup error reporting and
// graceful shutdown.
type ManagedServer struct {
	server   *http.Server
	logger   *zap.Logger
	name     string
	listener net.Listener
	errCh    chan error
	startErr error
}

// NewManagedServer creates a server named name for logs.
func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	return &ManagedServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			TLSConfig:         cfg.TLSConfig,
			ErrorLog:          errLog,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		logger: logger.With(logging.Component(name)),
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later serve errors surface through Wait.
func (m *ManagedServer) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		m.startErr = err
		return fmt.Errorf("%s failed to start: %w", m.name, err)
	}
	m.listener = ln
	if m.server.TLSConfig != nil {
		ln = tls.NewListener(ln, m.server.TLSConfig)
	}

	m.logger.Info("listening",
		logging.Addr(m.listener.Addr().String()),
		zap.Bool("tls", m.server.TLSConfig != nil))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (m *ManagedServer) Addr() string {
	if m.listener != nil {
		return m.listener.Addr().String()
	}
	return m.server.Addr
}

// Wait blocks until ctx is done or the server stops on its own.
func (m *ManagedServer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-m.errCh:
		if ok && err != nil {
			return fmt.Errorf("%s stopped: %w", m.name, err)
		}
		return nil
	}
}

// Shutdown drains in-flight requests until ctx expires.
func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.startErr != nil || m.listener == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.Error(err))
		return
	}
	m.logger.Info("stopped")
}
