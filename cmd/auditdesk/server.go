package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/acme"
	"github.com/rsclarke/auditdesk/internal/auth"
	"github.com/rsclarke/auditdesk/internal/config"
	"github.com/rsclarke/auditdesk/internal/db"
	"github.com/rsclarke/auditdesk/internal/dispatch"
	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/ratelimit"
	"github.com/rsclarke/auditdesk/internal/server"
	"github.com/rsclarke/auditdesk/internal/session"
	"github.com/rsclarke/auditdesk/internal/state"
	"github.com/rsclarke/auditdesk/internal/state/memory"
	"github.com/rsclarke/auditdesk/internal/state/valkey"
	"github.com/rsclarke/auditdesk/internal/store"
	"github.com/rsclarke/auditdesk/internal/telemetry"
)

const (
	shutdownTimeout   = 30 * time.Second
	throttleMaxClient = 10000
	certStorageDir    = "certmagic"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the audit API server",
	Long: `Start the audit API server.

Configuration is read from AUDITDESK_* environment variables and an optional
.env file; flags override both. AUDITDESK_ADMIN_PASSWORD or
AUDITDESK_ADMIN_PASSWORD_HASH is required.

TLS Modes:
  --tls-cert + --tls-key  → Manual TLS mode (use provided certificates)
  --acme-domain           → ACME mode (Let's Encrypt via TLS-ALPN-01; the
                            listener must be reachable on port 443)
  (neither)               → plain HTTP, for use behind a TLS proxy

Notes:
  With a SQLite database, ACME certificates are stored in the same file.
  With Postgres they are stored under ./certmagic/.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("listen", ":8080", "address to listen on")
	f.String("db", "auditdesk.db", "SQLite path or postgres:// URL")
	f.Bool("auto-migrate", true, "apply pending migrations at startup")
	f.String("state-backend", "memory", "where sessions and login attempts live (memory|valkey)")
	f.String("valkey-addr", "", "Valkey address for --state-backend=valkey")
	f.Bool("trust-proxy", false, "use X-Forwarded-For/X-Real-IP for the client address")
	f.String("tls-cert", "", "path to TLS certificate file (enables manual TLS mode)")
	f.String("tls-key", "", "path to TLS key file (enables manual TLS mode)")
	f.String("acme-domain", "", "domain to obtain a certificate for (enables ACME mode)")
	f.String("acme-email", "", "email for Let's Encrypt notifications")
	f.Bool("acme-staging", false, "use Let's Encrypt staging CA")
	f.Bool("metrics", true, "serve Prometheus metrics")
	f.String("allowed-origin", "http://localhost:3000", "comma-separated CORS origins; the first is the fallback")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	logger.Info("database opened", logging.Backend(string(database.Dialect)))

	if cfg.AutoMigrate {
		if err := database.Migrate(db.Up); err != nil && !errors.Is(err, db.ErrNoChange) {
			return fmt.Errorf("migrate database: %w", err)
		}
	}

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
		metricsPath    string
	)
	if cfg.MetricsEnabled {
		handler, path, shutdownMeter, err := telemetry.InitMeter(cfg.MetricsPath)
		if err != nil {
			return err
		}
		defer func() { _ = shutdownMeter(context.Background()) }()

		metrics, err = telemetry.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return err
		}
		metricsHandler, metricsPath = handler, path
	}

	rateLimits, sessionStore, closeState, err := openState(cfg)
	if err != nil {
		return err
	}
	defer closeState()

	verifier, err := auth.NewVerifier(cfg.AdminPassword, cfg.AdminPasswordHash)
	if err != nil {
		return fmt.Errorf("admin credential: %w", err)
	}

	limiter := ratelimit.New(rateLimits, ratelimit.Config{
		MaxAttempts:    cfg.MaxLoginAttempts,
		Window:         cfg.LoginWindow,
		Lockout:        cfg.LockoutDuration,
		SweepThreshold: ratelimit.DefaultConfig().SweepThreshold,
	}, logger.Named("ratelimit"))

	st := store.New(database, logger.Named("store"), metrics)

	dispatcher := &dispatch.Dispatcher{
		Store:        st,
		Sessions:     session.NewManager(sessionStore, cfg.SessionDuration, logger.Named("session")),
		Limiter:      limiter,
		Verifier:     verifier,
		Logger:       logger.Named("dispatch"),
		Metrics:      metrics,
		StoreTimeout: cfg.StoreTimeout,
	}

	apiSrv := &server.APIServer{
		Dispatcher:        dispatcher,
		Health:            st,
		AllowedOrigins:    cfg.Origins(),
		TrustProxy:        cfg.TrustProxy,
		TrustedProxyCount: cfg.TrustedProxyCount,
		Throttle:          ratelimit.NewThrottle(cfg.ThrottleRPS, cfg.ThrottleBurst, throttleMaxClient),
		Metrics:           metrics,
		MetricsPath:       metricsPath,
		MetricsHandler:    metricsHandler,
		Logger:            logger.Named("api"),
	}

	srvCfg := server.DefaultServerConfig(cfg.ListenAddr, apiSrv.Handler(), logger.Named("api"))

	var manager *acme.Manager
	tlsMode := cfg.TLSMode()
	switch tlsMode {
	case "manual":
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		srvCfg.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	case "acme":
		manager = acme.NewManager(cfg.ACMEDomain, cfg.ACMEEmail, nil, cfg.ACMEStaging, logger.Named("certmagic"))
		if database.Dialect == db.SQLite {
			manager.DB = database.DB
		} else {
			manager.StorageDir = certStorageDir
		}
		if err := manager.Configure(); err != nil {
			return fmt.Errorf("configure ACME: %w", err)
		}
		srvCfg.TLSConfig = manager.TLSConfig()
	default:
		tlsMode = "none"
		logger.Info("TLS disabled", zap.String("reason", "no certificate or ACME domain configured"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiServer := server.NewManagedServer("api", srvCfg)
	if err := apiServer.Start(); err != nil {
		return err
	}
	logger.Info("server started",
		logging.Addr(apiServer.Addr()),
		logging.TLSMode(tlsMode),
		logging.Backend(cfg.StateBackend))

	if manager != nil {
		if err := manager.Manage(ctx); err != nil {
			shutdown(apiServer)
			return fmt.Errorf("ACME certificate acquisition: %w", err)
		}
	}

	waitErr := apiServer.Wait(ctx)
	logger.Info("shutting down")
	shutdown(apiServer)
	return waitErr
}

func shutdown(s *server.ManagedServer) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.Shutdown(ctx)
}

// openState returns the stores for login attempts and sessions.
func openState(cfg *config.Config) (state.RateLimitStore, state.SessionStore, func(), error) {
	if cfg.StateBackend != "valkey" {
		return memory.NewRateLimitStore(), memory.NewSessionStore(), func() {}, nil
	}

	var tlsCfg *tls.Config
	if cfg.ValkeyTLS {
		tlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	vs, err := valkey.New(valkey.Config{
		Address:   cfg.ValkeyAddr,
		Password:  cfg.ValkeyPassword,
		DB:        cfg.ValkeyDB,
		KeyPrefix: cfg.ValkeyKeyPrefix,
		TLS:       tlsCfg,
		EntryTTL:  2*cfg.LoginWindow + cfg.LockoutDuration,
		Logger:    logger.Named("valkey"),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect valkey: %w", err)
	}
	return vs.RateLimits(), vs.Sessions(), vs.Close, nil
}
