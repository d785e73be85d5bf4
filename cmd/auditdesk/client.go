package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/auditdesk/internal/client"
)

const clientTimeout = 30 * time.Second

type clientConfig struct {
	apiURL  string
	session string
}

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	cmd.Flags().StringVar(&cfg.apiURL, "api-url", getEnv("AUDITDESK_API_URL", "http://localhost:8080"), "API server URL")
	cmd.Flags().StringVar(&cfg.session, "session", os.Getenv("AUDITDESK_SESSION"), "session token from 'auditdesk login'")
}

func (cfg *clientConfig) newClient(requireSession bool) (*client.Client, error) {
	if cfg.apiURL == "" {
		return nil, fmt.Errorf("API URL required (use --api-url flag or AUDITDESK_API_URL env var)")
	}
	if requireSession && cfg.session == "" {
		return nil, fmt.Errorf("session token required (run 'auditdesk login', then use --session or AUDITDESK_SESSION)")
	}
	return client.NewClient(cfg.apiURL, cfg.session), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, clientTimeout)
}
