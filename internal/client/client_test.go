package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rsclarke/auditdesk/internal/auth"
	"github.com/rsclarke/auditdesk/internal/db"
	"github.com/rsclarke/auditdesk/internal/dispatch"
	"github.com/rsclarke/auditdesk/internal/models"
	"github.com/rsclarke/auditdesk/internal/ratelimit"
	"github.com/rsclarke/auditdesk/internal/server"
	"github.com/rsclarke/auditdesk/internal/session"
	"github.com/rsclarke/auditdesk/internal/state/memory"
	"github.com/rsclarke/auditdesk/internal/store"
)

const password = "letmein-please"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	database, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	verifier, err := auth.NewVerifier(password, "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	api := &server.APIServer{
		Dispatcher: &dispatch.Dispatcher{
			Store:    store.New(database, nil, nil),
			Sessions: session.NewManager(memory.NewSessionStore(), time.Hour, nil),
			Limiter:  ratelimit.New(memory.NewRateLimitStore(), ratelimit.DefaultConfig(), nil),
			Verifier: verifier,
		},
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginCallLogout(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	c := NewClient(ts.URL+"/", "")

	if _, err := c.AuditRuns(ctx); err == nil {
		t.Fatal("expected error before login")
	} else {
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
			t.Fatalf("err = %v, want 401 APIError", err)
		}
	}

	login, err := c.Login(ctx, password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.ExpiresIn != 3600 || c.SessionToken != login.Token {
		t.Errorf("login = %+v, session = %q", login, c.SessionToken)
	}

	var run models.Record
	if err := c.Call(ctx, "createAuditRun", "", map[string]any{"site_url": "https://example.org"}, &run); err != nil {
		t.Fatalf("createAuditRun: %v", err)
	}
	if err := c.Call(ctx, "createFinding", "", map[string]any{
		"audit_run_id": run.ID(),
		"title":        "Analytics fire before consent",
		"severity":     "High",
	}, nil); err != nil {
		t.Fatalf("createFinding: %v", err)
	}

	runs, err := c.AuditRuns(ctx)
	if err != nil {
		t.Fatalf("AuditRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID() != run.ID() {
		t.Errorf("runs = %v", runs)
	}

	full, err := c.FullAuditData(ctx, run.ID())
	if err != nil {
		t.Fatalf("FullAuditData: %v", err)
	}
	if len(full.Findings) != 1 || full.PagesFlows == nil {
		t.Errorf("full = %+v", full)
	}

	stats, err := c.DashboardStats(ctx)
	if err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if stats.LatestAudit.ID() != run.ID() {
		t.Errorf("latest audit = %v", stats.LatestAudit)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.SessionToken != "" {
		t.Error("session token not cleared")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, "")

	_, err := c.Login(context.Background(), "guess")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestLockoutCarriesRetryAfter(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(ts.URL, "")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = c.Login(ctx, "guess")
	}
	_, err := c.Login(ctx, password)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.RetryAfter != 900 {
		t.Errorf("apiErr = %+v", apiErr)
	}
}
