// Package client is a Go client for the audit API envelope.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rsclarke/auditdesk/internal/models"
)

type Client struct {
	BaseURL      string
	SessionToken string
	HTTPClient   *http.Client
}

func NewClient(baseURL, sessionToken string) *Client {
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		SessionToken: sessionToken,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type request struct {
	Action       string `json:"action"`
	Password     string `json:"password,omitempty"`
	SessionToken string `json:"sessionToken,omitempty"`
	Data         any    `json:"data,omitempty"`
	ID           string `json:"id,omitempty"`
}

type envelope struct {
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	RetryAfter int             `json:"retryAfter"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// APIError is a non-200 reply.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (status %d, retry after %ds)", e.Message, e.Status, e.RetryAfter)
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

// Login exchanges the admin password for a session token and keeps it on c.
func (c *Client) Login(ctx context.Context, password string) (*LoginResponse, error) {
	var result LoginResponse
	if err := c.do(ctx, request{Action: "login", Password: password}, &result); err != nil {
		return nil, err
	}
	c.SessionToken = result.Token
	return &result, nil
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Call(ctx, "logout", "", nil, nil); err != nil {
		return err
	}
	c.SessionToken = ""
	return nil
}

// Call runs an authenticated action and decodes the reply data into out,
// which may be nil.
func (c *Client) Call(ctx context.Context, action, id string, data, out any) error {
	return c.do(ctx, request{
		Action:       action,
		SessionToken: c.SessionToken,
		Data:         data,
		ID:           id,
	}, out)
}

// AuditRuns lists every audit run, newest first.
func (c *Client) AuditRuns(ctx context.Context) ([]models.Record, error) {
	var runs []models.Record
	if err := c.Call(ctx, "getAuditRuns", "", nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// DashboardStats returns the latest audit run, all findings and child row counts.
func (c *Client) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	var stats models.DashboardStats
	if err := c.Call(ctx, "getDashboardStats", "", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// FullAuditData returns one audit run with every child row.
func (c *Client) FullAuditData(ctx context.Context, auditRunID string) (*models.FullAuditData, error) {
	var full models.FullAuditData
	if err := c.Call(ctx, "getFullAuditData", auditRunID, nil, &full); err != nil {
		return nil, err
	}
	return &full, nil
}

func (c *Client) do(ctx context.Context, in request, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg, RetryAfter: env.RetryAfter}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
