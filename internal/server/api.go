// Package server implements the HTTP transport for the audit API.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/dispatch"
	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/ratelimit"
	"github.com/rsclarke/auditdesk/internal/telemetry"
)

const (
	maxBodyBytes   = 1 << 16 // 64KB limit
	corsMaxAge     = 3600
	healthTimeout  = 2 * time.Second
	apiPath        = "/api/audit"
	throttledRetry = 1
)

// Dispatcher runs a decoded request envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, clientID string, req dispatch.Request) dispatch.Response
}

// Pinger reports datastore reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// APIServer serves the single JSON endpoint plus health and metrics.
type APIServer struct {
	Dispatcher        Dispatcher
	Health            Pinger
	AllowedOrigins    []string
	TrustProxy        bool
	TrustedProxyCount int
	Throttle          *ratelimit.Throttle
	Metrics           *telemetry.Metrics
	MetricsPath       string
	MetricsHandler    http.Handler
	Logger            *zap.Logger
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleEndpoint)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.MetricsHandler != nil {
		path := s.MetricsPath
		if path == "" {
			path = telemetry.DefaultMetricsPath
		}
		mux.Handle("GET "+path, s.MetricsHandler)
	}
	return mux
}

func (s *APIServer) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != apiPath {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	s.setCORSHeaders(w, r)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		s.handleDispatch(w, r)
	default:
		s.logger().Debug("method not allowed", logging.Method(r.Method),
			logging.RemoteIP(ClientIP(r, s.TrustProxy, s.TrustedProxyCount)))
		w.Header().Set("Allow", "POST, OPTIONS")
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *APIServer) handleDispatch(w http.ResponseWriter, r *http.Request) {
	clientID := ClientIP(r, s.TrustProxy, s.TrustedProxyCount)

	if !s.Throttle.Allow(clientID) {
		s.Metrics.RecordThrottled(r.Context())
		s.logger().Debug("request throttled", logging.RemoteIP(clientID))
		w.Header().Set("Retry-After", strconv.Itoa(throttledRetry))
		writeJSON(w, http.StatusTooManyRequests, dispatch.Response{
			Error:      "too many requests",
			RetryAfter: throttledRetry,
		})
		return
	}

	var req dispatch.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unexpected trailing data"})
		return
	}

	resp := s.Dispatcher.Dispatch(r.Context(), clientID, req)
	if resp.Status == http.StatusTooManyRequests && resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
	}

	s.logger().Debug("request handled",
		logging.Action(req.Action),
		logging.Status(resp.Status),
		logging.RemoteIP(clientID))

	writeJSON(w, resp.Status, resp)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := s.Health.Ping(ctx); err != nil {
			s.logger().Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "datastore unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// setCORSHeaders echoes an allow-listed Origin and falls back to the first
// allow-listed origin for anything else.
func (s *APIServer) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.AllowedOrigins) == 0 {
		return
	}

	allow := s.AllowedOrigins[0]
	origin := r.Header.Get("Origin")
	if origin != "" {
		if s.isAllowedOrigin(origin) {
			allow = origin
		} else {
			s.logger().Debug("CORS request from unlisted origin", logging.Origin(origin))
		}
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", allow)
	h.Add("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", strconv.Itoa(corsMaxAge))
}

func (s *APIServer) isAllowedOrigin(origin string) bool {
	for _, o := range s.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
