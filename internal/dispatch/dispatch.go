// Package dispatch routes named actions through authentication to the
// entity store and maps every outcome to a status and response envelope.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/models"
	"github.com/rsclarke/auditdesk/internal/ratelimit"
	"github.com/rsclarke/auditdesk/internal/store"
	"github.com/rsclarke/auditdesk/internal/telemetry"
	"github.com/rsclarke/auditdesk/internal/validation"
)

// DefaultStoreTimeout bounds each datastore call.
const DefaultStoreTimeout = 10 * time.Second

// Error messages returned to callers.
const (
	msgUnauthorized       = "unauthorized"
	msgInvalidCredentials = "invalid credentials"
	msgTooManyAttempts    = "too many login attempts"
	msgUnknownAction      = "unknown action"
	msgMissingID          = "missing id"
	msgMissingData        = "missing data"
	msgInvalidData        = "data must be a JSON object"
	msgDatastoreTimeout   = "datastore timeout"
	msgInternal           = "internal error"
)

// Request is the inbound envelope. Password is decoded loosely so that a
// non-string value is a credential mismatch rather than a decode error.
type Request struct {
	Action       string          `json:"action" validate:"required,max=64"`
	Password     any             `json:"password,omitempty"`
	SessionToken string          `json:"sessionToken,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	ID           string          `json:"id,omitempty" validate:"max=256"`
}

// Response is the outbound envelope. Status is the HTTP status code.
type Response struct {
	Status     int    `json:"-"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expiresIn"`
}

// Store is the subset of the entity store the dispatcher uses.
type Store interface {
	List(ctx context.Context, kind models.Kind) ([]models.Record, error)
	ListByAuditRun(ctx context.Context, kind models.Kind, auditRunID string) ([]models.Record, error)
	Get(ctx context.Context, kind models.Kind, id string) (models.Record, error)
	Create(ctx context.Context, kind models.Kind, rec models.Record) (models.Record, error)
	Update(ctx context.Context, kind models.Kind, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, kind models.Kind, id string) error
	FullAuditData(ctx context.Context, auditRunID string) (*models.FullAuditData, error)
	DashboardStats(ctx context.Context) (*models.DashboardStats, error)
}

// Sessions issues and checks session tokens.
type Sessions interface {
	Issue(ctx context.Context) (string, time.Duration, error)
	Validate(ctx context.Context, token string) bool
	Revoke(ctx context.Context, token string) error
}

// Limiter guards login attempts.
type Limiter interface {
	Check(ctx context.Context, id string) (ratelimit.Decision, error)
	Reset(ctx context.Context, id string) error
}

// Verifier checks a submitted password.
type Verifier interface {
	Verify(submitted any) bool
}

// Dispatcher handles one request at a time; it holds no per-request state
// and is safe for concurrent use.
type Dispatcher struct {
	Store        Store
	Sessions     Sessions
	Limiter      Limiter
	Verifier     Verifier
	Logger       *zap.Logger
	Metrics      *telemetry.Metrics
	StoreTimeout time.Duration
}

// Dispatch runs req on behalf of clientID, the caller's rate limit key.
func (d *Dispatcher) Dispatch(ctx context.Context, clientID string, req Request) Response {
	start := time.Now()
	resp := d.dispatch(ctx, clientID, req)

	label := req.Action
	if label != ActionLogin && label != ActionLogout {
		if _, ok := routes[label]; !ok {
			label = "unknown"
		}
	}
	d.Metrics.RecordRequest(ctx, label, resp.Status, time.Since(start))
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, clientID string, req Request) Response {
	if req.Action == ActionLogin {
		return d.login(ctx, clientID, req)
	}

	if !d.Sessions.Validate(ctx, req.SessionToken) {
		d.logger().Debug("rejected request without valid session",
			logging.Action(req.Action),
			logging.RemoteIP(clientID))
		return failure(http.StatusUnauthorized, msgUnauthorized)
	}

	if msg, ok := validation.Struct(req); !ok {
		return failure(http.StatusBadRequest, "invalid request: "+msg)
	}

	if req.Action == ActionLogout {
		if err := d.Sessions.Revoke(ctx, req.SessionToken); err != nil {
			d.logger().Error("logout failed", logging.Session(req.SessionToken), zap.Error(err))
			return failure(http.StatusInternalServerError, msgInternal)
		}
		return success(map[string]bool{"success": true})
	}

	r, ok := routes[req.Action]
	if !ok {
		return failure(http.StatusBadRequest, msgUnknownAction)
	}
	return d.route(ctx, r, req)
}

func (d *Dispatcher) login(ctx context.Context, clientID string, req Request) Response {
	log := d.logger().With(logging.Action(ActionLogin), logging.RemoteIP(clientID))

	decision, err := d.Limiter.Check(ctx, clientID)
	if err != nil {
		log.Error("rate limiter unavailable", zap.Error(err))
		return failure(http.StatusInternalServerError, msgInternal)
	}
	if !decision.Allowed {
		d.Metrics.RecordLockout(ctx)
		log.Warn("login rate limited", zap.Int("retry_after_seconds", decision.RetryAfter))
		return Response{
			Status:     http.StatusTooManyRequests,
			Error:      msgTooManyAttempts,
			RetryAfter: decision.RetryAfter,
		}
	}

	if !d.Verifier.Verify(req.Password) {
		d.Metrics.RecordLoginFailure(ctx)
		log.Warn("login failed")
		return failure(http.StatusUnauthorized, msgInvalidCredentials)
	}

	if err := d.Limiter.Reset(ctx, clientID); err != nil {
		log.Warn("reset rate limit after login", zap.Error(err))
	}

	tok, ttl, err := d.Sessions.Issue(ctx)
	if err != nil {
		log.Error("issue session", zap.Error(err))
		return failure(http.StatusInternalServerError, msgInternal)
	}
	log.Info("login succeeded", logging.Session(tok))
	return success(LoginResult{Token: tok, ExpiresIn: int(ttl / time.Second)})
}

func (d *Dispatcher) route(ctx context.Context, r route, req Request) Response {
	timeout := d.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		data any
		err  error
	)

	switch r.op {
	case opList:
		if req.ID != "" && r.kind != models.AuditRuns {
			data, err = d.Store.ListByAuditRun(ctx, r.kind, req.ID)
		} else {
			data, err = d.Store.List(ctx, r.kind)
		}

	case opGet:
		if req.ID == "" {
			return failure(http.StatusBadRequest, msgMissingID)
		}
		data, err = d.Store.Get(ctx, r.kind, req.ID)

	case opCreate:
		rec, resp, ok := decodeRecord(req.Data)
		if !ok {
			return resp
		}
		data, err = d.Store.Create(ctx, r.kind, rec)

	case opUpdate:
		if req.ID == "" {
			return failure(http.StatusBadRequest, msgMissingID)
		}
		rec, resp, ok := decodeRecord(req.Data)
		if !ok {
			return resp
		}
		data, err = d.Store.Update(ctx, r.kind, req.ID, rec)

	case opDelete:
		if req.ID == "" {
			return failure(http.StatusBadRequest, msgMissingID)
		}
		err = d.Store.Delete(ctx, r.kind, req.ID)
		data = map[string]any{"success": true, "id": req.ID}

	case opFullAuditData:
		if req.ID == "" {
			return failure(http.StatusBadRequest, msgMissingID)
		}
		data, err = d.Store.FullAuditData(ctx, req.ID)

	case opDashboardStats:
		data, err = d.Store.DashboardStats(ctx)
	}

	if err != nil {
		return d.storeFailure(ctx, req.Action, err)
	}
	return success(data)
}

// storeFailure maps a store error to a response. Input problems are 400;
// everything else, reachable or not, is a downstream 500 carrying the
// store's message.
func (d *Dispatcher) storeFailure(ctx context.Context, action string, err error) Response {
	log := d.logger().With(logging.Action(action), zap.Error(err))

	switch {
	case errors.Is(err, store.ErrUnknownColumn),
		errors.Is(err, store.ErrInvalidValue),
		errors.Is(err, store.ErrUnknownKind),
		errors.Is(err, store.ErrNoParent):
		log.Debug("rejected store input")
		return failure(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Error("datastore timeout")
		return failure(http.StatusInternalServerError, msgDatastoreTimeout)
	case errors.Is(err, store.ErrNotFound):
		log.Debug("record not found")
		return failure(http.StatusInternalServerError, err.Error())
	default:
		log.Error("datastore operation failed")
		return failure(http.StatusInternalServerError, err.Error())
	}
}

// decodeRecord parses data as a JSON object.
func decodeRecord(data json.RawMessage) (models.Record, Response, bool) {
	if len(data) == 0 || string(data) == "null" {
		return nil, failure(http.StatusBadRequest, msgMissingData), false
	}
	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, failure(http.StatusBadRequest, msgInvalidData), false
	}
	return rec, Response{}, true
}

func (d *Dispatcher) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func success(data any) Response {
	return Response{Status: http.StatusOK, Data: data}
}

func failure(status int, msg string) Response {
	return Response{Status: status, Error: msg}
}
