package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rsclarke/auditdesk/internal/auth"
	"github.com/rsclarke/auditdesk/internal/db"
	"github.com/rsclarke/auditdesk/internal/models"
	"github.com/rsclarke/auditdesk/internal/ratelimit"
	"github.com/rsclarke/auditdesk/internal/session"
	"github.com/rsclarke/auditdesk/internal/state/memory"
	"github.com/rsclarke/auditdesk/internal/store"
)

const testPassword = "correct horse battery staple"

// recordingStore counts every call and returns canned results.
type recordingStore struct {
	mu     sync.Mutex
	calls  []string
	err    error
	block  bool
	// cutErr, when set, is returned instead of ctx.Err() once a blocked
	// call is cut short, the way a driver reports an interrupted query.
	cutErr error
}

func (r *recordingStore) record(call string) error {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return r.err
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recordingStore) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return ""
	}
	return r.calls[len(r.calls)-1]
}

func (r *recordingStore) List(ctx context.Context, kind models.Kind) ([]models.Record, error) {
	if r.block {
		<-ctx.Done()
		if r.cutErr != nil {
			return nil, r.cutErr
		}
		return nil, ctx.Err()
	}
	return []models.Record{{"id": "a"}}, r.record("List:" + string(kind))
}

func (r *recordingStore) ListByAuditRun(_ context.Context, kind models.Kind, id string) ([]models.Record, error) {
	return []models.Record{}, r.record("ListByAuditRun:" + string(kind) + ":" + id)
}

func (r *recordingStore) Get(_ context.Context, kind models.Kind, id string) (models.Record, error) {
	return models.Record{"id": id}, r.record("Get:" + string(kind) + ":" + id)
}

func (r *recordingStore) Create(_ context.Context, kind models.Kind, rec models.Record) (models.Record, error) {
	return rec, r.record("Create:" + string(kind))
}

func (r *recordingStore) Update(_ context.Context, kind models.Kind, id string, rec models.Record) (models.Record, error) {
	return rec, r.record("Update:" + string(kind) + ":" + id)
}

func (r *recordingStore) Delete(_ context.Context, kind models.Kind, id string) error {
	return r.record("Delete:" + string(kind) + ":" + id)
}

func (r *recordingStore) FullAuditData(_ context.Context, id string) (*models.FullAuditData, error) {
	return &models.FullAuditData{AuditRun: models.Record{"id": id}}, r.record("FullAuditData:" + id)
}

func (r *recordingStore) DashboardStats(context.Context) (*models.DashboardStats, error) {
	return &models.DashboardStats{}, r.record("DashboardStats")
}

type fixture struct {
	d        *Dispatcher
	store    *recordingStore
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	sessions := session.NewManager(memory.NewSessionStore(), time.Hour, nil)
	sessions.SetClock(clock)
	limiter := ratelimit.New(memory.NewRateLimitStore(), ratelimit.DefaultConfig(), nil)
	limiter.SetClock(clock)
	verifier, err := auth.NewVerifier(testPassword, "")
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	rs := &recordingStore{}
	return &fixture{
		d: &Dispatcher{
			Store:    rs,
			Sessions: sessions,
			Limiter:  limiter,
			Verifier: verifier,
		},
		store:    rs,
		sessions: sessions,
		limiter:  limiter,
		now:      &now,
	}
}

func (f *fixture) login(t *testing.T) string {
	t.Helper()
	resp := f.d.Dispatch(context.Background(), "10.0.0.1", Request{Action: ActionLogin, Password: testPassword})
	if resp.Status != http.StatusOK {
		t.Fatalf("login status = %d (%s)", resp.Status, resp.Error)
	}
	return resp.Data.(LoginResult).Token
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t)
	resp := f.d.Dispatch(context.Background(), "10.0.0.1", Request{Action: ActionLogin, Password: testPassword})
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	res, ok := resp.Data.(LoginResult)
	if !ok {
		t.Fatalf("data is %T", resp.Data)
	}
	if len(res.Token) != 64 {
		t.Errorf("token length = %d, want 64", len(res.Token))
	}
	if res.ExpiresIn != 3600 {
		t.Errorf("expiresIn = %d, want 3600", res.ExpiresIn)
	}
	if !f.sessions.Validate(context.Background(), res.Token) {
		t.Error("issued token does not validate")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	for _, pw := range []any{"nope", nil, 12345, map[string]any{"$ne": ""}} {
		resp := f.d.Dispatch(context.Background(), "10.0.0.2", Request{Action: ActionLogin, Password: pw})
		if resp.Status != http.StatusUnauthorized {
			t.Errorf("password %v: status = %d, want 401", pw, resp.Status)
		}
		if resp.Error != msgInvalidCredentials {
			t.Errorf("password %v: error = %q", pw, resp.Error)
		}
	}
}

func TestLoginLockoutPrecedesPasswordCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		resp := f.d.Dispatch(ctx, "10.0.0.3", Request{Action: ActionLogin, Password: "wrong"})
		if resp.Status != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i, resp.Status)
		}
	}

	resp := f.d.Dispatch(ctx, "10.0.0.3", Request{Action: ActionLogin, Password: testPassword})
	if resp.Status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.Status)
	}
	if resp.RetryAfter != 900 {
		t.Errorf("retryAfter = %d, want 900", resp.RetryAfter)
	}

	other := f.d.Dispatch(ctx, "10.0.0.4", Request{Action: ActionLogin, Password: testPassword})
	if other.Status != http.StatusOK {
		t.Errorf("other client status = %d, want 200", other.Status)
	}
}

func TestLoginResetsCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.d.Dispatch(ctx, "10.0.0.5", Request{Action: ActionLogin, Password: "wrong"})
	}
	if resp := f.d.Dispatch(ctx, "10.0.0.5", Request{Action: ActionLogin, Password: testPassword}); resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	for i := 1; i <= 5; i++ {
		resp := f.d.Dispatch(ctx, "10.0.0.5", Request{Action: ActionLogin, Password: "wrong"})
		if resp.Status != http.StatusUnauthorized {
			t.Fatalf("attempt %d after reset: status = %d, want 401", i, resp.Status)
		}
	}
}

func TestUnauthenticatedNeverReachesStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expired := f.login(t)
	*f.now = f.now.Add(time.Hour + time.Second)

	tokens := map[string]string{
		"missing": "",
		"unknown": "deadbeef",
		"expired": expired,
	}
	for name, tok := range tokens {
		for _, action := range []string{"getAuditRuns", "createFinding", "getDashboardStats", "getFullAuditData", "logout", "noSuchAction"} {
			resp := f.d.Dispatch(ctx, "10.0.0.6", Request{Action: action, SessionToken: tok, ID: "x", Data: json.RawMessage(`{"title":"t"}`)})
			if resp.Status != http.StatusUnauthorized {
				t.Errorf("%s token, %s: status = %d, want 401", name, action, resp.Status)
			}
			if resp.Error != msgUnauthorized {
				t.Errorf("%s token, %s: error = %q", name, action, resp.Error)
			}
		}
	}
	if n := f.store.count(); n != 0 {
		t.Errorf("store invoked %d times, want 0", n)
	}
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.login(t)

	resp := f.d.Dispatch(ctx, "10.0.0.7", Request{Action: ActionLogout, SessionToken: tok})
	if resp.Status != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.Status)
	}
	if m, ok := resp.Data.(map[string]bool); !ok || !m["success"] {
		t.Errorf("data = %v", resp.Data)
	}

	again := f.d.Dispatch(ctx, "10.0.0.7", Request{Action: "getAuditRuns", SessionToken: tok})
	if again.Status != http.StatusUnauthorized {
		t.Errorf("after logout status = %d, want 401", again.Status)
	}
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t)
	resp := f.d.Dispatch(context.Background(), "10.0.0.8", Request{Action: "dropTables", SessionToken: tok})
	if resp.Status != http.StatusBadRequest || resp.Error != msgUnknownAction {
		t.Errorf("resp = %+v, want 400 unknown action", resp)
	}
	if f.store.count() != 0 {
		t.Error("store invoked for unknown action")
	}
}

func TestRouting(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t)
	data := json.RawMessage(`{"title":"Cookie banner missing"}`)

	tests := []struct {
		action string
		id     string
		data   json.RawMessage
		want   string
	}{
		{"getAuditRuns", "", nil, "List:audit_runs"},
		{"getAuditRuns", "ignored", nil, "List:audit_runs"},
		{"getAuditRun", "r1", nil, "Get:audit_runs:r1"},
		{"createAuditRun", "", json.RawMessage(`{"site_url":"https://a.example"}`), "Create:audit_runs"},
		{"updateAuditRun", "r1", json.RawMessage(`{"notes":"n"}`), "Update:audit_runs:r1"},
		{"deleteAuditRun", "r1", nil, "Delete:audit_runs:r1"},
		{"getPagesFlows", "", nil, "List:pages_flows"},
		{"getPagesFlows", "r1", nil, "ListByAuditRun:pages_flows:r1"},
		{"createPageFlow", "", data, "Create:pages_flows"},
		{"updatePageFlow", "p1", data, "Update:pages_flows:p1"},
		{"deletePageFlow", "p1", nil, "Delete:pages_flows:p1"},
		{"getTrackersCookies", "r1", nil, "ListByAuditRun:trackers_cookies:r1"},
		{"createTrackerCookie", "", data, "Create:trackers_cookies"},
		{"updateTrackerCookie", "c1", data, "Update:trackers_cookies:c1"},
		{"deleteTrackerCookie", "c1", nil, "Delete:trackers_cookies:c1"},
		{"getThirdPartyVendors", "r1", nil, "ListByAuditRun:third_party_vendors:r1"},
		{"createThirdPartyVendor", "", data, "Create:third_party_vendors"},
		{"updateThirdPartyVendor", "v1", data, "Update:third_party_vendors:v1"},
		{"deleteThirdPartyVendor", "v1", nil, "Delete:third_party_vendors:v1"},
		{"getFindings", "", nil, "List:findings"},
		{"getFindings", "r1", nil, "ListByAuditRun:findings:r1"},
		{"createFinding", "", data, "Create:findings"},
		{"updateFinding", "f1", data, "Update:findings:f1"},
		{"deleteFinding", "f1", nil, "Delete:findings:f1"},
		{"getFullAuditData", "r1", nil, "FullAuditData:r1"},
		{"getDashboardStats", "", nil, "DashboardStats"},
	}

	for _, tt := range tests {
		t.Run(tt.action+"/"+tt.id, func(t *testing.T) {
			resp := f.d.Dispatch(context.Background(), "10.0.0.9", Request{
				Action:       tt.action,
				SessionToken: tok,
				ID:           tt.id,
				Data:         tt.data,
			})
			if resp.Status != http.StatusOK {
				t.Fatalf("status = %d (%s), want 200", resp.Status, resp.Error)
			}
			if got := f.store.last(); got != tt.want {
				t.Errorf("store call = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCatalogIsComplete(t *testing.T) {
	if got := len(Actions()); got != 25 {
		t.Errorf("len(Actions()) = %d, want 25", got)
	}
}

func TestBadInput(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t)

	tests := []struct {
		name string
		req  Request
		want string
	}{
		{"get without id", Request{Action: "getAuditRun"}, msgMissingID},
		{"update without id", Request{Action: "updateFinding", Data: json.RawMessage(`{}`)}, msgMissingID},
		{"delete without id", Request{Action: "deleteFinding"}, msgMissingID},
		{"export without id", Request{Action: "getFullAuditData"}, msgMissingID},
		{"create without data", Request{Action: "createFinding"}, msgMissingData},
		{"create with null data", Request{Action: "createFinding", Data: json.RawMessage(`null`)}, msgMissingData},
		{"create with array data", Request{Action: "createFinding", Data: json.RawMessage(`[1,2]`)}, msgInvalidData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.SessionToken = tok
			resp := f.d.Dispatch(context.Background(), "10.0.0.10", tt.req)
			if resp.Status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.Status)
			}
			if resp.Error != tt.want {
				t.Errorf("error = %q, want %q", resp.Error, tt.want)
			}
		})
	}
	if f.store.count() != 0 {
		t.Errorf("store invoked %d times for bad input", f.store.count())
	}
}

func TestStoreErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"row error", errors.New("constraint failed: FOREIGN KEY"), http.StatusInternalServerError, "constraint failed: FOREIGN KEY"},
		{"not found", store.ErrNotFound, http.StatusInternalServerError, "record not found"},
		{"unknown column", store.ErrUnknownColumn, http.StatusBadRequest, "unknown column"},
		{"invalid value", store.ErrInvalidValue, http.StatusBadRequest, "invalid value"},
		{"deadline", context.DeadlineExceeded, http.StatusInternalServerError, msgDatastoreTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tok := f.login(t)
			f.store.err = tt.err
			resp := f.d.Dispatch(context.Background(), "10.0.0.11", Request{Action: "getFindings", SessionToken: tok})
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestStoreTimeout(t *testing.T) {
	tests := []struct {
		name   string
		cutErr error
	}{
		{"deadline error", nil},
		{"driver interrupt error", errors.New("interrupted (9)")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tok := f.login(t)
			f.store.block = true
			f.store.cutErr = tt.cutErr
			f.d.StoreTimeout = 20 * time.Millisecond

			resp := f.d.Dispatch(context.Background(), "10.0.0.12", Request{Action: "getAuditRuns", SessionToken: tok})
			if resp.Status != http.StatusInternalServerError || resp.Error != msgDatastoreTimeout {
				t.Errorf("resp = %+v, want 500 datastore timeout", resp)
			}
		})
	}
}

func TestEndToEndWithSQLite(t *testing.T) {
	d, err := db.OpenAndMigrate(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenAndMigrate: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	f := newFixture(t)
	f.d.Store = store.New(d, nil, nil)
	tok := f.login(t)
	ctx := context.Background()

	call := func(action, id, data string) Response {
		t.Helper()
		req := Request{Action: action, SessionToken: tok, ID: id}
		if data != "" {
			req.Data = json.RawMessage(data)
		}
		return f.d.Dispatch(ctx, "10.0.0.13", req)
	}

	created := call("createAuditRun", "", `{"site_url":"https://example.com","overall_risk":"Medium"}`)
	if created.Status != http.StatusOK {
		t.Fatalf("createAuditRun: %d %s", created.Status, created.Error)
	}
	runID := created.Data.(models.Record).ID()

	if resp := call("createFinding", "", `{"audit_run_id":"`+runID+`","title":"No consent banner","severity":"Critical"}`); resp.Status != http.StatusOK {
		t.Fatalf("createFinding: %d %s", resp.Status, resp.Error)
	}
	if resp := call("createFinding", "", `{"audit_run_id":"missing","title":"Orphan"}`); resp.Status != http.StatusInternalServerError {
		t.Errorf("orphan finding status = %d, want 500", resp.Status)
	}
	if resp := call("createFinding", "", `{"audit_run_id":"`+runID+`","nope":1}`); resp.Status != http.StatusBadRequest {
		t.Errorf("unknown column status = %d, want 400", resp.Status)
	}

	full := call("getFullAuditData", runID, "")
	if full.Status != http.StatusOK {
		t.Fatalf("getFullAuditData: %d %s", full.Status, full.Error)
	}
	if n := len(full.Data.(*models.FullAuditData).Findings); n != 1 {
		t.Errorf("findings = %d, want 1", n)
	}

	stats := call("getDashboardStats", "", "")
	if stats.Status != http.StatusOK {
		t.Fatalf("getDashboardStats: %d %s", stats.Status, stats.Error)
	}
	if stats.Data.(*models.DashboardStats).LatestAudit.ID() != runID {
		t.Error("latest audit mismatch")
	}

	if resp := call("getAuditRun", "missing", ""); resp.Status != http.StatusInternalServerError || resp.Error != "record not found" {
		t.Errorf("missing run: %d %q", resp.Status, resp.Error)
	}
}
