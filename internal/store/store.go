// Package store is a thin adapter between dispatched actions and the audit
// tables. Every operation is a single round trip; the aggregates fan out
// independent reads concurrently.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/auditdesk/internal/db"
	"github.com/rsclarke/auditdesk/internal/logging"
	"github.com/rsclarke/auditdesk/internal/models"
	"github.com/rsclarke/auditdesk/internal/telemetry"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrUnknownKind   = errors.New("unknown entity")
	ErrUnknownColumn = errors.New("unknown column")
	ErrInvalidValue  = errors.New("invalid value")
	ErrNoParent      = errors.New("entity is not scoped to an audit run")
)

// Store reads and writes audit entities.
type Store struct {
	db      *db.DB
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// New returns a Store over d. metrics may be nil.
func New(d *db.DB, logger *zap.Logger, metrics *telemetry.Metrics) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: d, logger: logger, metrics: metrics, now: time.Now}
}

// SetClock replaces the time source used for created_at and updated_at.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func lookupTable(kind models.Kind) (*table, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return tables[kind], nil
}

func (s *Store) observe(ctx context.Context, kind models.Kind, op string, start time.Time, err error) {
	s.metrics.RecordStoreOp(ctx, string(kind), op, time.Since(start), err)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Debug("store operation failed",
			logging.Entity(string(kind)),
			zap.String("operation", op),
			zap.Error(err))
	}
}

// List returns every row of kind, newest first.
func (s *Store) List(ctx context.Context, kind models.Kind) (recs []models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "list", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC", t.selectList(), t.kind)
	return s.queryRecords(ctx, t, q)
}

// ListByAuditRun returns the rows of kind that belong to one audit run.
// Findings are ordered by severity, everything else by creation time.
func (s *Store) ListByAuditRun(ctx context.Context, kind models.Kind, auditRunID string) (recs []models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "list_by_audit_run", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}
	if !t.hasParent() {
		return nil, fmt.Errorf("%w: %s", ErrNoParent, kind)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s",
		t.selectList(), t.kind, auditRunColumn, t.childOrder)
	return s.queryRecords(ctx, t, q, auditRunID)
}

// Get returns one row by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (rec models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "get", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", t.selectList(), t.kind)
	rec, err = scanRecord(s.db.QueryRowContext(ctx, s.db.Rebind(q), id), t.allColumns())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Create inserts a row and returns it as stored. A string id in the input
// is used as-is; otherwise a UUID is assigned.
func (s *Store) Create(ctx context.Context, kind models.Kind, in models.Record) (rec models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "create", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if v, ok := in["id"]; ok && v != nil {
		str, ok := v.(string)
		if !ok || str == "" {
			return nil, fmt.Errorf("%w: id must be a non-empty string", ErrInvalidValue)
		}
		id = str
	}

	names, args, err := s.bindColumns(t, in)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	names = append([]string{"id"}, names...)
	names = append(names, "created_at", "updated_at")
	args = append([]any{id}, args...)
	args = append(args, now, now)

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.kind, strings.Join(names, ", "), placeholders(len(names)), t.selectList())
	return scanRecord(s.db.QueryRowContext(ctx, s.db.Rebind(q), args...), t.allColumns())
}

// Update sets the given columns on one row and returns the updated row.
func (s *Store) Update(ctx context.Context, kind models.Kind, id string, patch models.Record) (rec models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "update", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return nil, err
	}

	names, args, err := s.bindColumns(t, patch)
	if err != nil {
		return nil, err
	}
	sets := make([]string, 0, len(names)+1)
	for _, n := range names {
		sets = append(sets, n+" = ?")
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, s.now().UnixMilli(), id)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? RETURNING %s",
		t.kind, strings.Join(sets, ", "), t.selectList())
	rec, err = scanRecord(s.db.QueryRowContext(ctx, s.db.Rebind(q), args...), t.allColumns())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Delete removes one row. Deleting a missing row is not an error.
// Deleting an audit run cascades to its children.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "delete", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE id = ?", t.kind)
	_, err = s.db.ExecContext(ctx, s.db.Rebind(q), id)
	return err
}

// Count returns the number of rows of kind.
func (s *Store) Count(ctx context.Context, kind models.Kind) (n int, err error) {
	defer func(start time.Time) { s.observe(ctx, kind, "count", start, err) }(time.Now())

	t, err := lookupTable(kind)
	if err != nil {
		return 0, err
	}
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", t.kind)).Scan(&n)
	return n, err
}

// LatestAuditRun returns the most recently created audit run, or nil.
func (s *Store) LatestAuditRun(ctx context.Context) (rec models.Record, err error) {
	defer func(start time.Time) { s.observe(ctx, models.AuditRuns, "latest", start, err) }(time.Now())

	t := tables[models.AuditRuns]
	q := fmt.Sprintf("SELECT %s FROM %s ORDER BY created_at DESC LIMIT 1", t.selectList(), t.kind)
	rec, err = scanRecord(s.db.QueryRowContext(ctx, q), t.allColumns())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// bindColumns validates input keys against t and returns column names and
// encoded values in a stable order.
func (s *Store) bindColumns(t *table, in models.Record) ([]string, []any, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	names := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		if readOnly(k) {
			continue
		}
		c, ok := t.lookup(k)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrUnknownColumn, k)
		}
		v, err := s.encode(c, in[k])
		if err != nil {
			return nil, nil, err
		}
		names = append(names, c.name)
		args = append(args, v)
	}
	return names, args, nil
}

func (s *Store) encode(c column, v any) (any, error) {
	switch c.kind {
	case textColumn:
		switch x := v.(type) {
		case nil:
			return nil, nil
		case string:
			return x, nil
		}
	case boolColumn:
		b, ok := v.(bool)
		if !ok {
			break
		}
		if s.db.Dialect == db.SQLite {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return b, nil
	case jsonColumn:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, c.name, err)
		}
		return string(data), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidValue, c.name)
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) queryRecords(ctx context.Context, t *table, query string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols := t.allColumns()
	out := make([]models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(sc scanner, cols []column) (models.Record, error) {
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := sc.Scan(ptrs...); err != nil {
		return nil, err
	}

	rec := make(models.Record, len(cols))
	for i, c := range cols {
		v, err := decode(c, vals[i])
		if err != nil {
			return nil, err
		}
		rec[c.name] = v
	}
	return rec, nil
}

func decode(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.kind {
	case textColumn:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case boolColumn:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			return x != 0, nil
		}
	case jsonColumn:
		var raw []byte
		switch x := v.(type) {
		case string:
			raw = []byte(x)
		case []byte:
			raw = append([]byte(nil), x...)
		default:
			return v, nil
		}
		if !json.Valid(raw) {
			return string(raw), nil
		}
		return json.RawMessage(raw), nil
	case timeColumn:
		if ms, ok := v.(int64); ok {
			return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano), nil
		}
	}
	return nil, fmt.Errorf("column %s: unexpected %T", c.name, v)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
