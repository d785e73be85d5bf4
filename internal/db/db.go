// Package db opens the audit database and manages its schema.
//
// Two dialects are supported. A DSN starting with postgres:// or
// postgresql:// selects Postgres through pgx; anything else is treated as
// a SQLite file path.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Dialect identifies the SQL flavour of an open database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// DB is a database handle that knows its dialect.
type DB struct {
	*sql.DB
	Dialect Dialect
	// Path is the SQLite file path. It is empty for Postgres.
	Path string
	dsn  string
}

// DetectDialect returns the dialect a DSN selects.
func DetectDialect(dsn string) Dialect {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open connects to dsn and verifies the connection. It does not migrate.
func Open(dsn string) (*DB, error) {
	switch DetectDialect(dsn) {
	case Postgres:
		return openPostgres(dsn)
	default:
		return openSQLite(dsn)
	}
}

func openPostgres(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: sqlDB, Dialect: Postgres, dsn: dsn}, nil
}

// openSQLite sets the pragmas through the DSN so every pooled connection
// gets them, not just the first.
func openSQLite(dsn string) (*DB, error) {
	path := strings.TrimPrefix(dsn, "sqlite://")
	path = strings.TrimPrefix(path, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return nil, fmt.Errorf("open database: empty sqlite path")
	}

	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	sqlDB, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: sqlDB, Dialect: SQLite, Path: path, dsn: dsn}, nil
}

// OpenAndMigrate opens dsn and applies all pending migrations.
func OpenAndMigrate(dsn string) (*DB, error) {
	d, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(Up); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return d, nil
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Ping checks the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	return d.PingContext(ctx)
}
