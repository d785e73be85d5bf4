package db

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

const (
	sqliteMigrationsDir   = "migrations/sqlite"
	postgresMigrationsDir = "migrations/postgres"
	downSuffix            = ".down.sql"
)

// ErrNoChange is returned by Migrate(Down) when nothing is applied.
var ErrNoChange = errors.New("no change")

// Migrate moves the schema. Up applies every pending migration; Down rolls
// back the most recent one.
func (d *DB) Migrate(dir Direction) error {
	if dir != Up && dir != Down {
		return fmt.Errorf("direction must be up or down, got %q", dir)
	}
	if d.Dialect == Postgres {
		return d.migratePostgres(dir)
	}
	if dir == Down {
		return d.rollbackSQLite()
	}
	return d.applySQLite()
}

func (d *DB) migratePostgres(dir Direction) error {
	src, err := iofs.New(migrationsFS, postgresMigrationsDir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, d.dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	switch dir {
	case Up:
		err = m.Up()
	case Down:
		err = m.Steps(-1)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		if dir == Down {
			return ErrNoChange
		}
		return nil
	}
	return err
}

func (d *DB) ensureMigrationsTable() error {
	_, err := d.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func (d *DB) applySQLite() error {
	if err := d.ensureMigrationsTable(); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir(sqliteMigrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".sql") && !strings.HasSuffix(name, downSuffix) {
			migrations = append(migrations, name)
		}
	}
	sort.Strings(migrations)

	for _, name := range migrations {
		version, err := parseVersion(name)
		if err != nil {
			return fmt.Errorf("parse version from %s: %w", name, err)
		}

		var count int
		err = d.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(path.Join(sqliteMigrationsDir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := d.Exec(string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}

		if _, err := d.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().Unix()); err != nil {
			return fmt.Errorf("record migration %d: %w", version, err)
		}
	}

	return nil
}

func (d *DB) rollbackSQLite() error {
	if err := d.ensureMigrationsTable(); err != nil {
		return err
	}

	var version int
	err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}
	if version == 0 {
		return ErrNoChange
	}

	entries, err := migrationsFS.ReadDir(sqliteMigrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var downFile string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), downSuffix) {
			continue
		}
		if v, err := parseVersion(e.Name()); err == nil && v == version {
			downFile = e.Name()
			break
		}
	}
	if downFile == "" {
		return fmt.Errorf("no down migration for version %d", version)
	}

	content, err := migrationsFS.ReadFile(path.Join(sqliteMigrationsDir, downFile))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", downFile, err)
	}
	if _, err := d.Exec(string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", downFile, err)
	}
	if _, err := d.Exec("DELETE FROM schema_migrations WHERE version = ?", version); err != nil {
		return fmt.Errorf("unrecord migration %d: %w", version, err)
	}
	return nil
}

// Version returns the highest applied migration, or 0.
func (d *DB) Version() (int, error) {
	if d.Dialect == SQLite {
		if err := d.ensureMigrationsTable(); err != nil {
			return 0, err
		}
	}
	var v int
	err := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func parseVersion(filename string) (int, error) {
	parts := strings.SplitN(filename, "_", 2)
	if len(parts) == 0 {
		return 0, fmt.Errorf("invalid migration filename: %s", filename)
	}
	return strconv.Atoi(parts[0])
}
