// Package migrate runs schema migrations using a versioned migration table.
// Each dialect has its own directory of files named with a 4-digit prefix for
// order: 0001_name.sql, 0002_other.sql.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"

	"enviro-telemetry/internal/db"
)

//go:embed sql/sqlite/*.sql sql/postgres/*.sql
var sqlFS embed.FS

const tableName = "schema_migrations"

var migrationFileRe = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migration struct {
	version string
	name    string
	body    string
}

func (m migration) filename() string {
	return m.version + "_" + m.name + ".sql"
}

// Run ensures the schema_migrations table exists, then applies every embedded
// migration for dialect that has not run yet, in version order. Each
// migration and its bookkeeping row commit together.
func Run(ctx context.Context, conn *sql.DB, dialect db.Dialect, logger *slog.Logger) error {
	if err := ensureMigrationsTable(ctx, conn, dialect); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}

	all, err := load(dialect)
	if err != nil {
		return err
	}

	var pending []migration
	for _, m := range all {
		if !applied[m.version] {
			pending = append(pending, m)
		}
	}

	for _, m := range pending {
		if err := apply(ctx, conn, dialect, m); err != nil {
			return fmt.Errorf("apply %s: %w", m.filename(), err)
		}
		logger.Info("migration applied", "version", m.version, "name", m.name, "dialect", string(dialect))
	}
	if len(pending) == 0 {
		logger.Debug("schema up to date", "dialect", string(dialect))
	}

	return nil
}

// Pending lists the migrations Run would apply, without applying them.
func Pending(ctx context.Context, conn *sql.DB, dialect db.Dialect) ([]string, error) {
	if err := ensureMigrationsTable(ctx, conn, dialect); err != nil {
		return nil, fmt.Errorf("ensure migrations table: %w", err)
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	all, err := load(dialect)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range all {
		if !applied[m.version] {
			out = append(out, m.filename())
		}
	}
	return out, nil
}

func dir(dialect db.Dialect) (string, error) {
	switch dialect {
	case db.SQLite:
		return "sql/sqlite", nil
	case db.Postgres:
		return "sql/postgres", nil
	default:
		return "", fmt.Errorf("no migrations for dialect %q", dialect)
	}
}

// load reads the embedded migrations for dialect, sorted by version.
func load(dialect db.Dialect) ([]migration, error) {
	d, err := dir(dialect)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(sqlFS, d)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(sqlFS, path.Join(d, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		out = append(out, migration{version: version, name: name, body: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func ensureMigrationsTable(ctx context.Context, conn *sql.DB, dialect db.Dialect) error {
	appliedAt := `TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))`
	if dialect == db.Postgres {
		appliedAt = `TIMESTAMPTZ NOT NULL DEFAULT now()`
	}
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at `+appliedAt+`
		)
	`)
	return err
}

func appliedVersions(ctx context.Context, conn *sql.DB) (map[string]bool, error) {
	rows, err := conn.QueryContext(ctx, "SELECT version FROM "+tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func parseMigrationFilename(filename string) (version, name string, ok bool) {
	m := migrationFileRe.FindStringSubmatch(filename)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

func apply(ctx context.Context, conn *sql.DB, dialect db.Dialect, m migration) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.body); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		dialect.Rebind("INSERT INTO "+tableName+" (version, name) VALUES (?, ?)"),
		m.version, m.name,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}
