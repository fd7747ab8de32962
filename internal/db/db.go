package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"enviro-telemetry/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database, applies the pool settings and
// pings it. With cfg.LogSQL the sqlite connection logs every statement.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, Dialect, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, "", err
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, "", err
	}

	var db *sql.DB
	if dialect == SQLite && cfg.LogSQL {
		connector, err := NewLoggingConnector(dsn, logger)
		if err != nil {
			return nil, "", err
		}
		db = sql.OpenDB(connector)
	} else {
		db, err = sql.Open(dialect.DriverName(), dsn)
		if err != nil {
			return nil, "", fmt.Errorf("db open: %w", err)
		}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns >= 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("db ping: %w", err)
	}

	return db, dialect, nil
}

func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.Driver == config.DriverPostgres {
		return postgresURL(cfg.Postgres), nil
	}
	return sqliteDSN(cfg.SQLitePath)
}

func sqliteDSN(path string) (string, error) {
	// Ensure directory exists for file-backed sqlite db
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		dir := filepath.Dir(path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	// - foreign_keys=on: enforce FK constraints
	// - busy_timeout: waits out "database is locked" while the migrate tool runs
	// - journal_mode=WAL: readers (HTTP API) do not block the listener's writes
	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// postgresURL assembles a connection URL from the POSTGRES_* parts.
func postgresURL(pg config.PostgresConfig) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(pg.Server, strconv.Itoa(pg.Port)),
		Path:   "/" + pg.DB,
	}
	if pg.Password != "" {
		u.User = url.UserPassword(pg.User, pg.Password)
	} else if pg.User != "" {
		u.User = url.User(pg.User)
	}
	if pg.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {pg.SSLMode}}.Encode()
	}
	return u.String()
}
