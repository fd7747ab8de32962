package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type PostgresConfig struct {
	Server   string
	Port     int
	User     string
	Password string
	DB       string
	SSLMode  string
}

type DatabaseConfig struct {
	Driver string
	// DSN, when set, is passed to the driver as is.
	DSN             string
	SQLitePath      string
	Postgres        PostgresConfig
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// LogSQL wraps the sqlite connection with statement logging.
	LogSQL bool
}

type ServerConfig struct {
	AppEnv          string
	LogLevel        slog.Level
	HTTPAddr        string
	ShutdownTimeout time.Duration
	MQTT            MQTTConfig
	DB              DatabaseConfig
}

func LoadServer() (ServerConfig, error) {
	appEnv, level, err := loadAppEnv()
	if err != nil {
		return ServerConfig{}, err
	}

	mqttCfg, err := loadMQTT("enviro-server")
	if err != nil {
		return ServerConfig{}, err
	}

	shutdownTimeout, err := parsePositiveDuration("SHUTDOWN_TIMEOUT", "10s")
	if err != nil {
		return ServerConfig{}, err
	}

	dbCfg, err := LoadDatabase()
	if err != nil {
		return ServerConfig{}, err
	}
	dbCfg.LogSQL = level == slog.LevelDebug

	return ServerConfig{
		AppEnv:          appEnv,
		LogLevel:        level,
		HTTPAddr:        lookup("HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,
		MQTT:            mqttCfg,
		DB:              dbCfg,
	}, nil
}

// LoadDatabase reads the DB_*, SQLITE_PATH and POSTGRES_* variables.
func LoadDatabase() (DatabaseConfig, error) {
	driver := strings.ToLower(lookup("DB_DRIVER", DriverSQLite))
	switch driver {
	case DriverSQLite, "sqlite":
		driver = DriverSQLite
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, pgx)", driver)
	}

	maxOpenConns, err := parseInt("DB_MAX_OPEN_CONNS", "1")
	if err != nil {
		return DatabaseConfig{}, err
	}
	maxIdleConns, err := parseInt("DB_MAX_IDLE_CONNS", "1")
	if err != nil {
		return DatabaseConfig{}, err
	}
	connMaxLifetime, err := parseDuration("DB_CONN_MAX_LIFETIME", "0s")
	if err != nil {
		return DatabaseConfig{}, err
	}

	pgPort, err := parseInt("POSTGRES_PORT", "5432")
	if err != nil {
		return DatabaseConfig{}, err
	}

	cfg := DatabaseConfig{
		Driver:     driver,
		DSN:        strings.TrimSpace(os.Getenv("DB_DSN")),
		SQLitePath: lookup("SQLITE_PATH", "data/telemetry.db"),
		Postgres: PostgresConfig{
			Server:   lookup("POSTGRES_SERVER", "localhost"),
			Port:     pgPort,
			User:     lookup("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       lookup("POSTGRES_DB", "telemetry"),
			SSLMode:  lookup("POSTGRES_SSLMODE", "disable"),
		},
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}
	return cfg, nil
}
