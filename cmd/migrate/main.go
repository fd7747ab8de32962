package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"enviro-telemetry/internal/config"
	"enviro-telemetry/internal/db"
	"enviro-telemetry/internal/logging"
	"enviro-telemetry/internal/migrate"
)

var version = "dev"
var appName = "enviro-migrate"

const usage = `usage: %s <command>
  migrate  apply pending schema migrations
  status   list pending migrations
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run returns the process exit code so deferred cleanup always happens.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintf(stderr, usage, args[0])
		return 1
	}
	cmd := args[1]
	if cmd != "migrate" && cmd != "status" {
		fmt.Fprintf(stderr, "unknown command: %s\n", cmd)
		return 1
	}

	if err := config.LoadEnvFile(); err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}
	cfg, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return 1
	}

	logger := logging.New(logging.Options{
		AppName: appName,
		Version: version,
		Level:   slog.LevelInfo,
	})

	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "db open: %v\n", err)
		return 1
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	switch cmd {
	case "migrate":
		if err := migrate.Run(ctx, conn, dialect, logger); err != nil {
			fmt.Fprintf(stderr, "migrate: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "migrations applied")
	case "status":
		pending, err := migrate.Pending(ctx, conn, dialect)
		if err != nil {
			fmt.Fprintf(stderr, "status: %v\n", err)
			return 1
		}
		if len(pending) == 0 {
			fmt.Fprintln(stdout, "schema up to date")
			return 0
		}
		for _, name := range pending {
			fmt.Fprintln(stdout, "pending", name)
		}
	}
	return 0
}
