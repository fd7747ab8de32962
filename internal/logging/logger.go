package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

type Options struct {
	AppName string
	Version string
	AppEnv  string
	Level   slog.Level
}

// New returns a colored tint logger for dev builds and a JSON logger
// otherwise. Both write to stdout.
func New(opts Options) *slog.Logger {
	return newLogger(os.Stdout, opts)
}

func newLogger(w io.Writer, opts Options) *slog.Logger {
	if opts.Version == "dev" {
		h := tint.NewHandler(w, &tint.Options{
			Level:      opts.Level,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", opts.AppName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: opts.Level,
	})
	return slog.New(h).With(
		"app", opts.AppName,
		"version", opts.Version,
		"env", opts.AppEnv,
	)
}
