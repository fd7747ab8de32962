// Package httpapi serves the consumer's health and read endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"enviro-telemetry/internal/store"
)

// Pinger reports whether the database answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Reader reads back stored records.
type Reader interface {
	Latest(ctx context.Context, limit int) ([]store.StoredRecord, error)
	Range(ctx context.Context, from, to time.Time, limit int) ([]store.StoredRecord, error)
}

// Deps are the collaborators the handlers read from.
type Deps struct {
	DB     Pinger
	Reader Reader
	// Connected reports the broker session; nil means not tracked.
	Connected func() bool
}

type api struct {
	deps   Deps
	logger *slog.Logger
}

func NewMux(deps Deps, logger *slog.Logger) *http.ServeMux {
	a := &api{deps: deps, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/telemetry/latest", a.handleLatest)
	mux.HandleFunc("GET /api/telemetry/readings", a.handleReadings)
	return mux
}

func NewServer(addr string, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
