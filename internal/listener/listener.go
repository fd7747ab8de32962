// Package listener consumes telemetry from the broker, validates each message
// and persists the ones that pass.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"enviro-telemetry/internal/ingest"
	"enviro-telemetry/internal/mqtt"
	"enviro-telemetry/internal/session"
	"enviro-telemetry/internal/store"
	"enviro-telemetry/internal/telemetry"
)

// Transport is the slice of the MQTT client the listener drives.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.MessageHandler) error
	Lost() <-chan error
	IsConnected() bool
	CloseSession()
	Disconnect()
}

// Store persists validated records.
type Store interface {
	Persist(ctx context.Context, rec telemetry.Record) (store.StoredID, error)
}

// Outcome is what happened to one inbound message.
type Outcome int

const (
	Stored Outcome = iota
	Rejected
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Stored:
		return "stored"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Options struct {
	Topic string
	QoS   byte
}

type Listener struct {
	transport  Transport
	supervisor *session.Supervisor
	validator  *ingest.Validator
	store      Store
	opts       Options
	logger     *slog.Logger

	// paho dispatches from its own goroutines; one message at a time.
	mu sync.Mutex
}

func New(t Transport, sv *session.Supervisor, st Store, opts Options, logger *slog.Logger) *Listener {
	return &Listener{
		transport:  t,
		supervisor: sv,
		validator:  ingest.NewValidator(),
		store:      st,
		opts:       opts,
		logger:     logger,
	}
}

// Run keeps a subscribed session up until ctx is done, then disconnects.
func (l *Listener) Run(ctx context.Context) error {
	defer l.transport.Disconnect()
	return l.supervisor.Run(ctx, l.establish)
}

// establish connects and subscribes. The session is clean, so the
// subscription is renewed on every reconnect.
func (l *Listener) establish(ctx context.Context) (<-chan error, error) {
	if err := l.transport.Connect(ctx); err != nil {
		return nil, err
	}
	handler := func(topic string, payload []byte) {
		l.supervisor.MarkReceiving()
		l.Handle(ctx, payload)
	}
	if err := l.transport.Subscribe(ctx, l.opts.Topic, l.opts.QoS, handler); err != nil {
		l.transport.CloseSession()
		return nil, err
	}
	l.logger.Info("listening for telemetry", "topic", l.opts.Topic, "qos", l.opts.QoS)
	return l.transport.Lost(), nil
}

// Handle validates and persists one payload. Rejections and persistence
// failures are logged and never retried.
func (l *Listener) Handle(ctx context.Context, payload []byte) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.validator.Validate(payload)
	if err != nil {
		var rej *ingest.Rejection
		if errors.As(err, &rej) {
			l.logger.Warn("telemetry rejected",
				"reason", string(rej.Reason),
				"field", rej.Field,
				"error", err,
				"size", len(payload),
			)
		} else {
			l.logger.Warn("telemetry rejected", "error", err, "size", len(payload))
		}
		return Rejected
	}

	id, err := l.store.Persist(ctx, rec)
	if err != nil {
		l.logger.Error("failed to store telemetry",
			"timestamp", rec.Timestamp,
			"error", err,
		)
		return Failed
	}

	l.logger.Info("telemetry stored",
		"id", int64(id),
		"timestamp", rec.Timestamp,
		"particulates", rec.HasParticulates(),
	)
	return Stored
}
