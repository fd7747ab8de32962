// Package publisher delivers telemetry records to the broker over one
// long-lived, supervised connection.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"enviro-telemetry/internal/mqtt"
	"enviro-telemetry/internal/session"
	"enviro-telemetry/internal/telemetry"
)

// ErrNotConnected means the record was dropped because no session is up.
var ErrNotConnected = errors.New("publisher not connected")

// Transport is the slice of the MQTT client the publisher drives.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Lost() <-chan error
	IsConnected() bool
	Disconnect()
}

type Options struct {
	Topic string
	QoS   byte
}

type Publisher struct {
	transport  Transport
	supervisor *session.Supervisor
	opts       Options
	logger     *slog.Logger
}

func New(t Transport, sv *session.Supervisor, opts Options, logger *slog.Logger) *Publisher {
	return &Publisher{
		transport:  t,
		supervisor: sv,
		opts:       opts,
		logger:     logger,
	}
}

// Run keeps the broker connection up until ctx is done, then disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	defer p.transport.Disconnect()
	return p.supervisor.Run(ctx, p.establish)
}

func (p *Publisher) establish(ctx context.Context) (<-chan error, error) {
	if err := p.transport.Connect(ctx); err != nil {
		return nil, err
	}
	return p.transport.Lost(), nil
}

// Publish encodes rec and sends it once. Nothing is queued: without a live
// session the record is dropped and ErrNotConnected is returned.
func (p *Publisher) Publish(ctx context.Context, rec telemetry.Record) error {
	if !p.transport.IsConnected() {
		return ErrNotConnected
	}

	payload, err := telemetry.Encode(rec)
	if err != nil {
		return err
	}

	if err := p.transport.Publish(ctx, p.opts.Topic, p.opts.QoS, payload); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("publish telemetry: %w", err)
	}

	p.logger.Debug("published telemetry",
		"topic", p.opts.Topic,
		"timestamp", rec.Timestamp,
		"particulates", rec.HasParticulates(),
	)
	return nil
}

// Connected reports whether a session is currently up.
func (p *Publisher) Connected() bool {
	return p.transport.IsConnected()
}
