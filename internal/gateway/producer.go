// Package gateway runs the producer side: sample the board on a fixed
// period and publish each record.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"enviro-telemetry/internal/assembler"
	"enviro-telemetry/internal/publisher"
	"enviro-telemetry/internal/telemetry"
)

// Sampler produces one record per call.
type Sampler interface {
	Sample(ctx context.Context) (assembler.Sample, error)
}

// Sender delivers one record.
type Sender interface {
	Publish(ctx context.Context, rec telemetry.Record) error
}

// TickResult is what one tick did.
type TickResult int

const (
	Published TickResult = iota
	Skipped
	Dropped
	SendFailed
)

func (r TickResult) String() string {
	switch r {
	case Published:
		return "published"
	case Skipped:
		return "skipped"
	case Dropped:
		return "dropped"
	case SendFailed:
		return "send_failed"
	default:
		return "unknown"
	}
}

type Producer struct {
	sampler  Sampler
	sender   Sender
	interval time.Duration
	logger   *slog.Logger

	last time.Time
}

func NewProducer(s Sampler, snd Sender, interval time.Duration, logger *slog.Logger) *Producer {
	return &Producer{
		sampler:  s,
		sender:   snd,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks every interval until ctx is done. Ticks run one after another; a
// tick that outlasts the interval delays the next one and missed ticks are
// dropped.
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("sampling started", "interval", p.interval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("sampling stopped")
			return nil
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick samples once and publishes the result.
func (p *Producer) Tick(ctx context.Context) TickResult {
	sample, err := p.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Skipped
		}
		var se *assembler.SensorError
		if errors.As(err, &se) {
			p.logger.Warn("sensor unavailable, tick skipped", "source", se.Source, "error", se.Err)
		} else {
			p.logger.Warn("sampling failed, tick skipped", "error", err)
		}
		return Skipped
	}

	rec := p.clamp(sample.Record)
	p.logger.Info("telemetry", "record", rec, "degraded", sample.Degraded != nil)

	if err := p.sender.Publish(ctx, rec); err != nil {
		if errors.Is(err, publisher.ErrNotConnected) {
			p.logger.Warn("broker not connected, record dropped", "timestamp", rec.Timestamp)
			return Dropped
		}
		p.logger.Error("failed to publish telemetry", "timestamp", rec.Timestamp, "error", err)
		return SendFailed
	}
	return Published
}

// clamp keeps timestamps non-decreasing across a backwards clock step.
func (p *Producer) clamp(rec telemetry.Record) telemetry.Record {
	if !p.last.IsZero() && rec.Timestamp.Before(p.last) {
		p.logger.Warn("clock stepped backwards, reusing previous timestamp",
			"reading", rec.Timestamp,
			"previous", p.last,
		)
		rec.Timestamp = p.last
	}
	p.last = rec.Timestamp
	return rec
}
