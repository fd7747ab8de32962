// Package session keeps a broker session alive: it runs the establish
// sequence, waits for the session to drop, and starts over after a fixed
// delay whenever an attempt fails.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State of the supervised session.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Receiving
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Receiving:
		return "receiving"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EstablishFunc runs the full connect (and subscribe) sequence. On success it
// returns a channel that yields once the session is lost.
type EstablishFunc func(ctx context.Context) (lost <-chan error, err error)

const DefaultRetryInterval = 3 * time.Second

type Options struct {
	// RetryInterval is the fixed delay after a failed attempt.
	RetryInterval time.Duration
	// BackOff overrides the constant policy built from RetryInterval.
	BackOff backoff.BackOff
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(from, to State)
}

type Supervisor struct {
	name    string
	backoff backoff.BackOff
	logger  *slog.Logger
	notify  func(from, to State)

	mu    sync.RWMutex
	state State

	// wait sleeps between attempts; replaced in tests.
	wait func(ctx context.Context, d time.Duration) error
}

func New(name string, opts Options, logger *slog.Logger) *Supervisor {
	b := opts.BackOff
	if b == nil {
		interval := opts.RetryInterval
		if interval <= 0 {
			interval = DefaultRetryInterval
		}
		b = backoff.NewConstantBackOff(interval)
	}
	return &Supervisor{
		name:    name,
		backoff: b,
		logger:  logger.With("session", name),
		notify:  opts.OnStateChange,
		wait:    sleep,
	}
}

// Run keeps a session established until ctx is done. Failed attempts are
// retried without limit, one backoff interval apart; a lost session is
// re-established right away. Run returns nil once ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context, establish EstablishFunc) error {
	defer s.setState(Disconnected)

	s.backoff.Reset()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		s.setState(Connecting)
		lost, err := establish(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			next := s.backoff.NextBackOff()
			if next == backoff.Stop {
				return fmt.Errorf("session %s: giving up after %d attempts: %w", s.name, attempt, err)
			}
			s.setState(Disconnected)
			s.logger.Warn("session establish failed",
				"attempt", attempt,
				"retry_in", next,
				"error", err,
			)
			if err := s.wait(ctx, next); err != nil {
				return nil
			}
			continue
		}

		s.logger.Info("session established", "attempt", attempt)
		s.backoff.Reset()
		attempt = 0
		s.setState(Subscribed)

		select {
		case <-ctx.Done():
			return nil
		case err := <-lost:
			s.setState(Disconnected)
			s.logger.Warn("session lost, reconnecting", "error", err)
		}
	}
}

// MarkReceiving records that traffic is flowing on the current session.
func (s *Supervisor) MarkReceiving() {
	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return
	}
	s.state = Receiving
	s.mu.Unlock()
	s.changed(Subscribed, Receiving)
}

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) setState(to State) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from != to {
		s.changed(from, to)
	}
}

func (s *Supervisor) changed(from, to State) {
	s.logger.Debug("session state", "from", from.String(), "to", to.String())
	if s.notify != nil {
		s.notify(from, to)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
