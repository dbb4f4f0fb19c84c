package optimistic

import (
	"errors"
	"log/slog"
	"time"

	"github.com/c0deZ3R0/go-optimistic-kit/conflict"
	"github.com/c0deZ3R0/go-optimistic-kit/notify"
)

// Option is a functional option for configuring an Engine via New.
type Option func(*settings) error

type settings struct {
	detector *conflict.Detector
	listener any
	notifier notify.Notifier
	busy     notify.BusySink
	logger   *slog.Logger
	metrics  MetricsCollector
	now      func() time.Time
	newID    func() string
}

// WithDetector shares d with other engines. Without it each engine gets a
// private detector.
func WithDetector(d *conflict.Detector) Option {
	return func(s *settings) error {
		if d == nil {
			return errors.New("detector must not be nil")
		}
		s.detector = d
		return nil
	}
}

// WithListener sets the lifecycle listener. The type parameters must match
// the engine's.
func WithListener[V, T any](l Listener[V, T]) Option {
	return func(s *settings) error {
		s.listener = l
		return nil
	}
}

// WithHooks is WithListener for a Hooks value, with type inference.
func WithHooks[V, T any](h Hooks[V, T]) Option {
	return WithListener[V, T](h)
}

// WithNotifier sets the notification sink.
func WithNotifier(n notify.Notifier) Option {
	return func(s *settings) error {
		s.notifier = n
		return nil
	}
}

// WithBusySink sets the sink toggled while remote calls are in flight.
func WithBusySink(b notify.BusySink) Option {
	return func(s *settings) error {
		s.busy = b
		return nil
	}
}

// WithLogger sets the logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the engine.
func WithMetrics(m MetricsCollector) Option {
	return func(s *settings) error {
		s.metrics = m
		return nil
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		s.now = now
		return nil
	}
}

// WithIDGenerator overrides update id generation. Generated ids must be
// unique for the lifetime of the engine.
func WithIDGenerator(gen func() string) Option {
	return func(s *settings) error {
		if gen == nil {
			return errors.New("id generator must not be nil")
		}
		s.newID = gen
		return nil
	}
}
