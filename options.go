package chat

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

type config struct {
	logHandler slog.Handler
	msink      metrics.MetricSink
	tasks      *Supervisor
	observer   func(Transition)
}

// Option to pass to `NewBroker`
type Option func(*config) error

// WithLog specifies which `slog.Handler` to use.
func WithLog(handler slog.Handler) Option {
	return func(c *config) error {
		if handler == nil {
			return ErrInvalidCfg
		}
		c.logHandler = handler
		return nil
	}
}

// WithMetricSink sets the sink used to emit broker metrics. A nil sink
// disables metrics.
func WithMetricSink(ms metrics.MetricSink) Option {
	return func(c *config) error {
		if ms == nil {
			ms = &metrics.BlackholeSink{}
		}
		c.msink = ms
		return nil
	}
}

// WithSupervisor makes the Broker spawn its writers through s, so they show
// up next to the readers and services of the same process.
func WithSupervisor(s *Supervisor) Option {
	return func(c *config) error {
		if s == nil {
			return ErrInvalidCfg
		}
		c.tasks = s
		return nil
	}
}

// WithObserver registers fn to be told about every session transition.
// fn is called from the Broker and from writers and must not block.
func WithObserver(fn func(Transition)) Option {
	return func(c *config) error {
		c.observer = fn
		return nil
	}
}
