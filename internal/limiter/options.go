package limiter

import (
	"log/slog"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Second

// Option customises a limiter at construction.
type Option func(*options)

type options struct {
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
}

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithInterval sets the window, refill or leak interval. It has no effect on
// SlidingWindowCount, whose interval is a required argument.
func WithInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithLogger sets the logger used by background work. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) (options, error) {
	o := options{
		clock:    clock.NewRealClock(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		return o, invalidf("clock is required")
	}
	if o.interval <= 0 {
		return o, invalidf("interval must be positive, got %s", o.interval)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}
