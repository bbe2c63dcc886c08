// Package limiter implements five in-process admission algorithms:
// FixedWindow, TokenBucket, SlidingWindowLog, SlidingWindowCount and
// LeakyBucket.
//
// Every limiter pairs immutable configuration with accounting state guarded
// by a single mutex. The pointer returned by a constructor is the handle:
// copies of it observe the same limiter. Critical sections never block, so
// limiters can be shared freely across goroutines.
package limiter

import (
	"errors"
	"fmt"
	"time"
)

// Algorithm identifies an admission algorithm.
type Algorithm string

const (
	AlgorithmFixedWindow        Algorithm = "fixed_window"
	AlgorithmTokenBucket        Algorithm = "token_bucket"
	AlgorithmSlidingWindowLog   Algorithm = "sliding_window_log"
	AlgorithmSlidingWindowCount Algorithm = "sliding_window_count"
	AlgorithmLeakyBucket        Algorithm = "leaky_bucket"
)

// Algorithms lists every supported algorithm in a stable order.
var Algorithms = []Algorithm{
	AlgorithmFixedWindow,
	AlgorithmTokenBucket,
	AlgorithmSlidingWindowLog,
	AlgorithmSlidingWindowCount,
	AlgorithmLeakyBucket,
}

var (
	// ErrInvalidConfig is wrapped by every constructor error.
	ErrInvalidConfig = errors.New("limiter: invalid configuration")
	// ErrPoisoned is the panic value raised when a limiter is used after a
	// panic escaped one of its critical sections.
	ErrPoisoned = errors.New("limiter: state poisoned by an earlier panic")
	// ErrTimeOverflow is the panic value raised when advancing a window or
	// refill boundary would overflow time.Duration.
	ErrTimeOverflow = errors.New("limiter: time arithmetic overflow")
	// ErrSingleUnit is returned by AllowN for limiters that only admit one
	// unit per call.
	ErrSingleUnit = errors.New("limiter: admits one unit per call")
)

// Limiter admits or rejects a single unit.
type Limiter interface {
	// Allow reports whether one unit may proceed now, consuming it if so.
	Allow() bool
}

// NLimiter is a Limiter that can admit several units at once.
// AllowN is all-or-nothing: it consumes all n units or none.
type NLimiter interface {
	Limiter
	AllowN(n uint64) bool
}

// AllowN asks l for n units. A request for one unit works with any
// Limiter; other amounts need an NLimiter and fail with ErrSingleUnit
// otherwise.
func AllowN(l Limiter, n uint64) (bool, error) {
	if n == 1 {
		return l.Allow(), nil
	}
	nl, ok := l.(NLimiter)
	if !ok {
		return false, ErrSingleUnit
	}
	return nl.AllowN(n), nil
}

// Config describes a limiter independently of its algorithm.
type Config struct {
	Algorithm Algorithm     `json:"algorithm" yaml:"algorithm"`
	Size      uint64        `json:"size" yaml:"size"`         // window size or bucket capacity
	Rate      uint64        `json:"rate" yaml:"rate"`         // refill or leak rate per interval
	Interval  time.Duration `json:"interval" yaml:"interval"` // 0 means the default of 1s
	Buckets   int           `json:"buckets" yaml:"buckets"`   // sliding_window_count only
}

// Validate checks the config against the needs of its algorithm.
func (c Config) Validate() error {
	if c.Size == 0 {
		return invalidf("size must be positive")
	}
	if c.Interval < 0 {
		return invalidf("interval must be positive, got %s", c.Interval)
	}
	switch c.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindowLog:
	case AlgorithmTokenBucket, AlgorithmLeakyBucket:
		if c.Rate == 0 {
			return invalidf("rate must be positive for %s", c.Algorithm)
		}
	case AlgorithmSlidingWindowCount:
		if c.Interval == 0 {
			return invalidf("interval is required for %s", c.Algorithm)
		}
		if c.Buckets < 1 {
			return invalidf("buckets must be at least 1, got %d", c.Buckets)
		}
	default:
		return invalidf("unknown algorithm %q", c.Algorithm)
	}
	return nil
}

// New builds the limiter described by cfg. Options are applied after the
// config, except that cfg.Interval wins over WithInterval when set.
func New(cfg Config, opts ...Option) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval > 0 && cfg.Algorithm != AlgorithmSlidingWindowCount {
		opts = append(opts, WithInterval(cfg.Interval))
	}

	var (
		lim Limiter
		err error
	)
	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		lim, err = NewFixedWindow(cfg.Size, opts...)
	case AlgorithmTokenBucket:
		lim, err = NewTokenBucket(cfg.Size, cfg.Rate, opts...)
	case AlgorithmSlidingWindowLog:
		lim, err = NewSlidingWindowLog(cfg.Size, opts...)
	case AlgorithmSlidingWindowCount:
		lim, err = NewSlidingWindowCount(cfg.Size, cfg.Interval, cfg.Buckets, opts...)
	default:
		lim, err = NewLeakyBucket(cfg.Rate, cfg.Size, opts...)
	}
	if err != nil {
		return nil, err
	}
	return lim, nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
