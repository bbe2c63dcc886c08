// Package limiter exposes the ratekit admission algorithms for use as a
// library.
package limiter

import (
	"time"

	internallimiter "github.com/SmitUplenchwar2687/ratekit/internal/limiter"
)

// Algorithm identifies an admission algorithm.
type Algorithm = internallimiter.Algorithm

const (
	AlgorithmFixedWindow        = internallimiter.AlgorithmFixedWindow
	AlgorithmTokenBucket        = internallimiter.AlgorithmTokenBucket
	AlgorithmSlidingWindowLog   = internallimiter.AlgorithmSlidingWindowLog
	AlgorithmSlidingWindowCount = internallimiter.AlgorithmSlidingWindowCount
	AlgorithmLeakyBucket        = internallimiter.AlgorithmLeakyBucket
)

var (
	ErrInvalidConfig = internallimiter.ErrInvalidConfig
	ErrPoisoned      = internallimiter.ErrPoisoned
	ErrTimeOverflow  = internallimiter.ErrTimeOverflow
	ErrSingleUnit    = internallimiter.ErrSingleUnit
)

// Limiter admits or rejects a single unit.
type Limiter = internallimiter.Limiter

// NLimiter admits several units at once, all or nothing.
type NLimiter = internallimiter.NLimiter

// Config describes a limiter of any algorithm.
type Config = internallimiter.Config

// Option configures a limiter constructor.
type Option = internallimiter.Option

type (
	FixedWindow        = internallimiter.FixedWindow
	TokenBucket        = internallimiter.TokenBucket
	SlidingWindowLog   = internallimiter.SlidingWindowLog
	SlidingWindowCount = internallimiter.SlidingWindowCount
	LeakyBucket        = internallimiter.LeakyBucket
)

var (
	WithClock    = internallimiter.WithClock
	WithInterval = internallimiter.WithInterval
	WithLogger   = internallimiter.WithLogger
)

// New builds the limiter cfg describes.
func New(cfg Config, opts ...Option) (Limiter, error) {
	return internallimiter.New(cfg, opts...)
}

// AllowN asks l for n units; see NLimiter.
func AllowN(l Limiter, n uint64) (bool, error) {
	return internallimiter.AllowN(l, n)
}

func NewFixedWindow(size uint64, opts ...Option) (*FixedWindow, error) {
	return internallimiter.NewFixedWindow(size, opts...)
}

func NewTokenBucket(capacity, refillRate uint64, opts ...Option) (*TokenBucket, error) {
	return internallimiter.NewTokenBucket(capacity, refillRate, opts...)
}

func NewSlidingWindowLog(size uint64, opts ...Option) (*SlidingWindowLog, error) {
	return internallimiter.NewSlidingWindowLog(size, opts...)
}

func NewSlidingWindowCount(size uint64, interval time.Duration, buckets int, opts ...Option) (*SlidingWindowCount, error) {
	return internallimiter.NewSlidingWindowCount(size, interval, buckets, opts...)
}

// NewLeakyBucket creates a leaky bucket. Close it, or drop every reference
// to it, to stop its leak loop.
func NewLeakyBucket(leakRate, capacity uint64, opts ...Option) (*LeakyBucket, error) {
	return internallimiter.NewLeakyBucket(leakRate, capacity, opts...)
}
