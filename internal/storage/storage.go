// Package storage keeps one limiter per key, built on first use.
package storage

import (
	"errors"

	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
)

// ErrClosed is returned by Get after the store has been closed.
var ErrClosed = errors.New("storage: store is closed")

// Factory builds the limiter for a key seen for the first time.
type Factory func(key string) (limiter.Limiter, error)

// Store resolves keys to limiters. Implementations must be safe for
// concurrent use and must return the same limiter for a key until it is
// deleted or evicted.
type Store interface {
	// Get returns the limiter for key, creating it if needed.
	Get(key string) (limiter.Limiter, error)

	// Delete drops the limiter for key, closing it if it holds resources.
	Delete(key string) error

	// Close releases every limiter and stops background work.
	Close() error
}

// ConfigFactory returns a Factory that builds every key's limiter from cfg.
func ConfigFactory(cfg limiter.Config, opts ...limiter.Option) Factory {
	return func(string) (limiter.Limiter, error) {
		return limiter.New(cfg, opts...)
	}
}
