package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
)

// MemoryStore is an in-process Store backed by a map.
//
// With an idle TTL set, a background loop driven by the store's clock
// evicts limiters that have not been fetched for that long. A leaky bucket
// with callers still queued is never evicted.
type MemoryStore struct {
	factory         Factory
	clock           clock.Clock
	idleTTL         time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger

	mu     sync.Mutex
	items  map[string]*memItem
	closed bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type memItem struct {
	lim      limiter.Limiter
	lastSeen time.Time
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for idle tracking and the cleanup loop.
func WithClock(c clock.Clock) MemoryOption {
	return func(s *MemoryStore) { s.clock = c }
}

// WithIdleTTL enables eviction of limiters unused for ttl, checked every
// interval.
func WithIdleTTL(ttl, interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.idleTTL = ttl
		s.cleanupInterval = interval
	}
}

// WithLogger sets the logger for eviction and close events.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates a store that builds limiters with factory.
func NewMemoryStore(factory Factory, opts ...MemoryOption) (*MemoryStore, error) {
	if factory == nil {
		return nil, fmt.Errorf("storage: factory is required")
	}
	s := &MemoryStore{
		factory: factory,
		clock:   clock.NewRealClock(),
		logger:  slog.Default(),
		items:   make(map[string]*memItem),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.idleTTL < 0 {
		return nil, fmt.Errorf("storage: idle ttl must not be negative, got %s", s.idleTTL)
	}
	if s.idleTTL > 0 && s.cleanupInterval <= 0 {
		return nil, fmt.Errorf("storage: cleanup interval must be positive, got %s", s.cleanupInterval)
	}

	if s.idleTTL > 0 {
		go s.cleanupLoop()
	} else {
		close(s.doneCh)
	}
	return s, nil
}

// Get returns the limiter for key, building it on first use.
func (s *MemoryStore) Get(key string) (limiter.Limiter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	now := s.clock.Now()
	if item, ok := s.items[key]; ok {
		item.lastSeen = now
		return item.lim, nil
	}

	lim, err := s.factory(key)
	if err != nil {
		return nil, fmt.Errorf("building limiter for %q: %w", key, err)
	}
	s.items[key] = &memItem{lim: lim, lastSeen: now}
	return lim, nil
}

// Delete drops the limiter for key. Missing keys are not an error.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	item, ok := s.items[key]
	delete(s.items, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return closeLimiter(item.lim)
}

// Len returns the number of live limiters.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns the keys with a live limiter, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Cleanup evicts limiters idle for at least the idle TTL and returns how
// many were removed. It is a no-op without a TTL.
func (s *MemoryStore) Cleanup() int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	now := s.clock.Now()
	var evicted []limiter.Limiter
	for key, item := range s.items {
		if now.Sub(item.lastSeen) < s.idleTTL || busy(item.lim) {
			continue
		}
		delete(s.items, key)
		evicted = append(evicted, item.lim)
	}
	s.mu.Unlock()

	for _, lim := range evicted {
		if err := closeLimiter(lim); err != nil {
			s.logger.Warn("closing evicted limiter", "error", err)
		}
	}
	if len(evicted) > 0 {
		s.logger.Debug("evicted idle limiters", "count", len(evicted))
	}
	return len(evicted)
}

func (s *MemoryStore) cleanupLoop() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.clock.After(s.cleanupInterval):
			s.Cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the cleanup loop and closes every limiter. Later Get calls
// fail with ErrClosed.
func (s *MemoryStore) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh

		s.mu.Lock()
		s.closed = true
		items := s.items
		s.items = make(map[string]*memItem)
		s.mu.Unlock()

		for key, item := range items {
			if err := closeLimiter(item.lim); err != nil {
				errs = append(errs, fmt.Errorf("closing limiter for %q: %w", key, err))
			}
		}
	})
	return errors.Join(errs...)
}

// unwrap strips decorators such as metrics instrumentation.
func unwrap(lim limiter.Limiter) limiter.Limiter {
	for {
		w, ok := lim.(interface{ Unwrap() limiter.Limiter })
		if !ok {
			return lim
		}
		lim = w.Unwrap()
	}
}

func closeLimiter(lim limiter.Limiter) error {
	if c, ok := unwrap(lim).(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// busy reports whether lim still has callers waiting on it.
func busy(lim limiter.Limiter) bool {
	l, ok := unwrap(lim).(interface{ Level() uint64 })
	return ok && l.Level() > 0
}
