package limiter

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// LeakyBucket implements a queueing leaky bucket.
//
// Allow reserves a slot and then blocks until a background leak loop lets it
// through. The loop releases at most leakRate waiters per leakInterval, in the
// order they were queued; budget left unused by an empty queue is dropped.
// When capacity slots are already reserved, Allow rejects immediately.
//
// The leak loop belongs to the limiter. It stops on Close, or once every
// handle to the limiter has been garbage collected.
type LeakyBucket struct {
	b *leakyBucket
}

type leakyBucket struct {
	capacity     uint64
	leakRate     uint64
	leakInterval time.Duration
	clock        clock.Clock
	logger       *slog.Logger

	g        guard
	level    uint64
	reserved uint64      // slots reserved over the bucket's life
	queue    []chan bool // FIFO of waiters; true releases, false means closed
	closed   bool

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewLeakyBucket creates a leaky bucket limiter and starts its leak loop.
//   - leakRate: waiters released per leak interval
//   - capacity: max waiters reserved at once
//   - opts: WithInterval (leak interval, default 1s), WithClock, WithLogger
func NewLeakyBucket(leakRate, capacity uint64, opts ...Option) (*LeakyBucket, error) {
	if leakRate == 0 {
		return nil, invalidf("leaky bucket leak rate must be positive")
	}
	if capacity == 0 {
		return nil, invalidf("leaky bucket capacity must be positive")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	b := &leakyBucket{
		capacity:     capacity,
		leakRate:     leakRate,
		leakInterval: o.interval,
		clock:        o.clock,
		logger:       o.logger,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	go b.leakLoop(o.clock.Now())

	lb := &LeakyBucket{b: b}
	runtime.AddCleanup(lb, func(b *leakyBucket) { b.close() }, b)
	return lb, nil
}

// Allow reserves a slot and blocks until the leak loop releases it. It
// returns false without blocking when the bucket is full or closed, and
// false if the bucket is closed while waiting.
func (lb *LeakyBucket) Allow() bool {
	ok := lb.b.allow()
	runtime.KeepAlive(lb)
	return ok
}

// Level returns the number of reserved slots not yet released.
func (lb *LeakyBucket) Level() uint64 {
	return lb.b.currentLevel()
}

// Size returns the bucket capacity.
func (lb *LeakyBucket) Size() uint64 {
	return lb.b.capacity
}

// Close stops the leak loop and fails every pending waiter. It is safe to
// call more than once.
func (lb *LeakyBucket) Close() error {
	lb.b.close()
	return nil
}

func (b *leakyBucket) allow() bool {
	ready, ok := b.reserve()
	if !ok {
		return false
	}

	released := <-ready
	b.release()
	return released
}

// reserve takes a slot and queues a one-shot waiter in the same critical
// section, so queue order matches reservation order.
func (b *leakyBucket) reserve() (<-chan bool, bool) {
	b.g.lock()
	defer b.g.unlock()

	if b.closed || b.level >= b.capacity {
		return nil, false
	}
	b.level++
	b.reserved++

	ready := make(chan bool, 1)
	b.queue = append(b.queue, ready)
	return ready, true
}

func (b *leakyBucket) release() {
	b.g.lock()
	defer b.g.unlock()

	if b.level > 0 {
		b.level--
	}
}

func (b *leakyBucket) currentLevel() uint64 {
	b.g.lock()
	defer b.g.unlock()
	return b.level
}

// leakLoop wakes every leakInterval and releases up to leakRate waiters.
func (b *leakyBucket) leakLoop(lastLeak time.Time) {
	defer close(b.doneCh)

	b.logger.Debug("leak loop started",
		"leak_rate", b.leakRate,
		"capacity", b.capacity,
		"interval", b.leakInterval)

	for {
		wait := b.leakInterval - b.clock.Since(lastLeak)
		if wait > 0 {
			select {
			case <-b.clock.After(wait):
			case <-b.stopCh:
				b.logger.Debug("leak loop stopped")
				return
			}
		}

		lastLeak = b.clock.Now()
		b.leak()
	}
}

// leak releases up to leakRate waiters from the head of the queue.
func (b *leakyBucket) leak() {
	b.g.lock()
	defer b.g.unlock()

	for i := uint64(0); i < b.leakRate && len(b.queue) > 0; i++ {
		ready := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		ready <- true
	}
}

func (b *leakyBucket) close() {
	b.closeOnce.Do(func() {
		b.shutdown()
		close(b.stopCh)
		<-b.doneCh
	})
}

// shutdown marks the bucket closed and fails every queued waiter.
func (b *leakyBucket) shutdown() {
	b.g.lock()
	defer b.g.unlock()

	b.closed = true
	for _, ready := range b.queue {
		ready <- false
	}
	b.queue = nil
}
