package limiter

import (
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// maxLogPrealloc bounds the initial log allocation for very large windows.
const maxLogPrealloc = 4096

// SlidingWindowLog implements the exact sliding window log algorithm.
//
// One entry is kept per admitted unit. While the log has room, admission is an
// append with no pruning. When it is full, entries older than now-interval
// are dropped and the check is retried once. Memory and prune cost are linear
// in size.
type SlidingWindowLog struct {
	size     uint64
	interval time.Duration
	clock    clock.Clock

	g guard
	// origin anchors log offsets; offsets are monotonic when the clock is.
	origin time.Time
	log    []time.Duration
}

// NewSlidingWindowLog creates a sliding window log limiter.
//   - size: max units admitted in any trailing interval
//   - opts: WithInterval (default 1s), WithClock
func NewSlidingWindowLog(size uint64, opts ...Option) (*SlidingWindowLog, error) {
	if size == 0 {
		return nil, invalidf("sliding window log size must be positive")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	return &SlidingWindowLog{
		size:     size,
		interval: o.interval,
		clock:    o.clock,
		origin:   o.clock.Now(),
		log:      make([]time.Duration, 0, min(size, maxLogPrealloc)),
	}, nil
}

// Allow admits one unit.
func (sw *SlidingWindowLog) Allow() bool {
	return sw.AllowN(1)
}

// AllowN admits n units if the trailing window has room for all of them.
func (sw *SlidingWindowLog) AllowN(n uint64) bool {
	sw.g.lock()
	defer sw.g.unlock()

	now := sw.clock.Now().Sub(sw.origin)
	if sw.tryAccept(n, now) {
		return true
	}

	sw.removeOlderThan(now - sw.interval)
	return sw.tryAccept(n, now)
}

// Len returns the number of entries currently held in the log.
func (sw *SlidingWindowLog) Len() int {
	sw.g.lock()
	defer sw.g.unlock()
	return len(sw.log)
}

// Size returns the max units admitted per trailing interval.
func (sw *SlidingWindowLog) Size() uint64 {
	return sw.size
}

func (sw *SlidingWindowLog) tryAccept(n uint64, now time.Duration) bool {
	if n > sw.size-uint64(len(sw.log)) {
		return false
	}
	for i := uint64(0); i < n; i++ {
		sw.log = append(sw.log, now)
	}
	return true
}

// removeOlderThan drops entries strictly before threshold. The log is sorted,
// so the cut point is found by binary search.
func (sw *SlidingWindowLog) removeOlderThan(threshold time.Duration) {
	idx := sort.Search(len(sw.log), func(i int) bool {
		return sw.log[i] >= threshold
	})
	if idx == 0 {
		return
	}
	kept := copy(sw.log, sw.log[idx:])
	sw.log = sw.log[:kept]
}
