package limiter

import (
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// SlidingWindowCount approximates a sliding window with a ring of counters.
//
// The interval is split into bucketCount buckets of bucketInterval each.
// Every call zeroes one bucket per whole bucketInterval since the previous
// call, and a request is admitted when the sum over all buckets plus n stays
// within winSize. Memory is O(bucketCount) regardless of traffic, at the
// cost of an approximate window.
type SlidingWindowCount struct {
	winSize        uint64
	bucketInterval time.Duration
	clock          clock.Clock

	g          guard
	buckets    []uint64
	lastIndex  int
	lastUpdate time.Time
}

// NewSlidingWindowCount creates a bucketed sliding window limiter.
//   - winSize: max units admitted in the window
//   - interval: total window length, split evenly across buckets
//   - bucketCount: number of ring buckets, at least 1
//   - opts: WithClock
func NewSlidingWindowCount(winSize uint64, interval time.Duration, bucketCount int, opts ...Option) (*SlidingWindowCount, error) {
	if winSize == 0 {
		return nil, invalidf("sliding window count size must be positive")
	}
	if bucketCount < 1 {
		return nil, invalidf("bucket count must be at least 1, got %d", bucketCount)
	}
	if interval <= 0 {
		return nil, invalidf("interval must be positive, got %s", interval)
	}
	bucketInterval := interval / time.Duration(bucketCount)
	if bucketInterval <= 0 {
		return nil, invalidf("interval %s is too short for %d buckets", interval, bucketCount)
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	return &SlidingWindowCount{
		winSize:        winSize,
		bucketInterval: bucketInterval,
		clock:          o.clock,
		buckets:        make([]uint64, bucketCount),
		lastUpdate:     o.clock.Now(),
	}, nil
}

// Allow admits one unit.
func (sc *SlidingWindowCount) Allow() bool {
	return sc.AllowN(1)
}

// AllowN admits n units if the windowed total has room for all of them.
func (sc *SlidingWindowCount) AllowN(n uint64) bool {
	sc.g.lock()
	defer sc.g.unlock()

	sc.rotate(sc.clock.Now())

	if n > sc.winSize-sc.total() {
		return false
	}
	sc.buckets[sc.lastIndex] += n
	return true
}

// Count returns the units currently counted in the window.
func (sc *SlidingWindowCount) Count() uint64 {
	sc.g.lock()
	defer sc.g.unlock()

	sc.rotate(sc.clock.Now())
	return sc.total()
}

// Size returns the max units admitted per window.
func (sc *SlidingWindowCount) Size() uint64 {
	return sc.winSize
}

// rotate zeroes one bucket per whole bucketInterval elapsed since the last
// call, starting with the current one, moves lastIndex past them and stamps
// lastUpdate with now. A gap of bucketCount or more clears the ring.
// Caller must hold the guard.
func (sc *SlidingWindowCount) rotate(now time.Time) {
	passed := intervalsPassed(now.Sub(sc.lastUpdate), sc.bucketInterval)

	n := len(sc.buckets)
	steps := int(min(passed, uint64(n)))
	for i := 0; i < steps; i++ {
		sc.buckets[(sc.lastIndex+i)%n] = 0
	}
	sc.lastIndex = (sc.lastIndex + steps) % n
	sc.lastUpdate = now
}

func (sc *SlidingWindowCount) total() uint64 {
	var sum uint64
	for _, c := range sc.buckets {
		sum += c
	}
	return sum
}
