package limiter

import (
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

// FixedWindow implements the fixed window counter algorithm.
//
// Time is cut into consecutive windows of one interval, aligned to the moment
// the limiter was built. Each window admits at most size units; the counter
// resets at the first call that lands in a later window. A caller that was
// silent for many windows still sees a single reset.
//
// Simple and O(1), but can admit up to 2x size across a window boundary.
type FixedWindow struct {
	size     uint64
	interval time.Duration
	clock    clock.Clock

	g           guard
	count       uint64
	windowStart time.Time
	windowEnd   time.Time
}

// NewFixedWindow creates a fixed window limiter.
//   - size: max units admitted per window
//   - opts: WithInterval (default 1s), WithClock
func NewFixedWindow(size uint64, opts ...Option) (*FixedWindow, error) {
	if size == 0 {
		return nil, invalidf("fixed window size must be positive")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	now := o.clock.Now()
	return &FixedWindow{
		size:        size,
		interval:    o.interval,
		clock:       o.clock,
		windowStart: now,
		windowEnd:   now.Add(o.interval),
	}, nil
}

// Allow admits one unit.
func (fw *FixedWindow) Allow() bool {
	return fw.AllowN(1)
}

// AllowN admits n units if they all fit in the current window.
func (fw *FixedWindow) AllowN(n uint64) bool {
	fw.g.lock()
	defer fw.g.unlock()

	now := fw.clock.Now()
	if !now.Before(fw.windowEnd) {
		passed := intervalsPassed(now.Sub(fw.windowStart), fw.interval)
		fw.count = 0
		fw.windowStart = fw.windowStart.Add(mulDuration(passed, fw.interval))
		fw.windowEnd = fw.windowStart.Add(fw.interval)
	}

	if n > fw.size-fw.count {
		return false
	}
	fw.count += n
	return true
}

// Size returns the number of units admitted per window.
func (fw *FixedWindow) Size() uint64 {
	return fw.size
}
