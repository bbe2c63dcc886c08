package limiter

import (
	"math"
	"math/bits"
	"sync"
	"time"
)

// guard is a mutex that remembers whether a panic ever escaped a critical
// section. Once poisoned, every later lock panics with ErrPoisoned so that a
// half-updated state can never produce an admission decision.
//
// Usage is always:
//
//	g.lock()
//	defer g.unlock()
type guard struct {
	mu       sync.Mutex
	poisoned bool
}

func (g *guard) lock() {
	g.mu.Lock()
	if g.poisoned {
		g.mu.Unlock()
		panic(ErrPoisoned)
	}
}

// unlock must be deferred directly so that recover observes the panic.
func (g *guard) unlock() {
	if r := recover(); r != nil {
		g.poisoned = true
		g.mu.Unlock()
		panic(r)
	}
	g.mu.Unlock()
}

// intervalsPassed returns floor(elapsed/interval), or 0 for negative elapsed.
func intervalsPassed(elapsed, interval time.Duration) uint64 {
	if elapsed < interval {
		return 0
	}
	return uint64(elapsed / interval)
}

// mulDuration returns k*d and panics with ErrTimeOverflow instead of wrapping.
func mulDuration(k uint64, d time.Duration) time.Duration {
	hi, lo := bits.Mul64(k, uint64(d))
	if hi != 0 || lo > math.MaxInt64 {
		panic(ErrTimeOverflow)
	}
	return time.Duration(lo)
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}
