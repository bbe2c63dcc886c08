package limiter

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
)

func newSlidingWindowCount(t *testing.T, size uint64, interval time.Duration, buckets int) (*SlidingWindowCount, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	sc, err := NewSlidingWindowCount(size, interval, buckets, WithClock(vc))
	if err != nil {
		t.Fatalf("NewSlidingWindowCount() error = %v", err)
	}
	return sc, vc
}

func TestSlidingWindowCount_FillAndSlide(t *testing.T) {
	sc, vc := newSlidingWindowCount(t, 20, 10*time.Millisecond, 10)

	for i := 0; i < 20; i++ {
		if !sc.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if sc.Allow() {
		t.Fatal("21st request should be denied")
	}
	if got := sc.Count(); got != 20 {
		t.Errorf("Count() = %d, want 20", got)
	}

	// Half a window later five buckets have passed, the filled one first.
	vc.Advance(5 * time.Millisecond)
	if !sc.Allow() {
		t.Error("should be allowed after half a window")
	}

	vc.Advance(20 * time.Millisecond)
	if !sc.Allow() {
		t.Fatal("should be allowed after a long pause")
	}
	if got := sc.Count(); got != 1 {
		t.Errorf("Count() = %d after full wrap, want 1", got)
	}
}

func TestSlidingWindowCount_RotationStartsAtCurrentBucket(t *testing.T) {
	sc, vc := newSlidingWindowCount(t, 4, 4*time.Second, 4)

	sc.AllowN(4)
	vc.Advance(time.Second)
	if !sc.AllowN(4) {
		t.Fatal("one elapsed bucket should clear the bucket holding the burst")
	}
	if sc.lastIndex != 1 {
		t.Errorf("lastIndex = %d, want 1", sc.lastIndex)
	}

	vc.Advance(2 * time.Second)
	if !sc.AllowN(4) {
		t.Fatal("two elapsed buckets should clear buckets 1 and 2")
	}
	if sc.lastIndex != 3 {
		t.Errorf("lastIndex = %d, want 3", sc.lastIndex)
	}
	if got := sc.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestSlidingWindowCount_LastUpdateIsCallTime(t *testing.T) {
	sc, vc := newSlidingWindowCount(t, 20, 10*time.Millisecond, 10)

	vc.Advance(1500 * time.Microsecond)
	sc.Allow()
	if want := epoch.Add(1500 * time.Microsecond); !sc.lastUpdate.Equal(want) {
		t.Errorf("lastUpdate = %v, want %v", sc.lastUpdate, want)
	}
	if sc.lastIndex != 1 {
		t.Errorf("lastIndex = %d, want 1", sc.lastIndex)
	}
}

func TestSlidingWindowCount_SubBucketCallsPostponeRotation(t *testing.T) {
	sc, vc := newSlidingWindowCount(t, 1, 4*time.Millisecond, 4)
	sc.Allow()

	// Each call restarts the bucket clock, so calls every half bucket
	// never see a whole bucket elapse.
	for i := 0; i < 10; i++ {
		vc.Advance(500 * time.Microsecond)
		if sc.Allow() {
			t.Fatalf("call %d: no whole bucket elapsed, want denied", i)
		}
	}

	vc.Advance(time.Millisecond)
	if !sc.Allow() {
		t.Error("a whole bucket since the last call should clear the count")
	}
}

func TestSlidingWindowCount_SingleBucketClearsAfterQuietInterval(t *testing.T) {
	sc, vc := newSlidingWindowCount(t, 3, time.Second, 1)

	sc.AllowN(3)
	vc.Advance(999 * time.Millisecond)
	if sc.Allow() {
		t.Fatal("should be denied inside the interval")
	}
	vc.Advance(time.Second)
	if !sc.AllowN(3) {
		t.Error("a single bucket should reset after a quiet interval")
	}
}

func TestSlidingWindowCount_AllowNIsAllOrNothing(t *testing.T) {
	sc, _ := newSlidingWindowCount(t, 5, time.Second, 5)

	sc.AllowN(4)
	if sc.AllowN(2) {
		t.Fatal("AllowN(2) with one unit free should be denied")
	}
	if got := sc.Count(); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
}

func TestSlidingWindowCount_SumNeverExceedsSize(t *testing.T) {
	const size = 10
	sc, vc := newSlidingWindowCount(t, size, 100*time.Millisecond, 10)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		vc.Advance(time.Duration(rng.Intn(15)) * time.Millisecond)
		sc.AllowN(uint64(rng.Intn(3) + 1))
		if got := sc.total(); got > size {
			t.Fatalf("step %d: sum of buckets = %d, want <= %d", i, got, size)
		}
	}
}

func TestSlidingWindowCount_InvalidConfig(t *testing.T) {
	tests := []struct {
		name     string
		size     uint64
		interval time.Duration
		buckets  int
	}{
		{"zero size", 0, time.Second, 10},
		{"zero buckets", 10, time.Second, 0},
		{"zero interval", 10, 0, 10},
		{"bucket interval rounds to zero", 10, 5 * time.Nanosecond, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSlidingWindowCount(tt.size, tt.interval, tt.buckets)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestSlidingWindowCount_RealClock(t *testing.T) {
	sc, err := NewSlidingWindowCount(20, 10*time.Millisecond, 10)
	if err != nil {
		t.Fatal(err)
	}

	sc.AllowN(20)
	time.Sleep(25 * time.Millisecond)
	if !sc.Allow() {
		t.Fatal("should be allowed after the window passed")
	}
	if got := sc.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}
