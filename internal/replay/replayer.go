package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/recorder"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

var (
	// ErrNotReplayable is returned for algorithms whose admission depends on
	// wall-clock progress while a caller waits.
	ErrNotReplayable = errors.New("replay: algorithm cannot be replayed")
	// ErrNoRecords is returned by Run when nothing has been loaded.
	ErrNoRecords = errors.New("replay: no records loaded")
)

// Replayer replays recorded traffic through one limiter per key at a
// configurable speed. Limiters read time from a virtual clock that jumps
// to each record's timestamp.
type Replayer struct {
	cfg     limiter.Config
	records []recorder.TrafficRecord
	clock   *clock.VirtualClock
	filter  *Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Result captures the outcome of replaying a single record.
type Result struct {
	Record  recorder.TrafficRecord `json:"record"`
	Allowed bool                   `json:"allowed"`
	Time    time.Time              `json:"time"` // virtual time of the decision
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalRecords int                   `json:"total_records"`
	Filtered     int                   `json:"filtered"`
	Replayed     int                   `json:"replayed"`
	Allowed      int                   `json:"allowed"`
	Denied       int                   `json:"denied"`
	UnitsAllowed uint64                `json:"units_allowed"`
	UnitsDenied  uint64                `json:"units_denied"`
	Duration     time.Duration         `json:"duration"`      // virtual time span
	WallDuration time.Duration         `json:"wall_duration"` // actual wall clock time
	PerKey       map[string]KeySummary `json:"per_key"`
}

// KeySummary has per-key stats.
type KeySummary struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// New creates a replayer that builds every key's limiter from cfg.
// A nil filter matches every record; a negative speed is treated as 0.
func New(cfg limiter.Config, vc *clock.VirtualClock, speed float64, filter *Filter) (*Replayer, error) {
	if cfg.Algorithm == limiter.AlgorithmLeakyBucket {
		return nil, fmt.Errorf("%w: %s blocks callers until its leak loop runs", ErrNotReplayable, cfg.Algorithm)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if vc == nil {
		return nil, fmt.Errorf("replay: virtual clock is required")
	}
	if speed < 0 {
		speed = 0
	}
	if filter == nil {
		filter = &Filter{}
	}
	return &Replayer{
		cfg:    cfg,
		clock:  vc,
		speed:  speed,
		filter: filter,
	}, nil
}

// Load reads traffic records from a JSON reader.
func (r *Replayer) Load(reader io.Reader) error {
	records, err := recorder.LoadJSON(reader)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}
	r.records = records
	return nil
}

// LoadRecords sets the records directly.
func (r *Replayer) LoadRecords(records []recorder.TrafficRecord) {
	r.records = make([]recorder.TrafficRecord, len(records))
	copy(r.records, records)
}

// Run replays the loaded records in timestamp order. cb, if non-nil, is
// called with every decision. Limiters are created fresh for each run.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.records) == 0 {
		return nil, ErrNoRecords
	}

	sorted := make([]recorder.TrafficRecord, len(r.records))
	copy(sorted, r.records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []recorder.TrafficRecord
	for _, rec := range sorted {
		if r.filter.Match(rec) {
			filtered = append(filtered, rec)
		}
	}

	summary := &Summary{
		TotalRecords: len(sorted),
		Filtered:     len(filtered),
		PerKey:       make(map[string]KeySummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	baseTime := filtered[0].Timestamp
	if baseTime.After(r.clock.Now()) {
		r.clock.Set(baseTime)
	}

	store, err := storage.NewMemoryStore(
		storage.ConfigFactory(r.cfg, limiter.WithClock(r.clock)),
		storage.WithClock(r.clock),
	)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	wallStart := time.Now()
	for i, rec := range filtered {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		if i > 0 {
			if gap := rec.Timestamp.Sub(filtered[i-1].Timestamp); gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		lim, err := store.Get(rec.Key)
		if err != nil {
			return summary, err
		}
		n := rec.N()
		allowed, err := limiter.AllowN(lim, n)
		if err != nil {
			return summary, fmt.Errorf("replaying %d units for %q: %w", n, rec.Key, err)
		}

		summary.Replayed++
		ks := summary.PerKey[rec.Key]
		if allowed {
			summary.Allowed++
			summary.UnitsAllowed += n
			ks.Allowed++
		} else {
			summary.Denied++
			summary.UnitsDenied += n
			ks.Denied++
		}
		summary.PerKey[rec.Key] = ks

		if cb != nil {
			cb(Result{Record: rec, Allowed: allowed, Time: r.clock.Now()})
		}
	}

	summary.Duration = filtered[len(filtered)-1].Timestamp.Sub(baseTime)
	summary.WallDuration = time.Since(wallStart)
	return summary, nil
}

// pace sleeps for gap scaled by the replay speed. Sub-millisecond pauses
// are skipped.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.speed == 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.speed)
	if scaled <= time.Millisecond {
		return nil
	}

	t := time.NewTimer(scaled)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
