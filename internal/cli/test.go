package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

func newTestCmd(g *globalOptions) *cobra.Command {
	var (
		requests    int
		units       uint64
		keys        []string
		fastForward time.Duration
		outputJSON  bool
		lf          limiterFlags
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run admission scenarios with time travel",
		Long: `Runs admission checks against a virtual clock, so limiter behaviour
over hours or days can be checked in milliseconds.

The test sends a batch of requests per key, optionally fast-forwards the
clock, then sends a second batch to show how the limit recovers.
The leaky bucket blocks callers until its leak loop runs and cannot be
driven this way.`,
		Example: `  ratekit test --requests 20 --size 10 --interval 1m
  ratekit test --algorithm sliding_window_count --size 5 --interval 30s --buckets 6 --fast-forward 15s
  ratekit test --keys user1,user2 --requests 15 --units 2 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load(cmd)
			if err != nil {
				return err
			}
			lf.apply(cmd, &cfg.Limiter)
			if cfg.Limiter.Algorithm == limiter.AlgorithmLeakyBucket {
				return fmt.Errorf("test does not support %s", cfg.Limiter.Algorithm)
			}
			if err := cfg.Limiter.Validate(); err != nil {
				return err
			}
			if len(keys) == 0 {
				keys = []string{"test-user"}
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			store, err := storage.NewMemoryStore(
				storage.ConfigFactory(cfg.Limiter, limiter.WithClock(vc)),
				storage.WithClock(vc),
			)
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := runTest(vc, store, keys, requests, units, fastForward)
			if err != nil {
				return err
			}
			result.Algorithm = string(cfg.Limiter.Algorithm)
			result.Size = cfg.Limiter.Size
			result.Interval = cfg.Limiter.Interval.String()

			out := cmd.OutOrStdout()
			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printTestResult(out, &result)
			return nil
		},
	}

	cmd.Flags().IntVar(&requests, "requests", 15, "number of requests per key per batch")
	cmd.Flags().Uint64Var(&units, "units", 1, "units requested by each request")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "comma-separated keys to test")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	lf.register(cmd)

	return cmd
}

// TestResult captures the full output of a test run.
type TestResult struct {
	Algorithm   string             `json:"algorithm"`
	Size        uint64             `json:"size"`
	Interval    string             `json:"interval"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures results for one batch of requests.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single admission check.
type DecisionRecord struct {
	Key     string `json:"key"`
	Units   uint64 `json:"units"`
	Allowed bool   `json:"allowed"`
}

// Summary aggregates stats per key.
type Summary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runTest(vc *clock.VirtualClock, store storage.Store, keys []string, requests int, units uint64, fastForward time.Duration) (TestResult, error) {
	result := TestResult{Summary: make(map[string]Summary)}

	batch := func(label string) error {
		b := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}
		for i := 0; i < requests; i++ {
			for _, key := range keys {
				lim, err := store.Get(key)
				if err != nil {
					return err
				}
				allowed, err := limiter.AllowN(lim, units)
				if err != nil {
					return err
				}
				b.Decisions = append(b.Decisions, DecisionRecord{Key: key, Units: units, Allowed: allowed})

				s := result.Summary[key]
				s.TotalRequests++
				if allowed {
					s.Allowed++
				} else {
					s.Denied++
				}
				result.Summary[key] = s
			}
		}
		result.Batches = append(result.Batches, b)
		return nil
	}

	if err := batch("Initial requests"); err != nil {
		return result, err
	}
	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		if err := batch(fmt.Sprintf("After fast-forward %s", fastForward)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func printTestResult(w io.Writer, r *TestResult) {
	fmt.Fprintln(w, "=== ratekit admission test ===")
	fmt.Fprintf(w, "algorithm=%s size=%d interval=%s\n\n", r.Algorithm, r.Size, r.Interval)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, dr := range batch.Decisions {
			status := "ALLOW"
			if !dr.Allowed {
				status = "DENY "
			}
			fmt.Fprintf(w, "  #%03d [%s] key=%s units=%d\n", i+1, status, dr.Key, dr.Units)
		}
		fmt.Fprintln(w)
	}

	keys := make([]string, 0, len(r.Summary))
	for k := range r.Summary {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintln(w, "--- Summary ---")
	for _, key := range keys {
		s := r.Summary[key]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied\n", key, s.TotalRequests, s.Allowed, s.Denied)
	}

	if r.FastForward == "" || len(r.Batches) < 2 {
		return
	}
	fmt.Fprintf(w, "\nTime travel: fast-forwarded %s\n", r.FastForward)

	recovered := false
	for _, dr := range r.Batches[1].Decisions {
		if dr.Allowed {
			recovered = true
			break
		}
	}
	denied := false
	for _, dr := range r.Batches[0].Decisions {
		if !dr.Allowed {
			denied = true
			break
		}
	}
	if denied && recovered {
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Requests were denied, then admitted again after")
		fmt.Fprintln(w, "fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
