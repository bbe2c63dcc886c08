package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
)

// limiterFlags are the per-command overrides of the limiter config.
// Only flags set on the command line replace config file values.
type limiterFlags struct {
	algorithm string
	size      uint64
	rate      uint64
	interval  time.Duration
	buckets   int
}

func (f *limiterFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.algorithm, "algorithm", string(limiter.AlgorithmTokenBucket),
		"algorithm (fixed_window, token_bucket, sliding_window_log, sliding_window_count, leaky_bucket)")
	fs.Uint64Var(&f.size, "size", 10, "window size or bucket capacity")
	fs.Uint64Var(&f.rate, "rate", 10, "refill or leak rate per interval (token_bucket, leaky_bucket)")
	fs.DurationVar(&f.interval, "interval", time.Minute, "window, refill or leak interval")
	fs.IntVar(&f.buckets, "buckets", 10, "number of buckets (sliding_window_count)")
}

func (f *limiterFlags) apply(cmd *cobra.Command, cfg *limiter.Config) {
	fs := cmd.Flags()
	if fs.Changed("algorithm") {
		cfg.Algorithm = limiter.Algorithm(f.algorithm)
	}
	if fs.Changed("size") {
		cfg.Size = f.size
	}
	if fs.Changed("rate") {
		cfg.Rate = f.rate
	}
	if fs.Changed("interval") {
		cfg.Interval = f.interval
	}
	if fs.Changed("buckets") {
		cfg.Buckets = f.buckets
	}
}
