package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/ratekit/internal/clock"
	"github.com/SmitUplenchwar2687/ratekit/internal/limiter"
	"github.com/SmitUplenchwar2687/ratekit/internal/storage"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, vc *clock.VirtualClock, cfg limiter.Config) *storage.MemoryStore {
	t.Helper()
	store, err := storage.NewMemoryStore(
		storage.ConfigFactory(cfg, limiter.WithClock(vc)),
		storage.WithClock(vc),
	)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func tokenBucketConfig(size uint64) limiter.Config {
	return limiter.Config{
		Algorithm: limiter.AlgorithmTokenBucket,
		Size:      size,
		Rate:      size,
		Interval:  time.Minute,
	}
}

func TestRunTest_BasicTokenBucket(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := newTestStore(t, vc, tokenBucketConfig(5))

	result, err := runTest(vc, store, []string{"user1"}, 10, 1, 0)
	require.NoError(t, err)

	require.Len(t, result.Batches, 1)
	require.Equal(t, Summary{TotalRequests: 10, Allowed: 5, Denied: 5}, result.Summary["user1"])
	require.Empty(t, result.FastForward)
}

func TestRunTest_WithFastForward(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := newTestStore(t, vc, tokenBucketConfig(5))

	result, err := runTest(vc, store, []string{"user1"}, 8, 1, time.Minute)
	require.NoError(t, err)

	require.Len(t, result.Batches, 2)
	require.Equal(t, "1m0s", result.FastForward)

	count := func(b BatchResult) (allowed int) {
		for _, d := range b.Decisions {
			if d.Allowed {
				allowed++
			}
		}
		return allowed
	}
	require.Equal(t, 5, count(result.Batches[0]))
	require.Equal(t, 5, count(result.Batches[1]))
	require.Equal(t, Summary{TotalRequests: 16, Allowed: 10, Denied: 6}, result.Summary["user1"])
}

func TestRunTest_MultipleKeys(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := newTestStore(t, vc, tokenBucketConfig(3))

	result, err := runTest(vc, store, []string{"alice", "bob"}, 5, 1, 0)
	require.NoError(t, err)

	for _, key := range []string{"alice", "bob"} {
		require.Equal(t, Summary{TotalRequests: 5, Allowed: 3, Denied: 2}, result.Summary[key], key)
	}
	require.Equal(t, 2, store.Len())
}

func TestRunTest_Units(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store := newTestStore(t, vc, tokenBucketConfig(10))

	result, err := runTest(vc, store, []string{"user1"}, 5, 3, 0)
	require.NoError(t, err)

	// 3+3+3 fits in 10, the fourth request needs 12.
	require.Equal(t, Summary{TotalRequests: 5, Allowed: 3, Denied: 2}, result.Summary["user1"])
	require.Equal(t, uint64(3), result.Batches[0].Decisions[0].Units)
}

func TestRunTest_EachAlgorithm(t *testing.T) {
	configs := map[string]limiter.Config{
		"fixed_window":         {Algorithm: limiter.AlgorithmFixedWindow, Size: 4, Interval: time.Minute},
		"sliding_window_log":   {Algorithm: limiter.AlgorithmSlidingWindowLog, Size: 4, Interval: time.Minute},
		"sliding_window_count": {Algorithm: limiter.AlgorithmSlidingWindowCount, Size: 4, Interval: time.Minute, Buckets: 4},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			vc := clock.NewVirtualClock(epoch)
			store := newTestStore(t, vc, cfg)

			result, err := runTest(vc, store, []string{"user1"}, 6, 1, 0)
			require.NoError(t, err)
			require.Equal(t, Summary{TotalRequests: 6, Allowed: 4, Denied: 2}, result.Summary["user1"])
		})
	}
}

func TestRunTest_SingleUnitLimiterRejectsBatches(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	store, err := storage.NewMemoryStore(func(string) (limiter.Limiter, error) {
		return singleUnit{}, nil
	}, storage.WithClock(vc))
	require.NoError(t, err)
	defer store.Close()

	_, err = runTest(vc, store, []string{"user1"}, 1, 2, 0)
	require.ErrorIs(t, err, limiter.ErrSingleUnit)
}

type singleUnit struct{}

func (singleUnit) Allow() bool { return true }

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewTestCmd_ExecutesWithDefaults(t *testing.T) {
	out, err := executeRoot(t, "test", "--requests", "3")
	require.NoError(t, err)
	require.Contains(t, out, "algorithm=token_bucket")
	require.Contains(t, out, "--- Summary ---")
}

func TestNewTestCmd_JSON(t *testing.T) {
	out, err := executeRoot(t, "test",
		"--algorithm", "fixed_window",
		"--size", "2",
		"--interval", "30s",
		"--requests", "3",
		"--keys", "a,b",
		"--fast-forward", "30s",
		"--json")
	require.NoError(t, err)

	var result TestResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, "fixed_window", result.Algorithm)
	require.Equal(t, uint64(2), result.Size)
	require.Equal(t, "30s", result.Interval)
	require.Len(t, result.Batches, 2)
	for _, key := range []string{"a", "b"} {
		require.Equal(t, Summary{TotalRequests: 6, Allowed: 4, Denied: 2}, result.Summary[key], key)
	}
}

func TestNewTestCmd_Errors(t *testing.T) {
	tests := map[string][]string{
		"unknown algorithm": {"test", "--algorithm", "invalid"},
		"leaky bucket":      {"test", "--algorithm", "leaky_bucket"},
		"zero size":         {"test", "--size", "0"},
		"missing config":    {"test", "--config", "does-not-exist.yaml"},
		"bad log level":     {"test", "--log-level", "loud"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := executeRoot(t, args...)
			require.Error(t, err)
		})
	}
}
