package replay

import (
	"slices"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/ratekit/internal/recorder"
)

// Filter defines criteria for selecting traffic records during replay.
type Filter struct {
	Keys      []string  // exact key matches; empty means all
	Endpoints []string  // substring matches; empty means all
	After     time.Time // exclusive lower bound; zero means none
	Before    time.Time // exclusive upper bound; zero means none
}

// Match reports whether the record passes the filter. A nil filter
// matches everything.
func (f *Filter) Match(r recorder.TrafficRecord) bool {
	if f == nil {
		return true
	}
	if len(f.Keys) > 0 && !slices.Contains(f.Keys, r.Key) {
		return false
	}
	if len(f.Endpoints) > 0 && !matchEndpoint(f.Endpoints, r.Endpoint) {
		return false
	}
	if !f.After.IsZero() && !r.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !r.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

func matchEndpoint(patterns []string, endpoint string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool {
		return strings.Contains(endpoint, p)
	})
}
