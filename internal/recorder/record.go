package recorder

import (
	"time"

	"github.com/google/uuid"
)

// TrafficRecord represents a single captured admission request.
type TrafficRecord struct {
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Key       string            `json:"key"`             // User ID, API key, IP, etc.
	Units     uint64            `json:"units,omitempty"` // 0 is read as 1
	Endpoint  string            `json:"endpoint"`        // e.g. "GET /api/users"
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewRecord returns a record for a one-unit request with a fresh ID.
func NewRecord(ts time.Time, key, endpoint string) TrafficRecord {
	return TrafficRecord{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Key:       key,
		Units:     1,
		Endpoint:  endpoint,
	}
}

// N returns the number of units the record asks for.
func (r TrafficRecord) N() uint64 {
	if r.Units == 0 {
		return 1
	}
	return r.Units
}

// DecisionEvent pairs a traffic record with the admission decision it
// produced. It is streamed to websocket clients and written by replay.
type DecisionEvent struct {
	Record    TrafficRecord `json:"record"`
	Algorithm string        `json:"algorithm"`
	Allowed   bool          `json:"allowed"`
	Time      time.Time     `json:"time"`
}
