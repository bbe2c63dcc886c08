package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Recorder captures traffic records for later replay.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []TrafficRecord
	stream  *json.Encoder // nil unless streaming NDJSON
}

// New creates a Recorder. If w is non-nil, records are also written to w
// as newline-delimited JSON as they arrive.
func New(w io.Writer) *Recorder {
	r := &Recorder{}
	if w != nil {
		r.stream = json.NewEncoder(w)
	}
	return r
}

// Record captures a single traffic record, assigning an ID if it has none.
func (r *Recorder) Record(rec TrafficRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, rec)

	if r.stream != nil {
		if err := r.stream.Encode(rec); err != nil {
			return fmt.Errorf("streaming record: %w", err)
		}
	}
	return nil
}

// Records returns a copy of all recorded traffic.
func (r *Recorder) Records() []TrafficRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TrafficRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of recorded items.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// ExportJSON writes all records to the given writer as a JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if r.records == nil {
		return enc.Encode([]TrafficRecord{})
	}
	return enc.Encode(r.records)
}

// ExportFile writes all records to a file as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads traffic records from a JSON array.
func LoadJSON(r io.Reader) ([]TrafficRecord, error) {
	var records []TrafficRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decoding traffic records: %w", err)
	}
	return records, nil
}

// LoadFile reads traffic records from a JSON array file.
func LoadFile(path string) ([]TrafficRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening traffic file: %w", err)
	}
	defer f.Close()
	return LoadJSON(f)
}
