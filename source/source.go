// Package source feeds upstream claim streams into a ConcurrentSink.
//
// A Source replays records in sequence order starting at a requested
// sequence number. Job couples a Source with a ConcurrentSink: it resumes
// from the persisted watermark, streams through a bridge.BoundedBridge so
// the producer never runs more than a bounded number of records ahead of the
// writers, and retries failed runs from the newly persisted watermark.
//
// Implementations:
//   - Slice: in-memory records, for tests and backfills
//   - source/kafka: one Kafka topic partition (sequence = offset + 1)
//   - source/nats: one JetStream stream (sequence = stream sequence)
package source

import (
	"context"
	"sort"

	"github.com/rbaliyan/claimwriter"
)

// EmitFunc hands one record to the consumer. It blocks while the consumer
// is saturated; a non-nil error means streaming must stop.
type EmitFunc func(claimwriter.Record) error

// Source is an upstream stream of claim records.
type Source interface {
	// Version is the protocol version of the payloads this source produces.
	Version() string

	// Stream emits records with sequence numbers >= from, in increasing
	// order, until the stream ends, ctx ends, or emit fails. It returns nil
	// at the natural end of the stream.
	Stream(ctx context.Context, from int64, emit EmitFunc) error

	// Close releases the source's connection.
	Close() error
}

// Slice is a finite in-memory Source.
type Slice struct {
	version string
	records []claimwriter.Record
}

// NewSlice creates a Slice emitting records under version. Records are
// sorted by sequence number.
func NewSlice(version string, records []claimwriter.Record) *Slice {
	owned := make([]claimwriter.Record, len(records))
	copy(owned, records)
	sort.SliceStable(owned, func(i, j int) bool {
		return owned[i].Sequence < owned[j].Sequence
	})
	return &Slice{version: version, records: owned}
}

func (s *Slice) Version() string { return s.version }

func (s *Slice) Stream(ctx context.Context, from int64, emit EmitFunc) error {
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Sequence >= from
	})
	for _, rec := range s.records[i:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Slice) Close() error { return nil }

var _ Source = (*Slice)(nil)
