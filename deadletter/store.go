// Package deadletter stores records a pipeline dropped because their payload
// could not be transformed, so they can be inspected and replayed once the
// cause is fixed.
//
// A writer configured with claimwriter.WithDeadLetter saves every dropped
// record here before completing its sequence number, so the watermark only
// moves past a bad record once it is durably recorded.
//
// # Basic Usage
//
//	dl := deadletter.NewPostgresStore(conn)
//	if err := dl.EnsureTable(ctx); err != nil {
//	    return err
//	}
//	sink, err := claimwriter.NewConcurrentSink(ctx, factory,
//	    claimwriter.WithDeadLetter(dl, "claims-0"),
//	)
//
//	// Later, after fixing the transform:
//	replayed, err := deadletter.Replay(ctx, dl, deadletter.Filter{
//	    Pipeline:       "claims-0",
//	    ExcludeRetried: true,
//	}, resubmit)
package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// ErrNotFound is returned when a message id does not exist.
var ErrNotFound = errors.New("deadletter: message not found")

// Message is one dropped record with the reason it was dropped.
type Message struct {
	ID        string     // Unique message ID (generated)
	Pipeline  string     // Pipeline the record was submitted to
	Partition int        // Writer partition that dropped it
	Version   string     // Protocol version the record was submitted under
	Key       string     // Claim key
	Sequence  int64      // Source sequence number
	Payload   []byte     // Original payload
	Error     string     // Transform error
	CreatedAt time.Time  // When the record was dropped
	RetriedAt *time.Time // When the message was last replayed (nil if never)
}

// Filter selects messages. Zero fields match everything.
type Filter struct {
	Pipeline       string
	StartTime      time.Time
	EndTime        time.Time
	ExcludeRetried bool
	Limit          int
}

// Store persists dead-lettered messages.
//
// Implementations must be safe for concurrent use: every writer of a pool
// shares the same Store.
type Store interface {
	// Store adds msg. The ID should be pre-generated.
	Store(ctx context.Context, msg *Message) error

	// List returns messages matching filter, oldest first.
	List(ctx context.Context, filter Filter) ([]*Message, error)

	// MarkRetried sets RetriedAt to the current time.
	MarkRetried(ctx context.Context, id string) error

	// Delete removes a message.
	Delete(ctx context.Context, id string) error
}

// ReplayFunc reprocesses one message.
type ReplayFunc func(ctx context.Context, msg *Message) error

// Replay hands every message matching filter to fn and marks the ones fn
// accepted as retried. Messages that fail stay pending; their errors are
// combined in the returned error alongside the count of replayed messages.
func Replay(ctx context.Context, s Store, filter Filter, fn ReplayFunc) (int, error) {
	messages, err := s.List(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}

	replayed := 0
	var errs error
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return replayed, multierr.Append(errs, err)
		}
		if err := fn(ctx, msg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("replay %s (sequence %d): %w", msg.ID, msg.Sequence, err))
			continue
		}
		if err := s.MarkRetried(ctx, msg.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("mark %s retried: %w", msg.ID, err))
			continue
		}
		replayed++
	}
	return replayed, errs
}

func (f Filter) matches(m *Message) bool {
	if f.Pipeline != "" && m.Pipeline != f.Pipeline {
		return false
	}
	if !f.StartTime.IsZero() && m.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && m.CreatedAt.After(f.EndTime) {
		return false
	}
	if f.ExcludeRetried && m.RetriedAt != nil {
		return false
	}
	return true
}
