package claimwriter

import (
	"errors"
	"fmt"
)

// Pipeline sentinel errors.
// Use errors.Is() to check for these errors as they are usually wrapped
// with additional context.
var (
	// ErrPoolClosed is returned by Submit and Write after Close has been called.
	ErrPoolClosed = errors.New("claimwriter: pool closed")

	// ErrWriterFailed is returned by Submit when the record routes to a
	// partition whose writer stopped after a fatal error. The writer's
	// error is wrapped alongside it.
	ErrWriterFailed = errors.New("claimwriter: writer failed")

	// ErrMissingKey is returned when a record carries no key and none can be
	// extracted from its payload.
	ErrMissingKey = errors.New("claimwriter: record has no key")

	// ErrTooManyTransformErrors is wrapped into the transform error that
	// exceeds the configured limit, making it fatal to its writer.
	ErrTooManyTransformErrors = errors.New("claimwriter: too many transform errors")

	// ErrDeadLetter is wrapped into the error of a dropped record that could
	// not be saved to the dead-letter store. It is fatal to the writer.
	ErrDeadLetter = errors.New("claimwriter: dead-letter store failed")

	// ErrInvalidOption is returned when a pool is constructed with an
	// unusable configuration.
	ErrInvalidOption = errors.New("claimwriter: invalid option")
)

// TransformError reports a record whose payload could not be transformed
// into a storage item. The record is dropped; other records are unaffected.
type TransformError struct {
	Key      string
	Sequence int64
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s (sequence %d): %v", e.Key, e.Sequence, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// WriteError reports a failed batch write. It is fatal to the writer that
// owns Partition; Entries are the records the batch covered.
type WriteError struct {
	Partition int
	Entries   []Entry
	Err       error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write batch of %d entries on partition %d: %v", len(e.Entries), e.Partition, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// ProgressError reports a watermark that could not be persisted.
// In-memory tracking continues; the next persist retries with the then
// current watermark.
type ProgressError struct {
	Watermark int64
	Err       error
}

func (e *ProgressError) Error() string {
	return fmt.Sprintf("persist watermark %d: %v", e.Watermark, e.Err)
}

func (e *ProgressError) Unwrap() error {
	return e.Err
}

// ProcessingError is returned by ConcurrentSink.Write. Processed is the
// number of records flushed before the failure was observed, so callers can
// line up partial progress with the source's replay point.
type ProcessingError struct {
	Processed int
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed after %d records: %v", e.Processed, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err stops a writer, as opposed to a dropped record
// or a failed progress persist.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var we *WriteError
	if errors.As(err, &we) {
		return true
	}
	return errors.Is(err, ErrTooManyTransformErrors) || errors.Is(err, ErrDeadLetter)
}
