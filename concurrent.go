package claimwriter

import (
	"context"
	"fmt"
	"sync"
)

// ConcurrentSink is the pipeline's entry point: a synchronous batch write
// over a WriterPool.
//
// Write hands every record to the pool and returns how many storage items
// were flushed since the previous Write, so a caller streaming from a source
// can log throughput and correlate partial progress with its replay point.
//
// Example:
//
//	sink, err := claimwriter.NewConcurrentSink(ctx, factory,
//	    claimwriter.WithInitialWatermark(last),
//	)
//	if err != nil {
//	    return err
//	}
//	for batch := range batches {
//	    if _, err := sink.Write(ctx, "v1", batch); err != nil {
//	        sink.Close(ctx)
//	        return err
//	    }
//	}
//	return sink.Close(ctx)
type ConcurrentSink[T any] struct {
	pool *WriterPool[T]

	mu       sync.Mutex
	reported int64
}

// NewConcurrentSink creates a WriterPool and wraps it.
func NewConcurrentSink[T any](ctx context.Context, factory SinkFactory[T], opts ...Option) (*ConcurrentSink[T], error) {
	pool, err := NewWriterPool(ctx, factory, opts...)
	if err != nil {
		return nil, err
	}
	return &ConcurrentSink[T]{pool: pool}, nil
}

// Write submits records under version and returns the number of items
// flushed by the pool since the previous call.
//
// On failure the returned error is a *ProcessingError whose Processed field
// equals the returned count. Any failed writer in the pool fails the call,
// whichever partitions the records route to.
func (s *ConcurrentSink[T]) Write(ctx context.Context, version string, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.pool.Err(); err != nil {
		n := s.report()
		return n, &ProcessingError{Processed: n, Err: fmt.Errorf("%w: %w", ErrWriterFailed, err)}
	}
	for _, rec := range records {
		if err := s.pool.Submit(ctx, version, rec); err != nil {
			n := s.report()
			return n, &ProcessingError{Processed: n, Err: err}
		}
	}
	n := s.report()
	if err := s.pool.Err(); err != nil {
		return n, &ProcessingError{Processed: n, Err: fmt.Errorf("%w: %w", ErrWriterFailed, err)}
	}
	return n, nil
}

// report advances progress if anything was flushed and returns the delta
// since the last report. Callers hold s.mu.
func (s *ConcurrentSink[T]) report() int {
	now := s.pool.ProcessedCount()
	delta := now - s.reported
	if delta != 0 {
		s.pool.AdvanceProgress()
	}
	s.reported = now
	return int(delta)
}

// Watermark returns the current safe resume point.
func (s *ConcurrentSink[T]) Watermark() int64 {
	return s.pool.Watermark()
}

// Pool returns the underlying writer pool.
func (s *ConcurrentSink[T]) Pool() *WriterPool[T] {
	return s.pool
}

// Close closes the pool, flushing every writer.
func (s *ConcurrentSink[T]) Close(ctx context.Context) error {
	return s.pool.Close(ctx)
}
