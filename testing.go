package claimwriter

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInjected is returned by MemoryStore when a failure is configured
// without an explicit error.
var ErrInjected = errors.New("claimwriter: injected failure")

// MemoryStore is a BatchStore that records every batch and watermark.
// Useful for testing pipelines without a database.
//
// Example:
//
//	store := claimwriter.NewMemoryStore[Claim]()
//	factory := func(ctx context.Context) (claimwriter.Sink[Claim], error) {
//	    return claimwriter.NewSink[Claim](transformer, store), nil
//	}
type MemoryStore[T any] struct {
	mu           sync.Mutex
	batches      [][]T
	watermarks   []int64
	closed       int
	failAll      bool
	failNext     int
	failProgress int
	err          error
	delay        time.Duration
}

// NewMemoryStore creates an empty recording store.
func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{}
}

// WriteBatch records items, or fails if configured.
func (s *MemoryStore[T]) WriteBatch(ctx context.Context, items []T) (int, error) {
	s.mu.Lock()
	delay := s.delay
	shouldFail := s.failAll || s.failNext > 0
	if s.failNext > 0 {
		s.failNext--
	}
	err := s.failure()
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if shouldFail {
		return 0, err
	}

	batch := make([]T, len(items))
	copy(batch, items)

	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	return len(items), nil
}

// PersistProgress records n, or fails if configured.
func (s *MemoryStore[T]) PersistProgress(ctx context.Context, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failProgress > 0 {
		s.failProgress--
		return s.failure()
	}
	s.watermarks = append(s.watermarks, n)
	return nil
}

// Close counts calls.
func (s *MemoryStore[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *MemoryStore[T]) failure() error {
	if s.err != nil {
		return s.err
	}
	return ErrInjected
}

// FailAll makes all batch writes fail with err.
func (s *MemoryStore[T]) FailAll(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAll = true
	s.err = err
}

// FailNext makes the next n batch writes fail with err.
func (s *MemoryStore[T]) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
	s.err = err
}

// FailProgress makes the next n watermark persists fail with err.
func (s *MemoryStore[T]) FailProgress(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failProgress = n
	s.err = err
}

// SetDelay makes every batch write take at least d.
func (s *MemoryStore[T]) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Batches returns a copy of every recorded batch.
func (s *MemoryStore[T]) Batches() [][]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]T, len(s.batches))
	copy(out, s.batches)
	return out
}

// Items returns every recorded item in write order.
func (s *MemoryStore[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []T
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

// Watermarks returns every persisted watermark in order.
func (s *MemoryStore[T]) Watermarks() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.watermarks))
	copy(out, s.watermarks)
	return out
}

// LastWatermark returns the most recent persisted watermark, or 0.
func (s *MemoryStore[T]) LastWatermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.watermarks) == 0 {
		return 0
	}
	return s.watermarks[len(s.watermarks)-1]
}

// Closed returns how many times Close was called.
func (s *MemoryStore[T]) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reset clears recorded data and failure configuration.
func (s *MemoryStore[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
	s.watermarks = nil
	s.failAll = false
	s.failNext = 0
	s.failProgress = 0
	s.err = nil
	s.delay = 0
}

// FuncTransformer adapts plain functions to Transformer.
// A nil KeyFunc yields "", so records must carry their own key.
type FuncTransformer[T any] struct {
	KeyFunc       func(payload []byte) string
	TransformFunc func(ctx context.Context, version string, payload []byte) (T, bool, error)
}

func (f FuncTransformer[T]) Key(payload []byte) string {
	if f.KeyFunc == nil {
		return ""
	}
	return f.KeyFunc(payload)
}

func (f FuncTransformer[T]) Transform(ctx context.Context, version string, payload []byte) (T, bool, error) {
	return f.TransformFunc(ctx, version, payload)
}

// StaticFactory returns a SinkFactory that pairs t with the same store for
// every writer. Only for tests: production stores hold one connection per sink.
func StaticFactory[T any](t Transformer[T], store BatchStore[T]) SinkFactory[T] {
	return func(ctx context.Context) (Sink[T], error) {
		return NewSink(t, store), nil
	}
}

// Compile-time checks
var (
	_ BatchStore[any]  = (*MemoryStore[any])(nil)
	_ Transformer[any] = FuncTransformer[any]{}
)
