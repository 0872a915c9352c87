package progress

import (
	"context"
	"sync"
)

// Store persists the resume watermark of a pipeline.
//
// A pipeline is identified by an id chosen by the caller (for example the
// source topic and partition). Load returns 0 and a nil error when nothing
// has been saved yet, which callers treat as "start from the beginning".
type Store interface {
	// Save records n as the watermark of pipeline id.
	Save(ctx context.Context, id string, n int64) error

	// Load returns the last saved watermark of pipeline id.
	Load(ctx context.Context, id string) (int64, error)

	// Delete removes the watermark of pipeline id.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-memory Store for testing.
//
// Data is lost on restart. Use RedisStore, MongoStore or PostgresStore for
// production workloads.
type MemoryStore struct {
	mu         sync.RWMutex
	watermarks map[string]int64
}

// NewMemoryStore creates a new in-memory progress store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		watermarks: make(map[string]int64),
	}
}

// Save records n as the watermark of pipeline id.
func (s *MemoryStore) Save(ctx context.Context, id string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.watermarks[id] = n
	return nil
}

// Load returns the last saved watermark of pipeline id, or 0 if none exists.
func (s *MemoryStore) Load(ctx context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.watermarks[id], nil
}

// Delete removes the watermark of pipeline id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.watermarks, id)
	return nil
}

// Compile-time checks
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
	_ Store = (*MongoStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
