// Package progress tracks and persists the resume watermark of a write pipeline.
//
// Records carry a sequence number assigned by the upstream source. Writers
// complete records out of order, so the highest completed number is not a
// safe place to resume from: a smaller number may still be in flight. Tracker
// computes the highest number below which every registered record is known
// to be durably written, and the Store implementations persist that value so
// the next run resumes from it.
//
// Available stores:
//   - MemoryStore: for tests and development
//   - RedisStore: Redis hash, one field per pipeline
//   - MongoStore: one document per pipeline
//   - PostgresStore: one row per pipeline, never moves backwards
package progress

import "sync"

// Tracker computes the safe resume point over concurrently completing
// sequence numbers.
//
// The watermark only advances past a number once nothing smaller remains
// outstanding, so it is conservative but never skips unwritten records:
//
//	Registered: 101, 102, 103 (watermark 100)
//	Complete 102 -> pending {102}, watermark 100
//	Complete 101 -> watermark 101, merge 102 -> watermark 102
//	Complete 103 -> active empty, watermark 103
//
// Tracker is safe for concurrent use. A single mutex is enough: writers call
// Complete once per record of a flushed batch, not per submission.
type Tracker struct {
	mu        sync.Mutex
	watermark int64
	max       int64
	active    map[int64]struct{}
	pending   map[int64]struct{}
}

// NewTracker creates a tracker whose watermark starts at initial, normally the
// last value persisted by a previous run.
func NewTracker(initial int64) *Tracker {
	return &Tracker{
		watermark: initial,
		max:       initial,
		active:    make(map[int64]struct{}),
		pending:   make(map[int64]struct{}),
	}
}

// Register records n as submitted but not yet written.
func (t *Tracker) Register(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[n] = struct{}{}
	if n > t.max {
		t.max = n
	}
}

// Complete records that n has been durably written.
func (t *Tracker) Complete(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.active, n)

	if n == t.watermark+1 {
		t.watermark = n
		for {
			next := t.watermark + 1
			if _, ok := t.pending[next]; !ok {
				break
			}
			delete(t.pending, next)
			t.watermark = next
		}
	} else if n > t.watermark {
		t.pending[n] = struct{}{}
	}

	// Nothing in flight: everything registered so far is written. An
	// unregistered n above max has already moved the watermark past max, and
	// the watermark never moves backwards.
	if len(t.active) == 0 {
		if t.max > t.watermark {
			t.watermark = t.max
		}
		clear(t.pending)
	}
}

// SafeResumePoint returns the highest sequence number below which all
// registered records are durably written.
func (t *Tracker) SafeResumePoint() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watermark
}

// Active returns the number of registered, not yet completed sequence numbers.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Pending returns the number of completions waiting for a gap below them to close.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
