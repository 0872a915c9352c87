package claimwriter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// claim is the storage item used throughout the tests. Payloads are
// "key:value"; the values "skip" and "bad" are skipped and fail to transform.
type claim struct {
	Key   string
	Value string
}

var errBadPayload = errors.New("bad payload")

func claimTransformer() FuncTransformer[claim] {
	return FuncTransformer[claim]{
		KeyFunc: func(p []byte) string {
			k, _, _ := strings.Cut(string(p), ":")
			return k
		},
		TransformFunc: func(ctx context.Context, version string, p []byte) (claim, bool, error) {
			k, v, _ := strings.Cut(string(p), ":")
			switch v {
			case "skip":
				return claim{}, false, nil
			case "bad":
				return claim{}, false, errBadPayload
			}
			return claim{Key: k, Value: v}, true, nil
		},
	}
}

func rec(seq int64, payload string) Record {
	return Record{Sequence: seq, Payload: []byte(payload)}
}

func entry(seq int64, payload string) Entry {
	return Entry{Version: "v1", Record: rec(seq, payload)}
}

func sequences(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Sequence()
	}
	return out
}

// results collects BatchResults delivered to WithOnBatch.
type results struct {
	mu  sync.Mutex
	all []BatchResult
}

func (r *results) add(res BatchResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, res)
}

func (r *results) get() []BatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BatchResult, len(r.all))
	copy(out, r.all)
	return out
}

func testOptions(extra ...Option) []Option {
	return append([]Option{WithMetrics(false), WithTracing(false), WithProgressInterval(0)}, extra...)
}

// storeFactory creates a separate MemoryStore per sink; stores[i] backs writer i
// and the last one backs the progress writer.
type storeFactory struct {
	mu     sync.Mutex
	stores []*MemoryStore[claim]
	failAt int
}

func (f *storeFactory) create(ctx context.Context) (Sink[claim], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.stores)+1 == f.failAt {
		return nil, ErrInjected
	}
	s := NewMemoryStore[claim]()
	f.stores = append(f.stores, s)
	return NewSink[claim](claimTransformer(), s), nil
}

func (f *storeFactory) store(i int) *MemoryStore[claim] {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stores[i]
}

func (f *storeFactory) items(writers int) []claim {
	var out []claim
	for i := 0; i < writers; i++ {
		out = append(out, f.store(i).Items()...)
	}
	return out
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
