package progress

import (
	"math/rand"
	"sync"
	"testing"
)

func TestTrackerContiguousMerge(t *testing.T) {
	tr := NewTracker(100)
	tr.Register(101)
	tr.Register(102)
	tr.Register(103)

	steps := []struct {
		name     string
		register int64
		complete int64
		want     int64
	}{
		{name: "gap below holds watermark", complete: 102, want: 100},
		{name: "closing gap merges pending", complete: 101, want: 102},
		{name: "contiguous advance", register: 104, complete: 103, want: 103},
		{name: "active empty", complete: 104, want: 104},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			if step.register != 0 {
				tr.Register(step.register)
			}
			tr.Complete(step.complete)
			if got := tr.SafeResumePoint(); got != step.want {
				t.Errorf("expected watermark %d, got %d", step.want, got)
			}
		})
	}

	if tr.Pending() != 0 {
		t.Errorf("expected no pending completions, got %d", tr.Pending())
	}
}

func TestTrackerEmptyJump(t *testing.T) {
	tr := NewTracker(100)
	tr.Register(101)
	tr.Register(102)

	tr.Complete(102)
	if got := tr.SafeResumePoint(); got != 100 {
		t.Fatalf("expected watermark 100 while 101 is active, got %d", got)
	}

	tr.Complete(101)
	if got := tr.SafeResumePoint(); got != 102 {
		t.Errorf("expected watermark 102, got %d", got)
	}
	if tr.Active() != 0 {
		t.Errorf("expected no active numbers, got %d", tr.Active())
	}
}

func TestTrackerSparseSequence(t *testing.T) {
	// Upstream sequence numbers need not be dense.
	tr := NewTracker(0)
	tr.Register(10)
	tr.Register(20)

	tr.Complete(10)
	if got := tr.SafeResumePoint(); got != 0 {
		t.Errorf("expected watermark 0 while 20 is active, got %d", got)
	}

	tr.Complete(20)
	if got := tr.SafeResumePoint(); got != 20 {
		t.Errorf("expected watermark 20, got %d", got)
	}
}

func TestTrackerNeverSkipsActive(t *testing.T) {
	tr := NewTracker(0)
	for n := int64(1); n <= 1000; n++ {
		tr.Register(n)
	}

	// Leave 500 outstanding and complete everything else concurrently.
	var wg sync.WaitGroup
	order := rand.Perm(1000)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(order); i += 8 {
				n := int64(order[i] + 1)
				if n == 500 {
					continue
				}
				tr.Complete(n)
			}
		}(w)
	}
	wg.Wait()

	if got := tr.SafeResumePoint(); got != 499 {
		t.Fatalf("expected watermark 499, got %d", got)
	}

	tr.Complete(500)
	if got := tr.SafeResumePoint(); got != 1000 {
		t.Errorf("expected watermark 1000, got %d", got)
	}
}

func TestTrackerStaleCompletion(t *testing.T) {
	tr := NewTracker(50)
	tr.Register(51)
	tr.Register(52)

	// A number at or below the watermark is ignored for merging.
	tr.Complete(40)
	if got := tr.SafeResumePoint(); got != 50 {
		t.Errorf("expected watermark 50, got %d", got)
	}
	if tr.Pending() != 0 {
		t.Errorf("expected no pending completions, got %d", tr.Pending())
	}
	if tr.Active() != 2 {
		t.Errorf("expected 2 active numbers, got %d", tr.Active())
	}
}

func TestTrackerUnregisteredCompletion(t *testing.T) {
	tr := NewTracker(50)
	tr.Register(51)
	tr.Complete(51)

	// 52 was never registered; completing it must not pull the watermark
	// back to the highest registered number.
	tr.Complete(52)
	if got := tr.SafeResumePoint(); got != 52 {
		t.Errorf("expected watermark 52, got %d", got)
	}

	tr.Register(53)
	tr.Complete(53)
	if got := tr.SafeResumePoint(); got != 53 {
		t.Errorf("expected watermark 53, got %d", got)
	}
}

func BenchmarkTrackerComplete(b *testing.B) {
	tr := NewTracker(0)
	for i := 0; i < b.N; i++ {
		n := int64(i + 1)
		tr.Register(n)
		tr.Complete(n)
	}
}
