package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBoundedBridgeDelivery(t *testing.T) {
	b := New[int](4)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer b.Complete()
		for i := 1; i <= 10; i++ {
			if err := b.Emit(context.Background(), i); err != nil {
				t.Errorf("Emit(%d) failed: %v", i, err)
				return
			}
		}
	}()

	var got []int
	b.Allow(4)
	for v := range b.Values() {
		got = append(got, v)
		b.Allow(1)
	}
	wg.Wait()

	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected values (-want +got):\n%s", diff)
	}
}

func TestBoundedBridgeBlocksWithoutPermits(t *testing.T) {
	b := New[string](2)

	emitted := make(chan error, 1)
	go func() {
		emitted <- b.Emit(context.Background(), "claim-1")
	}()

	select {
	case err := <-emitted:
		t.Fatalf("expected Emit to block without permits, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	b.Allow(1)

	select {
	case err := <-emitted:
		if err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Emit still blocked after Allow")
	}

	if v := <-b.Values(); v != "claim-1" {
		t.Errorf("expected claim-1, got %s", v)
	}
}

func TestBoundedBridgePermits(t *testing.T) {
	b := New[int](3)

	t.Run("capped at capacity", func(t *testing.T) {
		b.Allow(10)
		if got := b.Permits(); got != 3 {
			t.Errorf("expected 3 permits, got %d", got)
		}
	})

	t.Run("non-positive ignored", func(t *testing.T) {
		b.Allow(0)
		b.Allow(-2)
		if got := b.Permits(); got != 3 {
			t.Errorf("expected 3 permits, got %d", got)
		}
	})

	t.Run("emit consumes a permit", func(t *testing.T) {
		if err := b.Emit(context.Background(), 1); err != nil {
			t.Fatalf("Emit failed: %v", err)
		}
		if got := b.Permits(); got != 2 {
			t.Errorf("expected 2 permits, got %d", got)
		}
	})

	t.Run("minimum capacity", func(t *testing.T) {
		if got := New[int](0).Capacity(); got != 1 {
			t.Errorf("expected capacity 1, got %d", got)
		}
	})
}

func TestBoundedBridgeComplete(t *testing.T) {
	t.Run("drains emitted values then closes", func(t *testing.T) {
		b := New[int](2)
		b.Allow(2)
		b.Emit(context.Background(), 1)
		b.Emit(context.Background(), 2)
		b.Complete()

		var got []int
		for v := range b.Values() {
			got = append(got, v)
		}
		if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
			t.Errorf("unexpected values (-want +got):\n%s", diff)
		}
	})

	t.Run("emit after complete", func(t *testing.T) {
		b := New[int](1)
		b.Complete()
		b.Complete()
		if err := b.Emit(context.Background(), 1); !errors.Is(err, ErrCompleted) {
			t.Errorf("expected ErrCompleted, got %v", err)
		}
	})

	t.Run("complete wakes blocked producer", func(t *testing.T) {
		b := New[int](1)
		emitted := make(chan error, 1)
		go func() {
			emitted <- b.Emit(context.Background(), 1)
		}()
		time.Sleep(20 * time.Millisecond)
		b.Complete()

		select {
		case err := <-emitted:
			if !errors.Is(err, ErrCompleted) {
				t.Errorf("expected ErrCompleted, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Emit still blocked after Complete")
		}
	})
}

func TestBoundedBridgeContextCancel(t *testing.T) {
	b := New[int](1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := b.Emit(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}
