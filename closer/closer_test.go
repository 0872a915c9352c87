package closer

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type closeFunc func() error

func (f closeFunc) Close() error { return f() }

func TestMultiCloserRunsEveryAction(t *testing.T) {
	first := errors.New("second action failed")
	second := errors.New("fourth action failed")

	var ran []int
	var mc MultiCloser
	mc.Register(func() error { ran = append(ran, 1); return nil })
	mc.Register(func() error { ran = append(ran, 2); return first })
	mc.Register(func() error { ran = append(ran, 3); return nil })
	mc.RegisterCloser(closeFunc(func() error { ran = append(ran, 4); return second }))
	mc.Register(func() error { ran = append(ran, 5); return nil })

	err := mc.Finish()

	if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, ran); diff != "" {
		t.Errorf("actions ran out of order (-want +got):\n%s", diff)
	}

	var se *SuppressedError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SuppressedError, got %T: %v", err, err)
	}
	if se.Primary() != first {
		t.Errorf("expected primary %v, got %v", first, se.Primary())
	}
	if got := se.Suppressed(); len(got) != 1 || got[0] != second {
		t.Errorf("expected suppressed [%v], got %v", second, got)
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Error("expected errors.Is to match primary and suppressed errors")
	}
}

func TestMultiCloserResults(t *testing.T) {
	t.Run("all succeed", func(t *testing.T) {
		var mc MultiCloser
		mc.Register(func() error { return nil })
		if err := mc.Finish(); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("single failure is returned as is", func(t *testing.T) {
		boom := errors.New("boom")
		var mc MultiCloser
		mc.Register(func() error { return nil })
		mc.Register(func() error { return boom })
		if err := mc.Finish(); err != boom {
			t.Errorf("expected %v, got %v", boom, err)
		}
	})

	t.Run("finish clears the sequence", func(t *testing.T) {
		calls := 0
		var mc MultiCloser
		mc.Register(func() error { calls++; return nil })
		mc.Finish()
		mc.Finish()
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
		if mc.Len() != 0 {
			t.Errorf("expected empty sequence, got %d", mc.Len())
		}
	})

	t.Run("nil actions are ignored", func(t *testing.T) {
		var mc MultiCloser
		mc.Register(nil)
		mc.RegisterCloser(nil)
		if mc.Len() != 0 {
			t.Errorf("expected empty sequence, got %d", mc.Len())
		}
	})
}

func TestSuppress(t *testing.T) {
	a, b, c := errors.New("a"), errors.New("b"), errors.New("c")

	if err := Suppress(nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}

	err := Suppress(nil, a, b, nil, c)
	if got, want := err.Error(), "a (suppressed: b; c)"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
