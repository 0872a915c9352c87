package partition

import (
	"fmt"
	"testing"
	"time"

	"syreclabs.com/go/faker"
)

const uniformityKeys = 100_000

func init() {
	faker.Seed(time.Now().UnixNano())
}

// spread returns (max-min)/total for the per-partition counts.
func spread(counts []int) float64 {
	lo, hi, total := counts[0], counts[0], 0
	for _, c := range counts {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
		total += c
	}
	return float64(hi-lo) / float64(total)
}

func TestHashPartitionerUniformity(t *testing.T) {
	p := NewHashPartitioner()

	for n := 5; n <= 25; n++ {
		t.Run(fmt.Sprintf("sequential/%d", n), func(t *testing.T) {
			counts := make([]int, n)
			base := 100_000_000_000
			for i := 0; i < uniformityKeys; i++ {
				counts[p.Partition(fmt.Sprintf("%d", base+i), n)]++
			}
			if s := spread(counts); s > 0.01 {
				t.Errorf("expected spread <= 0.01, got %.4f (%v)", s, counts)
			}
		})

		t.Run(fmt.Sprintf("random/%d", n), func(t *testing.T) {
			counts := make([]int, n)
			for i := 0; i < uniformityKeys; i++ {
				key := faker.Lorem().Characters(faker.RandomInt(5, 15))
				counts[p.Partition(key, n)]++
			}
			if s := spread(counts); s > 0.01 {
				t.Errorf("expected spread <= 0.01, got %.4f (%v)", s, counts)
			}
		})
	}
}

func TestHashPartitionerDeterministic(t *testing.T) {
	p := NewHashPartitioner()

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("claim-%06d", i)
		first := p.Partition(key, 7)
		if first < 0 || first >= 7 {
			t.Fatalf("partition %d out of range for %q", first, key)
		}
		if again := NewHashPartitioner().Partition(key, 7); again != first {
			t.Fatalf("expected %q to route to %d, got %d", key, first, again)
		}
	}

	t.Run("non-positive partition count", func(t *testing.T) {
		if got := p.Partition("claim", 0); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
		if got := p.Partition("claim", -3); got != 0 {
			t.Errorf("expected 0, got %d", got)
		}
	})
}

func TestKeyPartitioner(t *testing.T) {
	t.Run("empty partition set", func(t *testing.T) {
		if _, err := NewKeyPartitioner([]string{}); err != ErrNoPartitions {
			t.Fatalf("expected ErrNoPartitions, got %v", err)
		}
	})

	t.Run("PartitionFor matches Index", func(t *testing.T) {
		names := []string{"w0", "w1", "w2", "w3", "w4"}
		kp, err := NewKeyPartitioner(names)
		if err != nil {
			t.Fatalf("NewKeyPartitioner failed: %v", err)
		}
		if kp.Len() != 5 {
			t.Errorf("expected 5 partitions, got %d", kp.Len())
		}
		for i := 0; i < 500; i++ {
			key := fmt.Sprintf("%d", 9_000_000+i)
			if got, want := kp.PartitionFor(key), names[kp.Index(key)]; got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		}
	})

	t.Run("partition set is copied", func(t *testing.T) {
		names := []string{"a", "b"}
		kp, _ := NewKeyPartitioner(names)
		before := kp.PartitionFor("claim-1")
		names[0], names[1] = "x", "y"
		if after := kp.PartitionFor("claim-1"); after != before {
			t.Errorf("expected %s after caller mutation, got %s", before, after)
		}
	})

	t.Run("nil partitioner falls back to hash", func(t *testing.T) {
		kp, err := NewKeyPartitionerWith[int](nil, []int{0, 1, 2})
		if err != nil {
			t.Fatalf("NewKeyPartitionerWith failed: %v", err)
		}
		want := NewHashPartitioner().Partition("claim-9", 3)
		if got := kp.PartitionFor("claim-9"); got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	})
}

func TestConsistentHashPartitioner(t *testing.T) {
	p := NewConsistentHashPartitioner(0)

	t.Run("deterministic", func(t *testing.T) {
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("claim-%d", i)
			if p.Partition(key, 8) != p.Partition(key, 8) {
				t.Fatalf("expected stable partition for %q", key)
			}
		}
	})

	t.Run("growing moves a minority of keys", func(t *testing.T) {
		const keys = 10_000
		eight := NewConsistentHashPartitioner(0)
		nine := NewConsistentHashPartitioner(0)
		moved := 0
		for i := 0; i < keys; i++ {
			key := fmt.Sprintf("%d", 5_000_000+i)
			before := eight.Partition(key, 8)
			after := nine.Partition(key, 9)
			if before != after {
				moved++
			}
		}
		// Roughly 1/9 of keys should move; modulo hashing would move ~8/9.
		if moved > keys/4 {
			t.Errorf("expected fewer than %d keys to move, got %d", keys/4, moved)
		}
	})

	t.Run("roughly uniform", func(t *testing.T) {
		// The ring only approximates uniformity; 100 replicas keep the spread
		// well under this bound but far above the modulo partitioner's 1%.
		counts := make([]int, 8)
		for i := 0; i < uniformityKeys; i++ {
			counts[p.Partition(faker.Lorem().Characters(faker.RandomInt(5, 15)), 8)]++
		}
		if s := spread(counts); s > 0.15 {
			t.Errorf("expected spread <= 0.15, got %.4f (%v)", s, counts)
		}
	})

	t.Run("in range", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			got := p.Partition(faker.Lorem().Characters(10), 13)
			if got < 0 || got >= 13 {
				t.Fatalf("partition %d out of range", got)
			}
		}
	})
}
