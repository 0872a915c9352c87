package partition

import "errors"

// ErrNoPartitions is returned when a KeyPartitioner is built from an empty set.
var ErrNoPartitions = errors.New("partition: at least one partition is required")

// KeyPartitioner routes keys onto a fixed, ordered set of partitions.
//
// The partition set is copied at construction and never changes, so a
// KeyPartitioner is read-only afterwards and safe for concurrent use without
// locking (provided the underlying Partitioner is).
type KeyPartitioner[P any] struct {
	partitions  []P
	partitioner Partitioner
}

// NewKeyPartitioner binds the default HashPartitioner to partitions.
func NewKeyPartitioner[P any](partitions []P) (*KeyPartitioner[P], error) {
	return NewKeyPartitionerWith(NewHashPartitioner(), partitions)
}

// NewKeyPartitionerWith binds a specific Partitioner to partitions.
// A nil partitioner falls back to HashPartitioner.
func NewKeyPartitionerWith[P any](p Partitioner, partitions []P) (*KeyPartitioner[P], error) {
	if len(partitions) == 0 {
		return nil, ErrNoPartitions
	}
	if p == nil {
		p = NewHashPartitioner()
	}
	owned := make([]P, len(partitions))
	copy(owned, partitions)
	return &KeyPartitioner[P]{
		partitions:  owned,
		partitioner: p,
	}, nil
}

// Index returns the position of key's partition in the ordered set.
func (k *KeyPartitioner[P]) Index(key string) int {
	return k.partitioner.Partition(key, len(k.partitions))
}

// PartitionFor returns the partition owning key.
func (k *KeyPartitioner[P]) PartitionFor(key string) P {
	return k.partitions[k.Index(key)]
}

// Len returns the number of partitions.
func (k *KeyPartitioner[P]) Len() int {
	return len(k.partitions)
}
