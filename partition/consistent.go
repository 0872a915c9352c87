package partition

import (
	"cmp"
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultReplicas is the number of ring points per partition used when
// NewConsistentHashPartitioner is given a non-positive count.
const DefaultReplicas = 100

// vnode is one point on the ring.
type vnode struct {
	hash      uint64
	partition int
}

// ConsistentHashPartitioner places keys on a hash ring of virtual nodes.
//
// Growing from n to n+1 writers moves about 1/(n+1) of the keys, where
// HashPartitioner would move nearly all of them. The price is uniformity:
// with DefaultReplicas the busiest writer can own several percent more keys
// than the idlest, well outside HashPartitioner's 1% bound. Prefer it only
// when the writer count changes between runs and key placement should
// survive the change.
//
// The ring is built on first use and rebuilt whenever the partition count
// changes. It is safe for concurrent use.
type ConsistentHashPartitioner struct {
	replicas int

	mu   sync.RWMutex
	ring []vnode
	size int
}

// NewConsistentHashPartitioner creates a partitioner with replicas ring points
// per partition. More replicas even out the load at the cost of memory.
func NewConsistentHashPartitioner(replicas int) *ConsistentHashPartitioner {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	return &ConsistentHashPartitioner{replicas: replicas}
}

// Partition returns the owner of the first ring point at or after key's
// xxhash64. Returns 0 for numPartitions <= 0.
func (p *ConsistentHashPartitioner) Partition(key string, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	h := xxhash.Sum64String(key)

	p.mu.RLock()
	if p.size == numPartitions {
		owner := lookup(p.ring, h)
		p.mu.RUnlock()
		return owner
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size != numPartitions {
		p.ring = buildRing(numPartitions, p.replicas)
		p.size = numPartitions
	}
	return lookup(p.ring, h)
}

func buildRing(partitions, replicas int) []vnode {
	ring := make([]vnode, 0, partitions*replicas)
	seen := make(map[uint64]struct{}, partitions*replicas)
	for i := 0; i < partitions; i++ {
		for j := 0; j < replicas; j++ {
			h := xxhash.Sum64String(strconv.Itoa(i) + "-" + strconv.Itoa(j))
			// First writer to claim a colliding point keeps it.
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			ring = append(ring, vnode{hash: h, partition: i})
		}
	}
	slices.SortFunc(ring, func(a, b vnode) int { return cmp.Compare(a.hash, b.hash) })
	return ring
}

// lookup wraps past the last point to the first.
func lookup(ring []vnode, h uint64) int {
	i, _ := slices.BinarySearchFunc(ring, h, func(v vnode, t uint64) int { return cmp.Compare(v.hash, t) })
	if i == len(ring) {
		i = 0
	}
	return ring[i].partition
}

var _ Partitioner = (*ConsistentHashPartitioner)(nil)
