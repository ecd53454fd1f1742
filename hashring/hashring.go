// Package hashring implements the consistent-hash pool of §4.F: routing a
// key to an index in a client list via a hash ring, deterministic and
// independent of insertion order. Uses xxhash (the pack's only real
// hash-ring-grade hash function, grounded on packetd-packetd's
// github.com/cespare/xxhash/v2 dependency) instead of a hand-rolled hash.
package hashring

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

const defaultReplicas = 160

// Ring maps keys to one of n fixed index positions via a consistent-hash
// ring built once over [0, n). Callers handle an unavailable index by
// falling back to clientlist.List.GetAvailable; the ring itself never
// looks at liveness.
type Ring struct {
	replicas int
	points   []uint64 // sorted virtual-node hashes
	owners   map[uint64]int
}

// New builds a ring over n indices with the default virtual-node count.
func New(n int) *Ring { return NewWithReplicas(n, defaultReplicas) }

// NewWithReplicas builds a ring over n indices, each represented by
// replicas virtual nodes for more uniform distribution.
func NewWithReplicas(n, replicas int) *Ring {
	r := &Ring{
		replicas: replicas,
		owners:   make(map[uint64]int, n*replicas),
	}
	for i := 0; i < n; i++ {
		for v := 0; v < replicas; v++ {
			h := virtualNodeHash(i, v)
			r.points = append(r.points, h)
			r.owners[h] = i
		}
	}
	sort.Slice(r.points, func(a, b int) bool { return r.points[a] < r.points[b] })
	return r
}

func virtualNodeHash(index, virtual int) uint64 {
	var buf [24]byte
	b := strconv.AppendInt(buf[:0], int64(index), 10)
	b = append(b, '#')
	b = strconv.AppendInt(b, int64(virtual), 10)
	return xxhash.Sum64(b)
}

// GetIndex returns the ring index key hashes to. Deterministic for a given
// (key, n) pair regardless of host liveness or insertion order.
func (r *Ring) GetIndex(key string) int {
	if len(r.points) == 0 {
		return -1
	}
	h := xxhash.Sum64String(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[r.points[i]]
}
