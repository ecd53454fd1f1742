package hashring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIndexDeterministic(t *testing.T) {
	r := New(5)
	for _, key := range []string{"a", "b", "c", "user:1000", ""} {
		first := r.GetIndex(key)
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, r.GetIndex(key), "key %q", key)
		}
		assert.GreaterOrEqual(t, first, 0, "key %q", key)
		assert.Less(t, first, 5, "key %q", key)
	}
}

func TestGetIndexIndependentOfConstructionOrder(t *testing.T) {
	r1 := New(4)
	r2 := New(4) // same n, rebuilt independently: must agree
	for _, key := range []string{"k1", "k2", "k3", "k4", "k5"} {
		assert.Equal(t, r1.GetIndex(key), r2.GetIndex(key), "key %q", key)
	}
}

func TestDistributionIsAsymptoticallyUniform(t *testing.T) {
	const n = 8
	r := New(n)
	counts := make([]int, n)
	const samples = 20000
	for i := 0; i < samples; i++ {
		idx := r.GetIndex(keyFor(i))
		counts[idx]++
	}
	expected := samples / n
	for i, c := range counts {
		assert.GreaterOrEqual(t, c, expected/2, "index %d", i)
		assert.LessOrEqual(t, c, expected*2, "index %d", i)
	}
}

func keyFor(i int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	b := []byte{alphabet[i%36], alphabet[(i/36)%36], alphabet[(i/1296)%36], 'k'}
	return string(b)
}
