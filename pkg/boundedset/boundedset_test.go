package boundedset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeepsKLowestKeys(t *testing.T) {
	b := New[string](3)
	b.Push("a", 5)
	b.Push("b", 1)
	b.Push("c", 9)
	b.Push("d", 2)
	b.Push("e", 7)

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"b", "d", "a"}, b.Ascending())
}

func TestAscendingOrder(t *testing.T) {
	b := New[int](5)
	for _, v := range []float64{3, 1, 4, 1, 5} {
		b.Push(int(v), v)
	}
	out := b.Ascending()
	for i := 1; i < len(out); i++ {
		assert.LessOrEqual(t, out[i-1], out[i])
	}
}

func TestStableTieBreakOnEviction(t *testing.T) {
	b := New[string](2)
	b.Push("first", 1)
	b.Push("second", 1)
	b.Push("third", 1) // should evict "third" (latest insert on tie), keep "first"

	result := b.Ascending()
	assert.Equal(t, 2, len(result))
	assert.Contains(t, result, "first")
	assert.NotContains(t, result, "third")
}

func TestZeroCapacityKeepsNothing(t *testing.T) {
	b := New[int](0)
	b.Push(1, 1.0)
	assert.Equal(t, 0, b.Len())
}

func TestUnboundedWhenCapacityNegative(t *testing.T) {
	// Eviction only runs for capacity >= 0, so a negative capacity means
	// "no bound" rather than "keep nothing".
	b := New[int](-1)
	for i := 0; i < 10; i++ {
		b.Push(i, float64(i))
	}
	assert.Equal(t, 10, b.Len())
}
