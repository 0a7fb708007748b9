package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissThenPutThenHit(t *testing.T) {
	c := New("model-a", 10)

	_, ok := c.Get("hello")
	require.False(t, ok)

	c.Put("hello", []float32{1, 2, 3})
	vec, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, vec)
}

func TestCacheNamespacedByModel(t *testing.T) {
	a := New("model-a", 10)
	b := New("model-b", 10)

	a.Put("text", []float32{1})
	_, ok := b.Get("text")
	assert.False(t, ok, "different models must not share cache entries even for identical text")
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New("model-a", 2)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Put("c", []float32{3}) // evicts "a"

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestCacheDefaultCapacity(t *testing.T) {
	c := New("model-a", 0)
	for i := 0; i < DefaultCapacity+10; i++ {
		c.Put(fmt.Sprintf("text-%d", i), []float32{float32(i)})
	}
	assert.Equal(t, DefaultCapacity, c.Len())
}
