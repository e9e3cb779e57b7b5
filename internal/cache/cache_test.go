package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	mc, err := NewMemoryCache(2, time.Minute)
	require.NoError(t, err)
	defer mc.Close()

	_, ok := mc.Get("a")
	assert.False(t, ok)

	mc.Set("a", []byte("1"))
	data, ok := mc.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), data)

	// Least recently used entry is evicted
	mc.Set("b", []byte("2"))
	mc.Set("c", []byte("3"))
	_, ok = mc.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, mc.Len())

	assert.Equal(t, uint64(1), mc.Hits())
	assert.Equal(t, uint64(2), mc.Misses())
}

func TestMemoryCache_Expiry(t *testing.T) {
	mc, err := NewMemoryCache(10, 20*time.Millisecond)
	require.NoError(t, err)
	defer mc.Close()

	mc.Set("a", []byte("1"))
	mc.Set("b", []byte("2"))
	time.Sleep(30 * time.Millisecond)

	_, ok := mc.Get("a")
	assert.False(t, ok)

	// The cleanup loop removes the entry that was never read
	assert.Eventually(t, func() bool { return mc.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryCache_InvalidSize(t *testing.T) {
	_, err := NewMemoryCache(0, time.Second)
	assert.Error(t, err)
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	mc, err := NewMemoryCache(1, time.Second)
	require.NoError(t, err)
	mc.Close()
	mc.Close()
}

func TestNoopCache(t *testing.T) {
	var c Cache = NewNoopCache()
	c.Set("a", []byte("1"))
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Close()
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey("predict", json.RawMessage(`{"b": [1, 2], "a": [3]}`))
	b := GenerateKey("predict", json.RawMessage(`{"a":[3],"b":[1,2]}`))
	assert.Equal(t, a, b)
	assert.Len(t, a, len("predict:")+64)

	assert.NotEqual(t, a, GenerateKey("other", json.RawMessage(`{"a":[3],"b":[1,2]}`)))
	assert.NotEqual(t, GenerateKey("tag", json.RawMessage(`[["A"]]`)), GenerateKey("tag", json.RawMessage(`[["a"]]`)))
	assert.Equal(t, GenerateKey("m", nil), GenerateKey("m", json.RawMessage("  ")))
}

func TestPolicy(t *testing.T) {
	p := NewPolicy([]string{"random"})
	assert.False(t, p.IsCacheable("random"))
	assert.True(t, p.IsCacheable("predict"))

	var none *Policy
	assert.True(t, none.IsCacheable("random"))
}
