package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string
	Count int
}

func TestCacheSetGet(t *testing.T) {
	c := New(10)

	require.NoError(t, c.Set("a", payload{Name: "x", Count: 3}, time.Minute))

	got := payload{}
	require.True(t, c.Get("a", &got))
	assert.Equal(t, payload{Name: "x", Count: 3}, got)

	assert.False(t, c.Get("missing", &got))
}

func TestCacheExpiry(t *testing.T) {
	c := New(10)

	require.NoError(t, c.Set("a", payload{Name: "x"}, 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	got := payload{}
	assert.False(t, c.Get("a", &got))
	assert.Equal(t, 0, c.Len())
}

func TestCacheEviction(t *testing.T) {
	c := New(2)

	// "a" expires soonest and should be the eviction victim.
	require.NoError(t, c.Set("a", payload{}, time.Second))
	require.NoError(t, c.Set("b", payload{}, time.Hour))
	require.NoError(t, c.Set("c", payload{}, time.Hour))

	assert.Equal(t, 2, c.Len())
	got := payload{}
	assert.False(t, c.Get("a", &got))
	assert.True(t, c.Get("b", &got))
	assert.True(t, c.Get("c", &got))
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	c := New(2)

	require.NoError(t, c.Set("a", payload{Count: 1}, time.Hour))
	require.NoError(t, c.Set("b", payload{Count: 2}, time.Hour))
	require.NoError(t, c.Set("a", payload{Count: 9}, time.Hour))

	assert.Equal(t, 2, c.Len())
	got := payload{}
	require.True(t, c.Get("a", &got))
	assert.Equal(t, 9, got.Count)
}

func TestCacheSweep(t *testing.T) {
	c := New(10)
	require.NoError(t, c.Set("a", payload{}, 5*time.Millisecond))
	require.NoError(t, c.Set("b", payload{}, time.Hour))

	time.Sleep(15 * time.Millisecond)
	c.sweep()

	assert.Equal(t, 1, c.Len())
}
