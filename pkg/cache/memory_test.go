package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

func TestMemoryCacheRoundTripsStructs(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	in := []point{{"2024-03-31", 1.5}, {"2024-06-30", 2}}
	require.NoError(t, c.Set(ctx, Key("fund", "AAA", "equity"), in, time.Minute))

	var out []point
	require.NoError(t, c.Get(ctx, "fund:AAA:equity", &out))
	assert.Equal(t, in, out)

	var s string
	require.NoError(t, c.Set(ctx, "raw", "plain", 0))
	require.NoError(t, c.Get(ctx, "raw", &s))
	assert.Equal(t, "plain", s)
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	var v int
	assert.ErrorIs(t, c.Get(ctx, "nope", &v), ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "short", 1, time.Nanosecond))
	time.Sleep(2 * time.Millisecond)
	assert.ErrorIs(t, c.Get(ctx, "short", &v), ErrCacheMiss)
	ok, err := c.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "fund:AAA", 1, 0))
	require.NoError(t, c.Set(ctx, "fund:BBB", 2, 0))
	require.NoError(t, c.Set(ctx, "other", 3, 0))
	require.NoError(t, c.DeleteByPattern(ctx, Pattern("fund:")))

	ok, _ := c.Exists(ctx, "fund:AAA", "fund:BBB")
	assert.False(t, ok)
	ok, _ = c.Exists(ctx, "other")
	assert.True(t, ok)
}

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryCache(WithMemoryMaxSize(2))
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", 1, 0))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "b", 2, 0))
	time.Sleep(time.Millisecond)
	var v int
	require.NoError(t, c.Get(ctx, "a", &v))
	time.Sleep(time.Millisecond)
	require.NoError(t, c.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, c.Len())
	assert.ErrorIs(t, c.Get(ctx, "b", &v), ErrCacheMiss)
	assert.NoError(t, c.Get(ctx, "a", &v))
}
