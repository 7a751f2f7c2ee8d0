package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheBasicOperations(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	// Set + Get
	err := c.Set(ctx, "pos:agent-1", []byte(`{"x":1}`), time.Minute)
	require.NoError(t, err)

	val, err := c.Get(ctx, "pos:agent-1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"x":1}`), val)

	// Промах
	_, err = c.Get(ctx, "pos:missing")
	assert.True(t, IsCacheMiss(err))

	// Exists
	exists, err := c.Exists(ctx, "pos:agent-1")
	require.NoError(t, err)
	assert.True(t, exists)

	// Delete идемпотентен
	require.NoError(t, c.Delete(ctx, "pos:agent-1"))
	require.NoError(t, c.Delete(ctx, "pos:agent-1"))

	_, err = c.Get(ctx, "pos:agent-1")
	assert.True(t, IsCacheMiss(err))
}

func TestMemoryCacheTTL(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "pos:short", []byte("v"), 20*time.Millisecond))

	// До истечения TTL запись доступна
	_, err := c.Get(ctx, "pos:short")
	require.NoError(t, err)

	// После истечения TTL — промах
	time.Sleep(40 * time.Millisecond)
	_, err = c.Get(ctx, "pos:short")
	assert.True(t, IsCacheMiss(err))

	// Повторная запись сбрасывает TTL
	require.NoError(t, c.Set(ctx, "pos:refresh", []byte("v"), 50*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, c.Set(ctx, "pos:refresh", []byte("v"), 50*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err = c.Get(ctx, "pos:refresh")
	assert.NoError(t, err, "запись после обновления TTL должна быть жива")
}

func TestMemoryCacheScanPagination(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		key := fmt.Sprintf("pos:agent-%02d", i)
		require.NoError(t, c.Set(ctx, key, []byte("v"), time.Minute))
	}
	// Ключи другого префикса не должны попадать в выборку
	require.NoError(t, c.Set(ctx, "follow:agent-00", []byte("v"), time.Minute))

	var all []string
	var cursor uint64
	pages := 0
	for {
		keys, next, err := c.Scan(ctx, "pos:*", cursor, 10)
		require.NoError(t, err)
		all = append(all, keys...)
		pages++
		if next == 0 {
			break
		}
		cursor = next
	}

	assert.Len(t, all, 25)
	assert.Equal(t, 3, pages, "25 ключей при странице 10 дают 3 страницы")
	for _, k := range all {
		assert.Contains(t, k, "pos:")
	}
}

func TestMemoryCacheBatchOperations(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	items := map[string][]byte{
		"pos:a": []byte("1"),
		"pos:b": []byte("2"),
		"pos:c": []byte("3"),
	}
	require.NoError(t, c.BatchSet(ctx, items, time.Minute))

	got, err := c.BatchGet(ctx, []string{"pos:a", "pos:b", "pos:missing"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("1"), got["pos:a"])
	assert.Equal(t, []byte("2"), got["pos:b"])
}

func TestMemoryCacheMetrics(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, _ = c.Get(ctx, "k")       // hit
	_, _ = c.Get(ctx, "missing") // miss

	m := c.GetMetrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 0.5, m.HitRatio, 0.001)
}

func TestMemoryCacheContextCancellation(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Set(ctx, "k", []byte("v"), time.Minute)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
