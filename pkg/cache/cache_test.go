package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoCacheSetGet(t *testing.T) {
	c := NewGoCache(DefaultConfig())
	ctx := context.Background()

	err := c.Set(ctx, "audio:abc", []byte{1, 2, 3}, time.Minute)
	require.NoError(t, err)

	v, ok := c.Get(ctx, "audio:abc")
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, v)

	_, ok = c.Get(ctx, "audio:missing")
	assert.False(t, ok)
}

func TestGoCacheExpiration(t *testing.T) {
	c := NewGoCache(Config{DefaultExpiration: time.Minute, CleanupInterval: time.Minute})
	ctx := context.Background()

	err := c.Set(ctx, "short", "v", 10*time.Millisecond)
	require.NoError(t, err)

	_, ttl, ok := c.GetWithTTL(ctx, "short")
	require.True(t, ok)
	assert.LessOrEqual(t, ttl, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get(ctx, "short")
	assert.False(t, ok)
}

func TestGoCacheDeleteClear(t *testing.T) {
	c := NewGoCache(DefaultConfig())
	ctx := context.Background()

	_ = c.Set(ctx, "a", 1, time.Minute)
	_ = c.Set(ctx, "b", 2, time.Minute)

	require.NoError(t, c.Delete(ctx, "a"))
	assert.False(t, c.Exists(ctx, "a"))
	assert.True(t, c.Exists(ctx, "b"))

	require.NoError(t, c.Clear(ctx))
	assert.False(t, c.Exists(ctx, "b"))
}

func TestMemoLRU(t *testing.T) {
	m, err := NewMemo[string](2)
	require.NoError(t, err)

	m.Set("ip1", "北京 北京")
	m.Set("ip2", "上海 上海")
	m.Set("ip3", "广东 深圳") // ip1 被淘汰

	_, ok := m.Get("ip1")
	assert.False(t, ok)
	v, ok := m.Get("ip3")
	require.True(t, ok)
	assert.Equal(t, "广东 深圳", v)
	assert.Equal(t, 2, m.Len())
}
