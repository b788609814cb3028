package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) *TTL[int] {
	t.Helper()
	c := NewTTL[int](context.Background(), ttl, time.Hour)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestTTL_SetGet(t *testing.T) {
	c := newTestCache(t, time.Minute)

	created, err := c.Set("unread:a:b", 3)
	require.NoError(t, err)
	assert.True(t, created)

	v, ok := c.Get("unread:a:b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	// Overwrite is not a creation
	created, err = c.Set("unread:a:b", 4)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestTTL_Expiry(t *testing.T) {
	c := newTestCache(t, 20*time.Millisecond)

	_, err := c.Set("convlist:a", 1)
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, ok := c.Get("convlist:a")
	assert.False(t, ok)
	assert.Zero(t, c.Size())
}

func TestTTL_Delete(t *testing.T) {
	c := newTestCache(t, time.Minute)

	_, err := c.Set("k", 1)
	require.NoError(t, err)

	existed, err := c.Delete("k")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete("k")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTTL_EmptyKeyRejected(t *testing.T) {
	c := newTestCache(t, time.Minute)

	_, err := c.Set("", 1)
	assert.Error(t, err)

	_, err = c.Delete("")
	assert.Error(t, err)
}

func TestTTL_Stats(t *testing.T) {
	c := newTestCache(t, time.Minute)

	_, _ = c.Set("k", 1)
	_, _ = c.Get("k")
	_, _ = c.Get("missing")

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(1), snap.Sets)
	assert.InDelta(t, 0.5, c.Stats().HitRate(), 0.001)
}

func TestTTL_BackgroundSweep(t *testing.T) {
	c := NewTTL[int](context.Background(), 10*time.Millisecond, 20*time.Millisecond)
	defer func() { _ = c.Close() }()

	_, _ = c.Set("k", 1)
	time.Sleep(60 * time.Millisecond)

	assert.Zero(t, c.Size())
	assert.GreaterOrEqual(t, c.Stats().Snapshot().Evictions, int64(1))
}

func TestTTL_CloseIdempotent(t *testing.T) {
	c := NewTTL[int](context.Background(), time.Minute, time.Hour)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "convlist:u1", ConversationListKey("u1"))
	assert.Equal(t, "grouplist:u1", GroupListKey("u1"))
	assert.Equal(t, "unread:u1:u2", UnreadCountKey("u1", "u2"))
}
