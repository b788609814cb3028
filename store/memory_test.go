package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
)

func TestMemory_Profiles(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.GetProfile(ctx, "ghost")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	m.AddProfile(Profile{ID: "u1", DisplayName: "Ada", Username: "ada"})

	p, err := m.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName)
}

func TestMemory_Membership(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.IsMember(ctx, "g1", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	m.AddMember("g1", "u1")
	ok, _ = m.IsMember(ctx, "g1", "u1")
	assert.True(t, ok)

	m.RemoveMember("g1", "u1")
	ok, _ = m.IsMember(ctx, "g1", "u1")
	assert.False(t, ok)
}

func TestMemory_PrivateCounters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Missing counter reads as zero
	n, err := m.PrivateCount(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, m.SetPrivateCount(ctx, "a", "b", 3))
	n, _ = m.PrivateCount(ctx, "a", "b")
	assert.Equal(t, 3, n)

	// Counter is per ordered pair
	n, _ = m.PrivateCount(ctx, "b", "a")
	assert.Zero(t, n)

	// Negative counts are rejected
	assert.Error(t, m.SetPrivateCount(ctx, "a", "b", -1))
}

func TestMemory_ReadFlags(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.FlagUnread(ctx, "g1", "m1", "u1"))
	require.NoError(t, m.FlagUnread(ctx, "g1", "m2", "u1"))
	require.NoError(t, m.FlagUnread(ctx, "g1", "m2", "u2"))

	n, err := m.CountUnreadFlags(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, _ = m.CountUnreadFlags(ctx, "u2", "g1")
	assert.Equal(t, 1, n)

	require.NoError(t, m.ClearFlags(ctx, []string{"m1"}, "u1"))
	n, _ = m.CountUnreadFlags(ctx, "u1", "g1")
	assert.Equal(t, 1, n)

	// Re-flagging a read message must not resurrect it
	require.NoError(t, m.FlagUnread(ctx, "g1", "m1", "u1"))
	n, _ = m.CountUnreadFlags(ctx, "u1", "g1")
	assert.Equal(t, 1, n)
}

func TestMemory_ClearFlags_Idempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.FlagUnread(ctx, "g1", "m1", "u1"))
	require.NoError(t, m.ClearFlags(ctx, []string{"m1"}, "u1"))
	require.NoError(t, m.ClearFlags(ctx, []string{"m1"}, "u1"))

	n, _ := m.CountUnreadFlags(ctx, "u1", "g1")
	assert.Zero(t, n)
}

func TestMemory_MarkMessagesRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.MarkMessagesRead(ctx, []string{"m1", "m2"}))
	assert.True(t, m.IsMessageRead("m1"))
	assert.True(t, m.IsMessageRead("m2"))
	assert.False(t, m.IsMessageRead("m3"))

	// Marking again is a no-op
	require.NoError(t, m.MarkMessagesRead(ctx, []string{"m1"}))
	assert.True(t, m.IsMessageRead("m1"))
}
