package feed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_DeliversMatchingRecords(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var got [][]byte
	h, err := m.Open(ctx, Filter{Collection: CollectionPrivateMessages, Key: "alice"}, func(data []byte) {
		got = append(got, data)
	})
	require.NoError(t, err)
	defer h.Close()

	m.Emit(CollectionPrivateMessages, "alice", []byte("one"))
	m.Emit(CollectionPrivateMessages, "bob", []byte("other recipient"))
	m.Emit(CollectionReadStatus, "alice", []byte("other collection"))
	m.Emit(CollectionPrivateMessages, "alice", []byte("two"))

	require.Len(t, got, 2)
	assert.Equal(t, "one", string(got[0]))
	assert.Equal(t, "two", string(got[1]))
}

func TestMemory_EmptyKeyMatchesAll(t *testing.T) {
	m := NewMemory()

	var count int
	h, err := m.Open(context.Background(), Filter{Collection: CollectionGroupMessages}, func([]byte) {
		count++
	})
	require.NoError(t, err)
	defer h.Close()

	m.Emit(CollectionGroupMessages, "g1", nil)
	m.Emit(CollectionGroupMessages, "g2", nil)
	assert.Equal(t, 2, count)
}

func TestMemory_CloseStopsDelivery(t *testing.T) {
	m := NewMemory()

	var count int
	h, err := m.Open(context.Background(), Filter{Collection: CollectionReadStatus, Key: "alice"}, func([]byte) {
		count++
	})
	require.NoError(t, err)

	m.Emit(CollectionReadStatus, "alice", nil)
	require.NoError(t, h.Close())
	require.NoError(t, h.Close()) // idempotent
	m.Emit(CollectionReadStatus, "alice", nil)

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, m.OpenCount())
}
