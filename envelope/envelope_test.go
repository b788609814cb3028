package envelope

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	env := New(KindChatMessage, json.RawMessage(`{"text":"hi"}`))

	assert.NotEmpty(t, env.ID())
	assert.Equal(t, KindChatMessage, env.Kind())
	assert.Equal(t, PriorityMedium, env.Priority())
	assert.Empty(t, env.CorrelationID())
	assert.WithinDuration(t, time.Now(), env.Timestamp(), time.Second)
	assert.NoError(t, env.Validate())
}

func TestNew_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		env := New(KindNotification, nil)
		assert.False(t, seen[env.ID()], "duplicate envelope id")
		seen[env.ID()] = true
	}
}

func TestNew_Options(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env := New(KindChatMessage, nil,
		WithPriority(PriorityUrgent),
		WithCorrelation("conv-42"),
		WithTime(ts))

	assert.Equal(t, PriorityUrgent, env.Priority())
	assert.Equal(t, "conv-42", env.CorrelationID())
	assert.Equal(t, ts, env.Timestamp())
}

func TestEnvelope_JSONRoundTrip(t *testing.T) {
	env := New(KindFriendRequest, json.RawMessage(`{"from":"u1"}`),
		WithPriority(PriorityHigh),
		WithCorrelation("conv-7"))

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, env.ID(), decoded.ID())
	assert.Equal(t, env.Kind(), decoded.Kind())
	assert.Equal(t, env.Priority(), decoded.Priority())
	assert.Equal(t, env.CorrelationID(), decoded.CorrelationID())
	assert.JSONEq(t, `{"from":"u1"}`, string(decoded.Payload()))
}

func TestEnvelope_UnmarshalUnknownKind(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"id":"x","kind":"telepathy","priority":"low","timestamp":0}`), &env)
	assert.Error(t, err)
}

func TestPriority_Ordering(t *testing.T) {
	assert.True(t, PriorityLow < PriorityMedium)
	assert.True(t, PriorityMedium < PriorityHigh)
	assert.True(t, PriorityHigh < PriorityUrgent)
}

func TestKind_Validity(t *testing.T) {
	assert.True(t, KindNotification.IsValid())
	assert.True(t, KindSystemEvent.IsValid())
	assert.False(t, Kind(-1).IsValid())
	assert.False(t, Kind(42).IsValid())
}

func TestChannelNaming(t *testing.T) {
	assert.Equal(t, "wall.private.u1", PrivateChannel("u1"))
	assert.Equal(t, "wall.group.g9", GroupChannel("g9"))
	assert.Equal(t, "wall.read.u1", ReadStatusChannel("u1"))
	assert.Equal(t, "wall.notify.u1", NotifyChannel("u1"))
}

func TestChannelNaming_Sanitized(t *testing.T) {
	// Subject metacharacters in ids must not widen a subscription
	assert.Equal(t, "wall.private.a_b", PrivateChannel("a.b"))
	assert.Equal(t, "wall.group.g__", GroupChannel("g>*"))
}
