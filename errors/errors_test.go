package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.class.String())
	}
}

func TestWrap_NilError(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Adapter", "Publish", "send"))
	assert.NoError(t, WrapTransient(nil, "Adapter", "Publish", "send"))
	assert.NoError(t, WrapInvalid(nil, "Adapter", "Publish", "send"))
	assert.NoError(t, WrapFatal(nil, "Adapter", "Publish", "send"))
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Service", "IncrementPrivate", "write counter")

	require.Error(t, err)
	assert.Equal(t, "Service.IncrementPrivate: write counter failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrapTransient_Classification(t *testing.T) {
	err := WrapTransient(ErrConnectionLost, "Adapter", "Publish", "send")

	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))
	assert.False(t, IsFatal(err))
	assert.True(t, stderrors.Is(err, ErrConnectionLost))
}

func TestWrapInvalid_Classification(t *testing.T) {
	err := WrapInvalid(ErrNotMember, "Manager", "handleGroupMessage", "membership check")

	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, ErrorInvalid, Classify(err))
}

func TestWrapFatal_Classification(t *testing.T) {
	err := WrapFatal(ErrMissingConfig, "Config", "Load", "validate")

	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}

func TestIsTransient_Sentinels(t *testing.T) {
	assert.True(t, IsTransient(ErrNoConnection))
	assert.True(t, IsTransient(ErrConnectionLost))
	assert.True(t, IsTransient(ErrStoreUnavailable))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
}

func TestIsTransient_Patterns(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("service temporarily unavailable")))
	assert.False(t, IsTransient(stderrors.New("syntax error")))
}

func TestClassify_Defaults(t *testing.T) {
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("mystery")))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidEnvelope))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := stderrors.New("root cause")
	wrapped := WrapTransient(fmt.Errorf("outer: %w", base), "Feed", "Open", "subscribe")

	assert.True(t, stderrors.Is(wrapped, base))

	var ce *ClassifiedError
	require.True(t, stderrors.As(wrapped, &ce))
	assert.Equal(t, "Feed", ce.Component)
	assert.Equal(t, "Open", ce.Operation)
}
