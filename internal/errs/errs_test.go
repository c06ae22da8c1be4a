package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorFormatsWithAndWithoutCause(t *testing.T) {
	bare := New(Message, "something went wrong")
	require.Equal(t, "[message] something went wrong", bare.Error())

	wrapped := Wrap(Storage, errors.New("disk full"), "write failed")
	require.Equal(t, "[storage] write failed: disk full", wrapped.Error())
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(Channel, cause, "context")
	require.Equal(t, cause, wrapped.Unwrap())
}

func TestFatalOnlyForCorruption(t *testing.T) {
	require.True(t, New(Corruption, "x").Fatal())
	require.False(t, New(Storage, "x").Fatal())
	require.False(t, New(Retry, "x").Fatal())
}

func TestIsUnwrapsChain(t *testing.T) {
	inner := New(Retry, "transient")
	outer := Wrap(Storage, inner, "outer context")
	require.True(t, Is(outer, Storage))
	require.False(t, Is(outer, Retry))
	require.False(t, Is(errors.New("plain"), Storage))
}

func TestCorruptionCapturesStack(t *testing.T) {
	err := New(Corruption, "bad state")
	require.NotEmpty(t, err.StackTrace())

	nonCorrupt := New(Message, "fine")
	require.Empty(t, nonCorrupt.StackTrace())
}
