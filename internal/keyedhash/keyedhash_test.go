package keyedhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSumPanicsBeforeInit(t *testing.T) {
	require.Panics(t, func() {
		Sum([]byte("too early"))
	})
}

func TestLifecycle(t *testing.T) {
	key := []byte("a stable 31 byte repository key")
	require.NoError(t, Init(key))
	require.True(t, Ready())

	a := Sum([]byte("content"))
	b := Sum([]byte("content"))
	require.Equal(t, a, b)

	// Re-initializing with the same key is a no-op.
	require.NoError(t, Init(key))

	require.Panics(t, func() {
		_ = Init([]byte("a different key entirely"))
	})
}

func TestInitRejectsOversizedKey(t *testing.T) {
	if Ready() {
		t.Skip("package already initialized by an earlier test; key-length validation only runs on first Init")
	}
	err := Init(make([]byte, 65))
	require.Error(t, err)
}
