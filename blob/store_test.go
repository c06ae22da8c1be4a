package blob

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hat-backup/hat/blob/localfs"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, targetSize int) *Store {
	t.Helper()
	backend, err := localfs.New(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return NewStore(backend, targetSize, 0)
}

func TestStoreRetrieveBeforeFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1<<20)

	ref, err := s.Store(ctx, []byte("hello"), TreeLeaf, nil)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestStoreCallbackFiresAfterFlush(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1<<20)

	var mu sync.Mutex
	var committed []Ref
	_, err := s.Store(ctx, []byte("a"), TreeLeaf, func(ref Ref) {
		mu.Lock()
		committed = append(committed, ref)
		mu.Unlock()
	})
	require.NoError(t, err)

	mu.Lock()
	require.Empty(t, committed, "callback must not fire before the blob is durable")
	mu.Unlock()

	require.NoError(t, s.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, committed, 1)
}

func TestStoreCallbacksFireInOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1<<20)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		_, err := s.Store(ctx, []byte{byte(i)}, TreeLeaf, func(ref Ref) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.Flush(ctx))

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestStoreAutoFlushesAtTargetSize(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 16)

	fired := make(chan Ref, 1)
	_, err := s.Store(ctx, make([]byte, 20), TreeLeaf, func(ref Ref) { fired <- ref })
	require.NoError(t, err)

	select {
	case <-fired:
	default:
		t.Fatal("expected Store to have triggered an implicit flush past targetLen")
	}
}

func TestRetrieveAfterFlushFromBackend(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1<<20)

	ref, err := s.Store(ctx, []byte("persisted"), TreeLeaf, nil)
	require.NoError(t, err)
	require.NoError(t, s.Flush(ctx))

	got, err := s.Retrieve(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), got)
}
