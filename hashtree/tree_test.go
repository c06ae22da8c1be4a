package hashtree

import (
	"context"
	"testing"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/internal/keyedhash"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = keyedhash.Init(make([]byte, 32))
}

// memStore is a trivial in-memory ChunkStore for exercising Builder and
// ReadAll without a real hash index or blob store.
type memStore struct {
	chunks  map[string][]byte
	refs    map[string]blob.Ref
	payload map[string][]byte
	n       uint64
}

func newMemStore() *memStore {
	return &memStore{
		chunks:  map[string][]byte{},
		refs:    map[string]blob.Ref{},
		payload: map[string][]byte{},
	}
}

func (m *memStore) InsertChunk(ctx context.Context, h hash.Hash, level int64, payload []byte, chunk []byte) (blob.Ref, error) {
	key := h.String()
	if existing, ok := m.refs[key]; ok {
		if payload != nil {
			m.payload[key] = payload
		}
		return existing, nil
	}
	m.n++
	ref := blob.Ref{Name: []byte{byte(m.n)}, Offset: 0, Length: uint64(len(chunk)), Kind: blob.TreeLeaf}
	m.chunks[key] = append([]byte(nil), chunk...)
	m.refs[key] = ref
	if payload != nil {
		m.payload[key] = payload
	}
	return ref, nil
}

func (m *memStore) FetchChunk(ctx context.Context, h hash.Hash, ref *blob.Ref) ([]byte, error) {
	return m.chunks[h.String()], nil
}

func (m *memStore) FetchPersistentRef(ctx context.Context, h hash.Hash) (*blob.Ref, error) {
	ref, ok := m.refs[h.String()]
	if !ok {
		return nil, nil
	}
	return &ref, nil
}

func (m *memStore) FetchPayload(ctx context.Context, h hash.Hash) ([]byte, error) {
	return m.payload[h.String()], nil
}

func roundTrip(t *testing.T, data []byte) {
	t.Helper()
	ctx := context.Background()
	store := newMemStore()
	b := NewBuilder(store)
	require.NoError(t, b.Write(ctx, data))
	root, payload, _, err := b.Finish(ctx)
	require.NoError(t, err)
	require.True(t, root.Valid())

	out, err := ReadAll(ctx, store, root, payload)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestRoundTripEmpty(t *testing.T) {
	roundTrip(t, nil)
}

func TestRoundTripSmall(t *testing.T) {
	roundTrip(t, []byte("hello, hat-backup"))
}

func TestRoundTripMultiChunk(t *testing.T) {
	data := make([]byte, 5*defaultMax)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	roundTrip(t, data)
}

func TestRoundTripDeterministic(t *testing.T) {
	data := make([]byte, 3*defaultMax)
	for i := range data {
		data[i] = byte(i)
	}

	ctx := context.Background()
	store1 := newMemStore()
	b1 := NewBuilder(store1)
	require.NoError(t, b1.Write(ctx, data))
	root1, _, _, err := b1.Finish(ctx)
	require.NoError(t, err)

	store2 := newMemStore()
	b2 := NewBuilder(store2)
	require.NoError(t, b2.Write(ctx, data))
	root2, _, _, err := b2.Finish(ctx)
	require.NoError(t, err)

	require.True(t, root1.Equal(root2))
}

func TestRoundTripFanoutBoundary(t *testing.T) {
	// All-zero input keeps the chunker's hash at zero, so every leaf is cut
	// at exactly defaultMin: DefaultFanout+1 leaves, one past a full group.
	data := make([]byte, (DefaultFanout+1)*defaultMin)
	roundTrip(t, data)
}
