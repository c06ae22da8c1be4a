package keyindex

import (
	"path/filepath"
	"testing"

	"github.com/hat-backup/hat/hash"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "keys.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestInsertAndLookup(t *testing.T) {
	idx := newTestIndex(t)

	entry, err := idx.Insert(Entry{Name: []byte("foo.txt")})
	require.NoError(t, err)
	require.NotNil(t, entry.ID)
	require.NoError(t, idx.Flush())

	found, err := idx.Lookup(nil, []byte("foo.txt"))
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, *entry.ID, *found.ID)
}

func TestLookupMissingReturnsNil(t *testing.T) {
	idx := newTestIndex(t)
	found, err := idx.Lookup(nil, []byte("nope"))
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestUpdateDataHashRespectsStaleness(t *testing.T) {
	idx := newTestIndex(t)

	modified := int64(100)
	entry, err := idx.Insert(Entry{Name: []byte("f"), Modified: &modified})
	require.NoError(t, err)
	require.NoError(t, idx.Flush())

	h := hash.Sum([]byte("content"))

	older := int64(50)
	require.NoError(t, idx.UpdateDataHash(*entry.ID, &older, &h, nil))
	require.NoError(t, idx.Flush())

	found, err := idx.Lookup(nil, []byte("f"))
	require.NoError(t, err)
	require.Nil(t, found.DataHash, "stale write (older mtime) must be rejected")

	newer := int64(150)
	require.NoError(t, idx.UpdateDataHash(*entry.ID, &newer, &h, nil))
	require.NoError(t, idx.Flush())

	found, err = idx.Lookup(nil, []byte("f"))
	require.NoError(t, err)
	require.NotNil(t, found.DataHash)
	require.True(t, found.DataHash.Equal(h))
}

func TestListDir(t *testing.T) {
	idx := newTestIndex(t)

	parent, err := idx.Insert(Entry{Name: []byte("dir")})
	require.NoError(t, err)

	_, err = idx.Insert(Entry{Name: []byte("a"), ParentID: parent.ID})
	require.NoError(t, err)
	_, err = idx.Insert(Entry{Name: []byte("b"), ParentID: parent.ID})
	require.NoError(t, err)
	require.NoError(t, idx.Flush())

	children, err := idx.ListDir(parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
}
