package blob

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefRoundTrip(t *testing.T) {
	ref := Ref{Name: []byte{1, 2, 3, 4}, Offset: 4096, Length: 128, Kind: TreeBranch}
	decoded, err := RefFromBytes(ref.ToBytes())
	require.NoError(t, err)
	require.True(t, ref.Equal(decoded))
}

func TestRefFromBytesRejectsTruncated(t *testing.T) {
	ref := Ref{Name: []byte{1, 2, 3}, Offset: 1, Length: 1, Kind: TreeLeaf}
	encoded := ref.ToBytes()
	_, err := RefFromBytes(encoded[:len(encoded)-2])
	require.Error(t, err)
}

func TestRefFromBytesRejectsUnknownKind(t *testing.T) {
	ref := Ref{Name: []byte{9}, Offset: 0, Length: 0, Kind: TreeLeaf}
	encoded := ref.ToBytes()
	encoded[len(encoded)-1] = 0xff
	_, err := RefFromBytes(encoded)
	require.Error(t, err)
}

func TestRefEqual(t *testing.T) {
	a := Ref{Name: []byte{1}, Offset: 1, Length: 2, Kind: TreeLeaf}
	b := Ref{Name: []byte{1}, Offset: 1, Length: 2, Kind: TreeLeaf}
	c := Ref{Name: []byte{2}, Offset: 1, Length: 2, Kind: TreeLeaf}
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}
