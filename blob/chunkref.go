// Package blob implements the blob store: aggregation of content chunks
// into larger, immutable, backend-persisted blobs, plus the ChunkRef
// locator type and the pluggable Backend interface those blobs are written
// through.
package blob

import (
	"encoding/binary"
	"fmt"

	"github.com/hat-backup/hat/internal/errs"
)

// Kind distinguishes a leaf chunk of a hash tree from an interior branch
// node, mirroring spec §3's ChunkRef.kind.
type Kind uint8

const (
	TreeLeaf Kind = iota
	TreeBranch
)

func (k Kind) String() string {
	if k == TreeLeaf {
		return "leaf"
	}
	return "branch"
}

// Ref locates a chunk inside a named blob: {blob_name, offset, length,
// kind}. Name is the blob store's monotonic, opaque blob identifier.
type Ref struct {
	Name   []byte
	Offset uint64
	Length uint64
	Kind   Kind
}

// Equal reports whether two refs locate the same bytes.
func (r Ref) Equal(o Ref) bool {
	return string(r.Name) == string(o.Name) && r.Offset == o.Offset &&
		r.Length == o.Length && r.Kind == o.Kind
}

// ToBytes serializes r into the canonical length-prefixed wire form:
// len(name) u32 | name | offset u64 | length u64 | kind u8.
func (r Ref) ToBytes() []byte {
	out := make([]byte, 4+len(r.Name)+8+8+1)
	binary.BigEndian.PutUint32(out[0:4], uint32(len(r.Name)))
	copy(out[4:], r.Name)
	pos := 4 + len(r.Name)
	binary.BigEndian.PutUint64(out[pos:pos+8], r.Offset)
	binary.BigEndian.PutUint64(out[pos+8:pos+16], r.Length)
	out[pos+16] = byte(r.Kind)
	return out
}

// RefFromBytes parses the wire form produced by ToBytes. It round-trips:
// RefFromBytes(r.ToBytes()) == r.
func RefFromBytes(b []byte) (Ref, error) {
	if len(b) < 4 {
		return Ref{}, errs.New(errs.Serialization, "chunk ref: truncated name length")
	}
	nameLen := int(binary.BigEndian.Uint32(b[0:4]))
	need := 4 + nameLen + 8 + 8 + 1
	if len(b) < need {
		return Ref{}, errs.New(errs.Serialization, "chunk ref: truncated, want %d bytes got %d", need, len(b))
	}
	name := append([]byte(nil), b[4:4+nameLen]...)
	pos := 4 + nameLen
	offset := binary.BigEndian.Uint64(b[pos : pos+8])
	length := binary.BigEndian.Uint64(b[pos+8 : pos+16])
	kind := Kind(b[pos+16])
	if kind != TreeLeaf && kind != TreeBranch {
		return Ref{}, errs.New(errs.Serialization, "chunk ref: invalid kind %d", kind)
	}
	return Ref{Name: name, Offset: offset, Length: length, Kind: kind}, nil
}

func (r Ref) String() string {
	return fmt.Sprintf("Ref{%x, off=%d, len=%d, kind=%s}", r.Name, r.Offset, r.Length, r.Kind)
}
