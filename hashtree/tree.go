// Package hashtree builds and reads Merkle trees over chunk streams
// (spec §4.3): a content-defined chunker splits an input byte stream into
// leaves, leaves are grouped into interior nodes once a level's pending
// group reaches a fanout threshold, and Finish yields the root hash plus
// a payload describing tree height and total byte length.
package hashtree

import (
	"context"
	"encoding/binary"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/internal/errs"
)

// DefaultFanout is F from spec §4.3: the number of children collected at
// a level before it collapses into a parent node.
const DefaultFanout = 256

// ChunkStore is the hash-tree chunk interface exposed by the hash-store
// backend (spec §4.4 / §6).
type ChunkStore interface {
	FetchChunk(ctx context.Context, h hash.Hash, ref *blob.Ref) ([]byte, error)
	FetchPersistentRef(ctx context.Context, h hash.Hash) (*blob.Ref, error)
	FetchPayload(ctx context.Context, h hash.Hash) ([]byte, error)
	InsertChunk(ctx context.Context, h hash.Hash, level int64, payload []byte, chunk []byte) (blob.Ref, error)
}

type nodeRef struct {
	hash hash.Hash
	ref  blob.Ref
}

type pendingNode struct {
	content []byte
	hash    hash.Hash
}

type levelState struct {
	group   []nodeRef
	pending *pendingNode
}

// Builder accepts bytes incrementally and produces a Merkle tree of
// chunks in the underlying ChunkStore.
type Builder struct {
	store   ChunkStore
	fanout  int
	chunker *rollingChunker

	levels   []*levelState
	totalLen uint64
	anyLeaf  bool
}

// NewBuilder constructs a Builder over store with the default fanout.
func NewBuilder(store ChunkStore) *Builder {
	return &Builder{store: store, fanout: DefaultFanout, chunker: newRollingChunker()}
}

// Write feeds bytes into the chunker; every chunk boundary it finds is
// admitted into the tree immediately.
func (b *Builder) Write(ctx context.Context, p []byte) error {
	b.totalLen += uint64(len(p))
	for _, chunk := range b.chunker.feed(p) {
		if err := b.admitLeaf(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) admitLeaf(ctx context.Context, content []byte) error {
	b.anyLeaf = true
	return b.admit(ctx, 0, content)
}

// admit pushes content (a leaf's raw bytes, or an interior node's
// serialized child list) onto level's pending slot. If a node was already
// pending there, it is now known not to be the tree's root (a sibling has
// arrived), so it is inserted with no payload and folded into the level's
// group; a full group collapses into a new pending entry one level up.
func (b *Builder) admit(ctx context.Context, level int, content []byte) error {
	ls := b.level(level)
	h := hash.Sum(content)

	if ls.pending != nil {
		ref, err := b.store.InsertChunk(ctx, ls.pending.hash, int64(level), nil, ls.pending.content)
		if err != nil {
			return err
		}
		ls.group = append(ls.group, nodeRef{hash: ls.pending.hash, ref: ref})
		if len(ls.group) >= b.fanout {
			grouped := serializeGroup(ls.group)
			ls.group = nil
			if err := b.admit(ctx, level+1, grouped); err != nil {
				return err
			}
		}
	}
	ls.pending = &pendingNode{content: content, hash: h}
	return nil
}

func (b *Builder) level(l int) *levelState {
	for len(b.levels) <= l {
		b.levels = append(b.levels, &levelState{})
	}
	return b.levels[l]
}

// Finish flushes any buffered partial chunk, then collapses every level
// bottom-up into a single root. It returns the root hash, its payload
// (height, total byte length), and its persistent ref. The ref is handed
// back directly rather than left for a caller to resolve through the hash
// index, since at this point the root chunk is freshly reserved and may
// not be committed yet (the index only promotes Reserved to Committed once
// the underlying blob is flushed, which a snapshot does not wait for).
func (b *Builder) Finish(ctx context.Context) (hash.Hash, []byte, blob.Ref, error) {
	remainder := b.chunker.remainder()
	if len(remainder) > 0 || !b.anyLeaf {
		if err := b.admitLeaf(ctx, remainder); err != nil {
			return hash.Hash{}, nil, blob.Ref{}, err
		}
	}

	level := 0
	for {
		ls := b.level(level)

		hasHigher := false
		for l := level + 1; l < len(b.levels); l++ {
			hl := b.levels[l]
			if len(hl.group) > 0 || hl.pending != nil {
				hasHigher = true
				break
			}
		}

		// A pending node is folded into a parent when it has siblings, or
		// when a higher level exists (it is then not the root either).
		if len(ls.group) > 0 || (ls.pending != nil && hasHigher) {
			ref, err := b.store.InsertChunk(ctx, ls.pending.hash, int64(level), nil, ls.pending.content)
			if err != nil {
				return hash.Hash{}, nil, blob.Ref{}, err
			}
			ls.group = append(ls.group, nodeRef{hash: ls.pending.hash, ref: ref})
			grouped := serializeGroup(ls.group)
			ls.group, ls.pending = nil, nil
			if err := b.admit(ctx, level+1, grouped); err != nil {
				return hash.Hash{}, nil, blob.Ref{}, err
			}
			level++
			continue
		}

		if ls.pending == nil {
			level++
			if level > len(b.levels)+1 {
				return hash.Hash{}, nil, blob.Ref{}, errs.New(errs.Message, "hash tree: finish found no root candidate")
			}
			continue
		}

		if !hasHigher {
			payload := encodeRootPayload(uint32(level), b.totalLen)
			ref, err := b.store.InsertChunk(ctx, ls.pending.hash, int64(level), payload, ls.pending.content)
			if err != nil {
				return hash.Hash{}, nil, blob.Ref{}, err
			}
			return ls.pending.hash, payload, ref, nil
		}
		level++
	}
}

func encodeRootPayload(height uint32, length uint64) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], height)
	binary.BigEndian.PutUint64(out[4:12], length)
	return out
}

// DecodeRootPayload parses the (height, length) payload Finish attaches
// to a tree's root entry.
func DecodeRootPayload(payload []byte) (height uint32, length uint64, err error) {
	if len(payload) != 12 {
		return 0, 0, errs.New(errs.Serialization, "hash tree: malformed root payload, want 12 bytes got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload[0:4]), binary.BigEndian.Uint64(payload[4:12]), nil
}

// serializeGroup encodes an interior node's child list as the
// concatenation of each child's (hash, persistent_ref), per spec §3's
// hash-tree definition.
func serializeGroup(group []nodeRef) []byte {
	var out []byte
	for _, c := range group {
		hb := c.hash.Bytes
		rb := c.ref.ToBytes()
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, uint32(len(hb)))
		out = append(out, hdr...)
		out = append(out, hb...)
		hdr2 := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr2, uint32(len(rb)))
		out = append(out, hdr2...)
		out = append(out, rb...)
	}
	return out
}

func deserializeGroup(data []byte) ([]nodeRef, error) {
	var out []nodeRef
	pos := 0
	for pos < len(data) {
		if pos+4 > len(data) {
			return nil, errs.New(errs.Serialization, "hash tree: truncated group header")
		}
		hlen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+hlen > len(data) {
			return nil, errs.New(errs.Serialization, "hash tree: truncated hash")
		}
		h := append([]byte(nil), data[pos:pos+hlen]...)
		pos += hlen

		if pos+4 > len(data) {
			return nil, errs.New(errs.Serialization, "hash tree: truncated ref header")
		}
		rlen := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if pos+rlen > len(data) {
			return nil, errs.New(errs.Serialization, "hash tree: truncated ref")
		}
		ref, err := blob.RefFromBytes(data[pos : pos+rlen])
		if err != nil {
			return nil, err
		}
		pos += rlen

		out = append(out, nodeRef{hash: hash.Hash{Bytes: h}, ref: ref})
	}
	return out, nil
}
