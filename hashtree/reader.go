package hashtree

import (
	"context"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/internal/errs"
)

// ReadAll reconstructs the full byte stream rooted at root, whose payload
// (as returned by Builder.Finish) gives the tree's height. Interior nodes
// are read synchronously and depth-first; this trades the constant-memory
// streaming a channel-based reader would give for a simpler implementation,
// acceptable for the snapshot sizes this store targets.
func ReadAll(ctx context.Context, store ChunkStore, root hash.Hash, payload []byte) ([]byte, error) {
	height, totalLen, err := DecodeRootPayload(payload)
	if err != nil {
		return nil, err
	}

	ref, err := store.FetchPersistentRef(ctx, root)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, totalLen)
	out, err = readNode(ctx, store, root, ref, int(height), out)
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) != totalLen {
		return nil, errs.New(errs.Corruption, "hash tree: reassembled %d bytes, root payload declared %d", len(out), totalLen)
	}
	return out, nil
}

func readNode(ctx context.Context, store ChunkStore, h hash.Hash, ref *blob.Ref, level int, out []byte) ([]byte, error) {
	content, err := store.FetchChunk(ctx, h, ref)
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, errs.New(errs.Corruption, "hash tree: missing chunk for %s", h)
	}

	if level == 0 {
		return append(out, content...), nil
	}

	children, err := deserializeGroup(content)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		out, err = readNode(ctx, store, c.hash, &c.ref, level-1, out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
