// Package hashstore wires the hash index and blob store together into the
// ChunkStore a hash tree builds and reads against (spec §4.4), grounded on
// the original's HashStoreBackend: insert_chunk resolves the reserve/commit
// race, fetch_chunk resolves and verifies a chunk by hash.
package hashstore

import (
	"context"
	"time"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/xlog"
)

// Backend implements hashtree.ChunkStore over a hash.Index and a
// blob.Store.
type Backend struct {
	hashIndex *hash.Index
	blobStore *blob.Store

	// retryBase and retryMax bound the backoff InsertChunk/FetchChunk use
	// while waiting for a concurrent reservation to commit. The original
	// spun on fetch_persistent_ref with no bound; spec §4.4's resolution
	// of that Open Question caps it so a wedged writer surfaces as an
	// error instead of hanging forever.
	retryBase time.Duration
	retryMax  time.Duration
	retries   int
}

// New constructs a Backend over the given index and store, with the
// default bounded-retry policy.
func New(hashIndex *hash.Index, blobStore *blob.Store) *Backend {
	return &Backend{
		hashIndex: hashIndex,
		blobStore: blobStore,
		retryBase: 2 * time.Millisecond,
		retryMax:  200 * time.Millisecond,
		retries:   50,
	}
}

// InsertChunk implements hashtree.ChunkStore. It reserves h in the hash
// index; if the hash is already known, it piggy-backs on whatever wrote it
// (waiting out any in-flight reservation) rather than storing chunk again.
// Only a genuinely new hash causes a blob write.
func (b *Backend) InsertChunk(ctx context.Context, h hash.Hash, level int64, payload []byte, chunk []byte) (blob.Ref, error) {
	outcome, entry, err := b.hashIndex.Reserve(hash.Entry{Hash: h, Level: level, Payload: payload})
	if err != nil {
		return blob.Ref{}, err
	}

	if outcome == hash.HashKnown {
		ref, err := b.awaitPersistentRef(ctx, h)
		if err != nil {
			return blob.Ref{}, err
		}
		return *ref, nil
	}

	kind := blob.TreeLeaf
	if level != 0 {
		kind = blob.TreeBranch
	}

	committed := make(chan blob.Ref, 1)
	commitErr := make(chan error, 1)
	ref, err := b.blobStore.Store(ctx, chunk, kind, func(ref blob.Ref) {
		if err := b.hashIndex.Commit(h, ref); err != nil {
			commitErr <- err
			return
		}
		committed <- ref
	})
	if err != nil {
		return blob.Ref{}, err
	}

	if err := b.hashIndex.UpdateReserved(hash.Entry{Hash: h, PersistentRef: &ref}); err != nil {
		return blob.Ref{}, err
	}
	entry.PersistentRef = &ref
	return ref, nil
}

// FetchChunk resolves h to its bytes. If ref is non-nil it is used
// directly (the caller already knows the locator, e.g. from a parent
// node); otherwise the hash index is consulted. The retrieved bytes are
// always re-hashed and compared to h; a mismatch is logged and returns
// nil data with a nil error, never the wrong bytes (spec I3).
func (b *Backend) FetchChunk(ctx context.Context, h hash.Hash, ref *blob.Ref) ([]byte, error) {
	if ref == nil {
		resolved, err := b.awaitPersistentRef(ctx, h)
		if err != nil {
			return nil, err
		}
		ref = resolved
	}
	if ref == nil {
		return nil, nil
	}

	data, err := b.blobStore.Retrieve(ctx, *ref)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	got := hash.Sum(data)
	if !got.Equal(h) {
		xlog.Error("chunk failed hash verification", "want", h, "got", got, "ref", ref)
		return nil, nil
	}
	return data, nil
}

// FetchPersistentRef resolves h to its ChunkRef, waiting out any in-flight
// reservation.
func (b *Backend) FetchPersistentRef(ctx context.Context, h hash.Hash) (*blob.Ref, error) {
	return b.awaitPersistentRef(ctx, h)
}

// FetchPayload returns the committed payload for h, or nil if none exists.
func (b *Backend) FetchPayload(ctx context.Context, h hash.Hash) ([]byte, error) {
	return b.hashIndex.FetchPayload(h)
}

// awaitPersistentRef absorbs hash.ErrRetry with bounded exponential
// backoff: the hash is known but its writer's commit callback has not yet
// fired. Each retry first flushes the blob store, since a chunk still in
// the open blob is only committed once that blob is persisted. Exceeding
// the retry budget surfaces as a Storage-kind error wrapping ErrRetry, so
// no Retry-kind error leaves this package.
func (b *Backend) awaitPersistentRef(ctx context.Context, h hash.Hash) (*blob.Ref, error) {
	delay := b.retryBase
	for attempt := 0; ; attempt++ {
		ref, err := b.hashIndex.FetchPersistentRef(h)
		if err == nil {
			return ref, nil
		}
		if !errs.Is(err, errs.Retry) {
			return nil, err
		}
		if attempt >= b.retries {
			return nil, errs.Wrap(errs.Storage, err, "hash store: gave up waiting for commit of %s after %d attempts", h, attempt)
		}
		if err := b.blobStore.Flush(ctx); err != nil {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > b.retryMax {
			delay = b.retryMax
		}
	}
}
