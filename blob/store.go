package blob

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/golang/snappy"
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/xlog"
)

// OnCommit is invoked exactly once, after the enclosing blob has been
// durably written, with the final ChunkRef for the chunk that was passed
// to Store.
type OnCommit func(Ref)

type pending struct {
	offset   uint64
	length   uint64
	kind     Kind
	callback OnCommit
}

// openBlob is the single in-progress blob buffer: raw (uncompressed) bytes
// plus the ordered list of chunks appended to it so far.
type openBlob struct {
	name    []byte
	buf     []byte
	entries []pending
}

// Store buffers chunks into blobs of a configured target size, persists
// sealed blobs through a Backend, and fires per-chunk commit callbacks in
// store order once their blob is durable. See spec §4.2.
type Store struct {
	backend   Backend
	targetLen int
	cache     *chunkCache

	mu       sync.Mutex
	open     *openBlob
	nextName uint64
}

// NewStore constructs a Store over backend, targeting blobs of
// approximately targetSize bytes before an implicit flush. cacheBytes
// sizes an optional in-memory read cache for Retrieve (0 disables it).
func NewStore(backend Backend, targetSize int, cacheBytes int) *Store {
	s := &Store{
		backend:   backend,
		targetLen: targetSize,
		open:      &openBlob{name: blobName(0)},
		nextName:  1,
	}
	if cacheBytes > 0 {
		s.cache = newChunkCache(cacheBytes)
	}
	return s
}

func blobName(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// Store appends chunk to the open blob and returns the ChunkRef it will
// occupy once that blob is sealed. onCommit fires after the containing
// blob is durably persisted, in the order chunks were stored. The
// returned Ref must not be published to anything outside this package
// until onCommit has fired (see hashstore, which enforces this for the
// hash index).
func (s *Store) Store(ctx context.Context, chunk []byte, kind Kind, onCommit OnCommit) (Ref, error) {
	s.mu.Lock()

	ref := Ref{
		Name:   s.open.name,
		Offset: uint64(len(s.open.buf)),
		Length: uint64(len(chunk)),
		Kind:   kind,
	}
	s.open.buf = append(s.open.buf, chunk...)
	s.open.entries = append(s.open.entries, pending{
		offset:   ref.Offset,
		length:   ref.Length,
		kind:     kind,
		callback: onCommit,
	})

	shouldFlush := len(s.open.buf) >= s.targetLen
	s.mu.Unlock()

	if shouldFlush {
		if err := s.Flush(ctx); err != nil {
			return Ref{}, err
		}
	}
	return ref, nil
}

// Retrieve reads the bytes located by ref, working for both sealed and
// still-open (not yet flushed) blobs.
func (s *Store) Retrieve(ctx context.Context, ref Ref) ([]byte, error) {
	if s.cache != nil {
		if data, ok := s.cache.get(ref); ok {
			return data, nil
		}
	}

	raw, err := s.readBlob(ctx, ref.Name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	end := ref.Offset + ref.Length
	if end > uint64(len(raw)) {
		return nil, errs.New(errs.Corruption, "chunk ref %s out of bounds for blob of %d bytes", ref, len(raw))
	}
	out := append([]byte(nil), raw[ref.Offset:end]...)
	if s.cache != nil {
		s.cache.put(ref, out)
	}
	return out, nil
}

// readBlob returns the raw (decompressed, uncompressed-form) bytes of the
// named blob, checking the still-open buffer first.
func (s *Store) readBlob(ctx context.Context, name []byte) ([]byte, error) {
	s.mu.Lock()
	if string(s.open.name) == string(name) {
		buf := append([]byte(nil), s.open.buf...)
		s.mu.Unlock()
		return buf, nil
	}
	s.mu.Unlock()

	stored, err := s.backend.Get(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "get blob %x", name)
	}
	if stored == nil {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, stored)
	if err != nil {
		return nil, errs.Wrap(errs.Serialization, err, "decompress blob %x", name)
	}
	return raw, nil
}

// Flush seals the current open blob (if non-empty), persists it through
// the backend, and fires every pending callback in insertion order. A new
// empty blob buffer is installed before Flush returns, even on error, so a
// failed flush never wedges future Store calls against a half-sealed
// buffer — though per spec §4.2, none of that blob's callbacks will have
// fired, and the caller may retry the whole snapshot.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	sealed := s.open
	if len(sealed.buf) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.open = &openBlob{name: blobName(s.nextName)}
	s.nextName++
	s.mu.Unlock()

	compressed := snappy.Encode(nil, sealed.buf)
	if err := s.backend.Put(ctx, sealed.name, compressed); err != nil {
		xlog.Error("blob flush failed", "blob", sealed.name, "err", err)
		return errs.Wrap(errs.Storage, err, "put blob %x", sealed.name)
	}

	for _, e := range sealed.entries {
		ref := Ref{Name: sealed.name, Offset: e.offset, Length: e.length, Kind: e.kind}
		if e.callback != nil {
			e.callback(ref)
		}
	}
	return nil
}
