package blob

import (
	"github.com/VictoriaMetrics/fastcache"
)

// chunkCache is a bounded in-memory cache of already-retrieved chunk
// bytes, keyed by their canonical Ref encoding. It exists because
// Committed hash-index rows (and the bytes they locate) never change
// (invariant I1), so caching a fetched chunk can never go stale — the
// same pattern go-ethereum uses fastcache for over its trie node reads.
type chunkCache struct {
	c *fastcache.Cache
}

func newChunkCache(maxBytes int) *chunkCache {
	return &chunkCache{c: fastcache.New(maxBytes)}
}

func (cc *chunkCache) get(ref Ref) ([]byte, bool) {
	key := ref.ToBytes()
	if v, ok := cc.c.HasGet(nil, key); ok {
		return v, true
	}
	return nil, false
}

func (cc *chunkCache) put(ref Ref, data []byte) {
	cc.c.Set(ref.ToBytes(), data)
}
