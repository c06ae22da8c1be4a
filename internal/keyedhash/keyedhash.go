// Package keyedhash provides the process-wide keyed cryptographic hash the
// repository's Hash type is built on. Design note §9 calls out that the
// underlying library needs a one-time global initialization before any
// hashing happens (the original system called sodiumoxide::init() once,
// before opening a repository); this package models that as an explicit
// lifecycle precondition rather than a package init() side effect, so a
// caller that forgets it fails loudly instead of silently hashing with an
// unexpected key.
package keyedhash

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Size is the output width, in bytes, of every hash produced by this
// package.
const Size = 32

var (
	mu          sync.Mutex
	initialized bool
	key         []byte
)

// Init performs the one-time global initialization required before Sum may
// be called. key may be nil for an unkeyed (but still collision-resistant)
// hash; a non-nil key must be between 1 and 64 bytes, per BLAKE2b's keyed
// MAC mode. Init is idempotent only when called again with an identical
// key; calling it twice with different keys is a programming error and
// panics, since every hash already committed under the old key would
// silently become unreachable under the new one.
func Init(key_ []byte) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		if !bytesEqual(key, key_) {
			panic("keyedhash: re-initialized with a different key")
		}
		return nil
	}
	if len(key_) > 64 {
		return fmt.Errorf("keyedhash: key too long: %d bytes", len(key_))
	}
	key = append([]byte(nil), key_...)
	initialized = true
	return nil
}

// Ready reports whether Init has run.
func Ready() bool {
	mu.Lock()
	defer mu.Unlock()
	return initialized
}

// Sum returns the keyed BLAKE2b-256 digest of data. Panics if Init has not
// run: hashing before the lifecycle precondition is satisfied is a
// programming error, not a recoverable one, since every hash produced
// before Init would be incomparable to every hash produced after.
func Sum(data []byte) [Size]byte {
	mu.Lock()
	k := key
	ready := initialized
	mu.Unlock()
	if !ready {
		panic("keyedhash: Sum called before Init")
	}
	h, err := blake2b.New256(k)
	if err != nil {
		// Only reachable if a bad key slipped past Init, which validates length.
		panic(err)
	}
	h.Write(data)
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
