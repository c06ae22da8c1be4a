// Package hash implements the Hash type and the persistent hash index:
// the globally unique chunk registry with its reserve/commit protocol
// (spec §4.1).
package hash

import (
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/keyedhash"
)

// Hash is a fixed-width content hash. The zero value is invalid: spec §3
// requires zero-length hashes to be rejected wherever one is expected.
type Hash struct {
	Bytes []byte
}

// Sum computes the Hash of data using the process-wide keyed hash
// function. keyedhash.Init must have run first.
func Sum(data []byte) Hash {
	sum := keyedhash.Sum(data)
	return Hash{Bytes: sum[:]}
}

// Equal reports byte-equality, per spec §3.
func (h Hash) Equal(o Hash) bool {
	if len(h.Bytes) != len(o.Bytes) {
		return false
	}
	for i := range h.Bytes {
		if h.Bytes[i] != o.Bytes[i] {
			return false
		}
	}
	return true
}

// Valid reports whether h is non-empty.
func (h Hash) Valid() bool { return len(h.Bytes) > 0 }

func (h Hash) String() string {
	const hextable = "0123456789abcdef"
	if len(h.Bytes) == 0 {
		return "<invalid-hash>"
	}
	out := make([]byte, len(h.Bytes)*2)
	for i, b := range h.Bytes {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0xf]
	}
	return string(out)
}

func requireValid(h Hash) error {
	if !h.Valid() {
		return errs.New(errs.Message, "hash: zero-length hash is invalid")
	}
	return nil
}
