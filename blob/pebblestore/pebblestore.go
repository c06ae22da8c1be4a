// Package pebblestore implements blob.Backend on top of an embedded
// Pebble LSM store (github.com/cockroachdb/pebble), the same engine
// go-ethereum uses as one of its chain database backends. Each blob is one
// key/value pair; this is the "single-file, no external dependency"
// backend choice, as opposed to localfs (one file per blob) or the cloud
// backends.
package pebblestore

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/hat-backup/hat/internal/errs"
)

// Backend stores blobs as key/value pairs in a Pebble database directory.
type Backend struct {
	db *pebble.DB
}

// Open opens (creating if necessary) a Pebble database at dir.
func Open(dir string) (*Backend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "open pebble blob store %s", dir)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) Put(_ context.Context, name []byte, data []byte) error {
	if err := b.db.Set(name, data, pebble.Sync); err != nil {
		return errs.Wrap(errs.Storage, err, "pebble put %x", name)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, name []byte) ([]byte, error) {
	v, closer, err := b.db.Get(name)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "pebble get %x", name)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

func (b *Backend) List(_ context.Context) ([][]byte, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "pebble list")
	}
	defer iter.Close()

	var names [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		names = append(names, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "pebble list iteration")
	}
	return names, nil
}
