// Package localfs implements blob.Backend over a plain directory of files,
// the default backend and the direct Go analogue of the original system's
// FileBackend (see original_source/src/hat/main.rs's blob_store::FileBackend).
package localfs

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/hat-backup/hat/internal/errs"
)

// Backend stores each blob as one file named by the hex encoding of its
// opaque name, under dir.
type Backend struct {
	dir string
}

// New returns a Backend rooted at dir, creating it if necessary.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "create blob dir %s", dir)
	}
	return &Backend{dir: dir}, nil
}

func (b *Backend) path(name []byte) string {
	return filepath.Join(b.dir, hex.EncodeToString(name))
}

func (b *Backend) Put(_ context.Context, name []byte, data []byte) error {
	tmp := b.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.Wrap(errs.Storage, err, "write blob %x", name)
	}
	if err := os.Rename(tmp, b.path(name)); err != nil {
		return errs.Wrap(errs.Storage, err, "seal blob %x", name)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, name []byte) ([]byte, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "read blob %x", name)
	}
	return data, nil
}

func (b *Backend) List(_ context.Context) ([][]byte, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "list blob dir %s", b.dir)
	}
	var names [][]byte
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".tmp" {
			continue
		}
		name, err := hex.DecodeString(e.Name())
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
