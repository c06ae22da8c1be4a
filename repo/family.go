package repo

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/hashtree"
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/xlog"
	"github.com/hat-backup/hat/keyindex"
	"github.com/hat-backup/hat/walk"
)

// Family is one named line of snapshots within a Repository, backed by
// its own key index (the tree of paths seen so far).
type Family struct {
	repo  *Repository
	index *keyindex.Index
}

// Flush commits the family's key index.
func (f *Family) Flush() error { return f.index.Flush() }

// Close flushes and releases the family's key index.
func (f *Family) Close() error { return f.index.Close() }

// walkState is the per-directory payload the parallel walker threads
// through SnapshotDir: which key-index entry is the parent of whatever
// gets discovered next.
type walkState struct {
	parentID *int64
}

// SnapshotDir walks root and records every file and directory under it in
// the family's key index, deduplicating file content against the
// repository's shared hash store (spec §4.5, §4.1).
func (f *Family) SnapshotDir(ctx context.Context, root string) error {
	h := &snapshotHandler{family: f, ctx: ctx}
	walk.Recurse[walkState](ctx, h, root, walkState{}, f.repo.cfg.WalkWorkers)
	return h.err()
}

type snapshotHandler struct {
	family *Family
	ctx    context.Context

	mu       sync.Mutex
	firstErr error
}

func (h *snapshotHandler) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (h *snapshotHandler) HandlePath(state walkState, childPath string, entry fs.DirEntry) (walkState, bool) {
	info, err := entry.Info()
	if err != nil {
		xlog.Warn("could not stat path, skipping", "path", childPath, "err", err)
		return walkState{}, false
	}
	meta := readFsMeta(info)

	keyEntry := keyindex.Entry{
		ParentID:    state.parentID,
		Name:        []byte(filepath.Base(childPath)),
		Modified:    &meta.modified,
		Accessed:    &meta.accessed,
		Permissions: &meta.permissions,
		UserID:      &meta.userID,
		GroupID:     &meta.groupID,
	}
	inserted, err := h.family.index.Insert(keyEntry)
	if err != nil {
		h.recordErr(err)
		return walkState{}, false
	}

	if entry.IsDir() {
		return walkState{parentID: inserted.ID}, true
	}

	if err := h.family.hashFile(h.ctx, childPath, *inserted.ID, meta.modified); err != nil {
		h.recordErr(err)
	}
	return walkState{}, false
}

// recordErr and err are called from concurrent walker workers (HandlePath
// runs under walk.Recurse's bounded goroutine pool), so firstErr needs its
// own lock rather than the walker's external synchronization.
func (h *snapshotHandler) recordErr(err error) {
	h.mu.Lock()
	if h.firstErr == nil {
		h.firstErr = err
	}
	h.mu.Unlock()
	xlog.Error("snapshot error", "err", err)
}

func (h *snapshotHandler) err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.firstErr
}

// hashFile builds the hash tree for the file at path and records its root
// hash and persistent ref on the key entry keyID.
func (f *Family) hashFile(ctx context.Context, path string, keyID int64, modified int64) error {
	file, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "open file %s", path)
	}
	defer file.Close()

	builder := hashtree.NewBuilder(f.repo.store)
	buf := make([]byte, 1<<20)
	for {
		n, readErr := file.Read(buf)
		if n > 0 {
			if err := builder.Write(ctx, buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil {
			break
		}
	}

	root, payload, ref, err := builder.Finish(ctx)
	if err != nil {
		return err
	}
	_ = payload // payload lives in the hash index, keyed by root; not duplicated here.

	// Finish hands back the root's ref directly rather than it being
	// resolved through the hash index: the root chunk was just reserved
	// and won't be promoted to Committed until its blob is flushed, which
	// a snapshot doesn't wait for.
	return f.index.UpdateDataHash(keyID, &modified, &root, &ref)
}

// CheckoutInDir reconstructs every file and directory the family's key
// index knows about, writing them under dir.
func (f *Family) CheckoutInDir(ctx context.Context, dir string) error {
	return f.checkoutLevel(ctx, nil, dir)
}

func (f *Family) checkoutLevel(ctx context.Context, parent *int64, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(errs.Storage, err, "create directory %s", dir)
	}

	entries, err := f.index.ListDir(parent)
	if err != nil {
		return err
	}
	for _, e := range entries {
		childPath := filepath.Join(dir, string(e.Name))

		if e.DataHash == nil {
			if err := f.checkoutLevel(ctx, e.ID, childPath); err != nil {
				return err
			}
			continue
		}

		if err := f.checkoutFile(ctx, childPath, *e.DataHash); err != nil {
			return err
		}
	}
	return nil
}

func (f *Family) checkoutFile(ctx context.Context, path string, root hash.Hash) error {
	payload, err := f.repo.store.FetchPayload(ctx, root)
	if err != nil {
		return err
	}
	if payload == nil {
		return errs.New(errs.Corruption, "checkout: no payload recorded for root %s", root)
	}

	data, err := hashtree.ReadAll(ctx, f.repo.store, root, payload)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errs.Wrap(errs.Storage, err, "write file %s", path)
	}
	return nil
}

