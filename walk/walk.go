// Package walk implements the parallel directory walker (spec §4.5):
// bounded-parallelism traversal driven by a work channel carrying either a
// "more work" or "worker finished" message, terminating when the count of
// active workers returns to zero. Grounded directly on the original's
// util::listdir::PathHandler::recurse.
package walk

import (
	"context"
	"io/fs"
	"path/filepath"

	"github.com/hat-backup/hat/internal/xlog"
	"golang.org/x/sync/errgroup"
)

// Handler is the caller-supplied traversal logic for payload type P: P
// travels down the tree, accumulating whatever per-directory state the
// caller needs (e.g. the parent's key-index entry ID).
type Handler[P any] interface {
	// ReadDir lists path's immediate children. A failure here is logged
	// and the directory is skipped, never aborting the rest of the walk.
	ReadDir(path string) ([]fs.DirEntry, error)
	// HandlePath is called once for every child entry found under a
	// visited directory. Returning ok == true queues childPath for
	// recursion with the returned payload; ok == false means don't
	// descend (e.g. childPath is a regular file).
	HandlePath(payload P, childPath string, entry fs.DirEntry) (next P, ok bool)
}

type work[P any] struct {
	done    bool
	path    string
	payload P
}

// Recurse walks the tree rooted at root, calling h.HandlePath once per
// entry discovered. Up to workers directories are read concurrently.
// Recurse blocks until every reachable, readable directory has been
// visited.
func Recurse[P any](ctx context.Context, h Handler[P], root string, payload P, workers int) {
	if workers < 1 {
		workers = 1
	}

	// workCh's buffer is sized generously rather than pinned to workers:
	// a single directory can fan out to far more than workers children, and
	// sizing the buffer to workers would let a worker block pushing new
	// work while the dispatch loop below is itself blocked acquiring a
	// slot from g, deadlocking the whole walk.
	workCh := make(chan work[P], 4096)

	// g bounds the number of directories read concurrently; Go blocks once
	// workers goroutines are outstanding, exactly as the original's
	// scoped_threadpool::Pool of fixed thread count did. The blocking
	// acquire happens in its own goroutine (below), never in the dispatch
	// loop, so the loop is always free to keep draining workCh.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	workCh <- work[P]{path: root, payload: payload}
	active := 0

	for {
		select {
		case <-ctx.Done():
			return
		case w := <-workCh:
			if w.done {
				active--
				if active == 0 {
					return
				}
				continue
			}

			active++
			w := w
			go func() {
				g.Go(func() error {
					defer func() { workCh <- work[P]{done: true} }()
					visitOne(gctx, h, w, workCh)
					return nil
				})
			}()
		}
	}
}

func visitOne[P any](ctx context.Context, h Handler[P], w work[P], workCh chan<- work[P]) {
	entries, err := h.ReadDir(w.path)
	if err != nil {
		xlog.Warn("skipping unreadable directory", "path", w.path, "err", err)
		return
	}
	for _, entry := range entries {
		childPath := filepath.Join(w.path, entry.Name())
		next, ok := h.HandlePath(w.payload, childPath, entry)
		if ok {
			workCh <- work[P]{path: childPath, payload: next}
		}
	}
}
