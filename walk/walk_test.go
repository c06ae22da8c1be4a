package walk

import (
	"context"
	"io/fs"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// stubEntry is a minimal fs.DirEntry over a bare name, enough to drive
// Handler without touching the real filesystem.
type stubEntry struct{ name string }

func (s stubEntry) Name() string               { return s.name }
func (s stubEntry) IsDir() bool                 { return true }
func (s stubEntry) Type() fs.FileMode           { return fs.ModeDir }
func (s stubEntry) Info() (fs.FileInfo, error)  { return nil, nil }

// stubHandler replays a fixed, in-memory tree of paths (mirroring the
// original's StubPathHandler) and records which ones were visited, so the
// test can assert every path but the root was handled exactly once.
type stubHandler struct {
	mu      sync.Mutex
	visited map[string]bool
}

func newStubHandler(paths []string) *stubHandler {
	visited := make(map[string]bool, len(paths))
	for _, p := range paths {
		visited[p] = false
	}
	return &stubHandler{visited: visited}
}

func (s *stubHandler) children(dir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.visited {
		if path.Dir(p) == dir && p != dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func (s *stubHandler) ReadDir(dir string) ([]fs.DirEntry, error) {
	var entries []fs.DirEntry
	for _, p := range s.children(dir) {
		entries = append(entries, stubEntry{name: path.Base(p)})
	}
	return entries, nil
}

func (s *stubHandler) HandlePath(parent string, childPath string, entry fs.DirEntry) (string, bool) {
	s.mu.Lock()
	wasVisited, known := s.visited[childPath]
	s.visited[childPath] = true
	s.mu.Unlock()
	if !known || wasVisited {
		panic("path visited more than once or not in tree: " + childPath)
	}
	return childPath, len(s.children(childPath)) > 0
}

func (s *stubHandler) notVisited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p, v := range s.visited {
		if !v {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func TestCanVisitAll(t *testing.T) {
	paths := []string{
		"/", "/foo", "/bar", "/bar/baz", "/bar/baz/qux", "/bar/baz/foo",
		"/bar/baz/bar", "/bar/baz/bar/foo", "/bar/baz/bar/bar",
		"/bar/baz/bar/bar/bar",
		"/empty", "/empty/1", "/empty/2", "/empty/3", "/empty/4",
		"/empty/5", "/empty/6", "/empty/7", "/empty/8", "/empty/9",
	}

	h := newStubHandler(paths)
	Recurse[string](context.Background(), h, "/", "/", 10)

	require.Equal(t, []string{"/"}, h.notVisited())
}
