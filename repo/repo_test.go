package repo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hat-backup/hat/internal/config"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	cfg := config.Default()
	cfg.TargetBlobSize = 1 << 16
	r, err := OpenRepository(context.Background(), filepath.Join(t.TempDir(), "repo"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(context.Background()) })
	return r
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestSnapshotCheckoutRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src, map[string]string{
		"a.txt":        "hello",
		"dir/b.txt":    "world",
		"dir/sub/c.go": "package main\n",
	})

	family, err := r.OpenFamily("test")
	require.NoError(t, err)
	require.NoError(t, family.SnapshotDir(ctx, src))
	require.NoError(t, family.Flush())
	require.NoError(t, r.Flush(ctx))

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, family.CheckoutInDir(ctx, filepath.Join(dst, filepath.Base(src))))

	for rel, content := range map[string]string{
		"a.txt":        "hello",
		"dir/b.txt":    "world",
		"dir/sub/c.go": "package main\n",
	} {
		got, err := os.ReadFile(filepath.Join(dst, filepath.Base(src), rel))
		require.NoError(t, err)
		require.Equal(t, content, string(got))
	}
}

func TestSnapshotDeduplicatesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	src := filepath.Join(t.TempDir(), "src")
	writeTree(t, src, map[string]string{
		"one.txt": "identical payload",
		"two.txt": "identical payload",
	})

	family, err := r.OpenFamily("dedup")
	require.NoError(t, err)
	require.NoError(t, family.SnapshotDir(ctx, src))
	require.NoError(t, family.Flush())

	one, err := family.index.Lookup(nil, []byte("one.txt"))
	require.NoError(t, err)
	two, err := family.index.Lookup(nil, []byte("two.txt"))
	require.NoError(t, err)
	require.NotNil(t, one.DataHash)
	require.NotNil(t, two.DataHash)
	require.True(t, one.DataHash.Equal(*two.DataHash), "identical file content must hash to the same tree root")
}

func TestSnapshotLargeFileSpansMultipleChunks(t *testing.T) {
	ctx := context.Background()
	r := newTestRepo(t)

	src := filepath.Join(t.TempDir(), "src")
	big := make([]byte, 3<<20)
	for i := range big {
		big[i] = byte(i * 31)
	}
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "big.bin"), big, 0o644))

	family, err := r.OpenFamily("large")
	require.NoError(t, err)
	require.NoError(t, family.SnapshotDir(ctx, src))
	require.NoError(t, family.Flush())
	require.NoError(t, r.Flush(ctx))

	dst := filepath.Join(t.TempDir(), "dst")
	require.NoError(t, family.CheckoutInDir(ctx, filepath.Join(dst, filepath.Base(src))))

	got, err := os.ReadFile(filepath.Join(dst, filepath.Base(src), "big.bin"))
	require.NoError(t, err)
	require.Equal(t, big, got)
}
