package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hat.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend = "s3"
target_blob_size = 1048576

[s3]
bucket = "my-backups"
region = "us-east-1"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendS3, cfg.Backend)
	require.Equal(t, 1048576, cfg.TargetBlobSize)
	require.Equal(t, "my-backups", cfg.S3.Bucket)
	require.Equal(t, Default().WalkWorkers, cfg.WalkWorkers, "unset fields fall back to defaults")
}
