// Package config loads the per-repository TOML configuration file
// (<repo>/hat.toml): backend selection, target blob size, and walker
// concurrency. Command-line flags, when given, override values loaded
// here.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Backend names the pluggable blob.Backend implementation to use.
type Backend string

const (
	BackendLocal   Backend = "local"
	BackendPebble  Backend = "pebble"
	BackendS3      Backend = "s3"
	BackendAzBlob  Backend = "azblob"
)

// Config is the repository-level configuration.
type Config struct {
	Backend        Backend `toml:"backend"`
	TargetBlobSize int     `toml:"target_blob_size"`
	WalkWorkers    int     `toml:"walk_workers"`

	S3 struct {
		Bucket string `toml:"bucket"`
		Prefix string `toml:"prefix"`
		Region string `toml:"region"`
	} `toml:"s3"`

	AzBlob struct {
		Container    string `toml:"container"`
		ServiceURL   string `toml:"service_url"`
	} `toml:"azblob"`
}

// Default returns the configuration used when no hat.toml is present.
func Default() Config {
	return Config{
		Backend:        BackendLocal,
		TargetBlobSize: 4 * 1024 * 1024,
		WalkWorkers:    10,
	}
}

// Load reads a TOML configuration file at path, falling back to Default()
// for any field the file does not set, and to Default() entirely when the
// file does not exist.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.TargetBlobSize <= 0 {
		cfg.TargetBlobSize = Default().TargetBlobSize
	}
	if cfg.WalkWorkers <= 0 {
		cfg.WalkWorkers = Default().WalkWorkers
	}
	if cfg.Backend == "" {
		cfg.Backend = Default().Backend
	}
	return cfg, nil
}
