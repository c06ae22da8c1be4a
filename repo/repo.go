// Package repo orchestrates a repository: the on-disk directory holding
// the hash index, blob store, and one key index per named family, wired
// together into the snapshot/checkout operations exposed to cmd/hat.
// Grounded on the original's hat::Hat and key_store::KeyStore.
package repo

import (
	"context"
	"os"
	"path/filepath"

	"github.com/hat-backup/hat/blob"
	"github.com/hat-backup/hat/blob/azblobstore"
	"github.com/hat-backup/hat/blob/localfs"
	"github.com/hat-backup/hat/blob/pebblestore"
	"github.com/hat-backup/hat/blob/s3store"
	"github.com/hat-backup/hat/hash"
	"github.com/hat-backup/hat/hashstore"
	"github.com/hat-backup/hat/internal/config"
	"github.com/hat-backup/hat/internal/errs"
	"github.com/hat-backup/hat/internal/keyedhash"
	"github.com/hat-backup/hat/keyindex"
)

// Repository is an open repository directory: one shared hash index and
// blob store, from which any number of named Families can be opened.
type Repository struct {
	dir       string
	cfg       config.Config
	blobStore *blob.Store
	hashIndex *hash.Index
	store     *hashstore.Backend
}

// repositoryHashKey fits within blake2b's 64-byte key bound and gives every
// repository a stable, content-independent keyed-hash key. Per spec §7,
// the exact key only needs to be consistent for one repository's
// lifetime; it is not a secret.
var repositoryHashKey = []byte("hat-backup repository keyed hash v1")

// OpenRepository opens (creating if necessary) the repository rooted at
// dir, configuring its blob backend and hash index from cfg.
func OpenRepository(ctx context.Context, dir string, cfg config.Config) (*Repository, error) {
	if err := keyedhash.Init(repositoryHashKey); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "create repository directory %s", dir)
	}

	backend, err := openBackend(ctx, dir, cfg)
	if err != nil {
		return nil, err
	}

	blobStore := blob.NewStore(backend, cfg.TargetBlobSize, 64<<20)

	hashIndex, err := hash.Open(filepath.Join(dir, "hash_index.db"), 32<<20)
	if err != nil {
		return nil, err
	}

	return &Repository{
		dir:       dir,
		cfg:       cfg,
		blobStore: blobStore,
		hashIndex: hashIndex,
		store:     hashstore.New(hashIndex, blobStore),
	}, nil
}

func openBackend(ctx context.Context, dir string, cfg config.Config) (blob.Backend, error) {
	switch cfg.Backend {
	case config.BackendLocal, "":
		return localfs.New(filepath.Join(dir, "blobs"))
	case config.BackendPebble:
		return pebblestore.Open(filepath.Join(dir, "blobs-pebble"))
	case config.BackendS3:
		return s3store.New(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region)
	case config.BackendAzBlob:
		return azblobstore.New(cfg.AzBlob.ServiceURL)
	default:
		return nil, errs.New(errs.Message, "repo: unknown backend %q", cfg.Backend)
	}
}

// Flush forces the hash index and any buffered blob to durable storage.
func (r *Repository) Flush(ctx context.Context) error {
	if err := r.blobStore.Flush(ctx); err != nil {
		return err
	}
	return r.hashIndex.Flush()
}

// Close flushes and releases every resource the repository holds.
func (r *Repository) Close(ctx context.Context) error {
	if err := r.Flush(ctx); err != nil {
		return err
	}
	return r.hashIndex.Close()
}

// OpenFamily opens (creating if necessary) the named family's key index.
func (r *Repository) OpenFamily(name string) (*Family, error) {
	path := filepath.Join(r.dir, "family-"+name+".db")
	idx, err := keyindex.Open(path)
	if err != nil {
		return nil, err
	}
	return &Family{repo: r, index: idx}, nil
}
