package blob

import "context"

// Backend abstracts the pluggable object-storage layer blobs are written
// to and read from. Names are opaque bytes the blob store assigns; the
// backend never interprets them.
type Backend interface {
	Put(ctx context.Context, name []byte, data []byte) error
	Get(ctx context.Context, name []byte) ([]byte, error) // nil, nil on miss
	List(ctx context.Context) ([][]byte, error)
}
