package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one archived object. For snapshots, the base name of
// Path is what clients pass back to fetch it.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter stores an object under path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader opens stored objects. Get returns ErrNotFound for a missing
// path. List returns matches newest first.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// SnapshotArchiver keeps every computed Graphs of a position as an
// immutable document in cold storage.
type SnapshotArchiver interface {
	Archive(ctx context.Context, g Graphs) (string, error)
	List(ctx context.Context, key PositionKey) ([]BlobInfo, error)
	Open(ctx context.Context, key PositionKey, name string) (io.ReadCloser, error)
}
