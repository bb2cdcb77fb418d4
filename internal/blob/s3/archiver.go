package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dcagraph/internal/domain"
	"github.com/alanyoungcy/dcagraph/internal/view"
)

// multipartThreshold is the payload size above which snapshots go through
// the multipart uploader.
const multipartThreshold = 8 * 1024 * 1024

const snapshotContentType = "application/json"

// SnapshotWriter is the writer surface the archiver needs.
type SnapshotWriter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// SnapshotArchiver implements domain.SnapshotArchiver. Each computation of a
// position's graphs is written as one immutable JSON document:
//
//	snapshots/{chain}/{hub}/{positionId}/{unix}-{uuid}.json
type SnapshotArchiver struct {
	writer SnapshotWriter
	reader domain.BlobReader
}

// NewSnapshotArchiver creates a SnapshotArchiver.
func NewSnapshotArchiver(writer SnapshotWriter, reader domain.BlobReader) *SnapshotArchiver {
	return &SnapshotArchiver{writer: writer, reader: reader}
}

// Archive serializes g and uploads it, returning the object path.
func (a *SnapshotArchiver) Archive(ctx context.Context, g domain.Graphs) (string, error) {
	data, err := json.Marshal(view.NewGraphs(g))
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal snapshot %s: %w", g.Key, err)
	}

	computed := g.ComputedAt
	if computed.IsZero() {
		computed = time.Now()
	}
	path := snapshotPath(g.Key, computed, uuid.NewString())

	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), snapshotContentType, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), snapshotContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot %s: %w", g.Key, err)
	}
	return path, nil
}

// List returns the stored snapshots of key.
func (a *SnapshotArchiver) List(ctx context.Context, key domain.PositionKey) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, snapshotPrefix(key))
	if err != nil {
		return nil, fmt.Errorf("s3blob: list snapshots %s: %w", key, err)
	}
	return infos, nil
}

// Open returns the raw JSON of one snapshot of key. name is the object's
// base name as returned by List.
func (a *SnapshotArchiver) Open(ctx context.Context, key domain.PositionKey, name string) (io.ReadCloser, error) {
	if name == "" || strings.ContainsAny(name, "/\\") || !strings.HasSuffix(name, ".json") {
		return nil, fmt.Errorf("s3blob: snapshot name %q: %w", name, domain.ErrNotFound)
	}
	return a.reader.Get(ctx, snapshotPrefix(key)+name)
}

func snapshotPrefix(key domain.PositionKey) string {
	return fmt.Sprintf("snapshots/%d/%s/%d/", key.ChainID, strings.ToLower(key.Hub.Hex()), key.PositionID)
}

func snapshotPath(key domain.PositionKey, at time.Time, id string) string {
	return fmt.Sprintf("%s%d-%s.json", snapshotPrefix(key), at.Unix(), id)
}

// Compile-time interface checks.
var (
	_ domain.SnapshotArchiver = (*SnapshotArchiver)(nil)
	_ SnapshotWriter          = (*Writer)(nil)
	_ domain.BlobReader       = (*Reader)(nil)
)
