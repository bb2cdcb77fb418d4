package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/dcagraph/internal/domain"
)

// listPageSize bounds a single ListObjectsV2 call.
const listPageSize = 500

// Reader reads snapshot objects from the configured bucket.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader over c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{client: c.S3(), bucket: c.Bucket()}
}

// Get opens the object at path. The caller closes the body. A missing object
// yields domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(path),
	})
	switch {
	case err == nil:
		return out.Body, nil
	case isNotFound(err):
		return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
	default:
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
}

// List walks every page under prefix and returns the JSON objects found,
// newest first. Directory markers and foreign files are skipped.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket:  aws.String(r.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(listPageSize),
	})

	var infos []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if info, ok := snapshotInfo(obj); ok {
				infos = append(infos, info)
			}
		}
	}

	sortNewestFirst(infos)
	return infos, nil
}

func snapshotInfo(obj types.Object) (domain.BlobInfo, bool) {
	path := aws.ToString(obj.Key)
	if !strings.HasSuffix(path, ".json") {
		return domain.BlobInfo{}, false
	}
	info := domain.BlobInfo{
		Path:        path,
		Size:        aws.ToInt64(obj.Size),
		ContentType: snapshotContentType,
	}
	if obj.LastModified != nil {
		info.LastModified = *obj.LastModified
	}
	return info, true
}

// sortNewestFirst orders by modification time, then path, both descending.
// Snapshot names start with the unix second so the path breaks ties in
// creation order.
func sortNewestFirst(infos []domain.BlobInfo) {
	slices.SortStableFunc(infos, func(a, b domain.BlobInfo) int {
		if c := b.LastModified.Compare(a.LastModified); c != 0 {
			return c
		}
		return strings.Compare(b.Path, a.Path)
	})
}

// isNotFound reports whether err means the object is absent. GetObject
// returns NoSuchKey; HeadObject and some S3-compatible stores only give a
// bare 404.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
