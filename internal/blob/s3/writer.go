package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// minPartSize is the S3 lower bound for multipart parts (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// immutableCacheControl marks snapshot objects as never changing; each
// computation gets a fresh key.
const immutableCacheControl = "public, max-age=31536000, immutable"

// Writer implements domain.BlobWriter using an S3-compatible backend. Every
// object it writes is tagged immutable.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:       aws.String(w.bucket),
		Key:          aws.String(path),
		Body:         data,
		CacheControl: aws.String(immutableCacheControl),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	return in
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

// PutMultipart uploads data through the multipart upload manager. partSize
// is raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	if _, err := uploader.Upload(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
	}
	return nil
}
