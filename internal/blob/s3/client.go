// Package s3blob stores graph snapshots in S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the configuration for connecting to an object store.
type ClientConfig struct {
	// Endpoint overrides the AWS endpoint for compatible providers. Empty
	// means AWS S3.
	Endpoint string
	Region   string
	Bucket   string

	// AccessKey and SecretKey are static credentials. When both are empty
	// the default AWS credential chain is used instead.
	AccessKey string
	SecretKey string

	// UseSSL picks https when Endpoint has no scheme.
	UseSSL bool

	// ForcePathStyle puts the bucket in the path; MinIO and most compatible
	// providers need it.
	ForcePathStyle bool
}

// Client wraps the AWS S3 SDK client and the snapshot bucket name.
type Client struct {
	s3     *s3.Client
	bucket string
}

// New builds the S3 client and verifies the bucket is reachable, so a
// misconfigured archive fails at startup rather than on the first refresh.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3blob: region is required")
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	c := &Client{s3: client, bucket: cfg.Bucket}
	if err := c.Health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Health issues HeadBucket against the snapshot bucket.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3blob: bucket %s unreachable: %w", c.bucket, err)
	}
	return nil
}

// S3 returns the underlying SDK client.
func (c *Client) S3() *s3.Client {
	return c.s3
}

// Bucket returns the snapshot bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}

// normaliseEndpoint prepends a scheme to endpoint when it has none.
func normaliseEndpoint(endpoint string, useSSL bool) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
