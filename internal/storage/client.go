// Package storage keeps uploaded booth photos, rendered outputs and designer
// frame assets in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	ErrObjectTooLarge = errors.New("object too large")
)

const (
	defaultMaxObjectBytes = 25 << 20

	// Rendered outputs are written once under a job id and never change.
	immutableCacheControl = "public, max-age=31536000, immutable"
)

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool

	// MaxObjectBytes bounds ReadObject. Zero means 25 MiB.
	MaxObjectBytes int64
}

type Client struct {
	minio    *minio.Client
	bucket   string
	maxBytes int64
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	maxBytes := cfg.MaxObjectBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxObjectBytes
	}
	return &Client{minio: mc, bucket: cfg.Bucket, maxBytes: maxBytes}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first start. A concurrent creator winning
// the race is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	err = c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", c.bucket, err)
}

// PresignedPutURL lets a booth upload its photo straight to the bucket.
func (c *Client) PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	u, err := c.minio.PresignedPutObject(ctx, c.bucket, objectKey, expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat object %s: %w", objectKey, err)
	}
}

// ReadObject returns the whole object. Objects larger than the configured
// limit fail with ErrObjectTooLarge before their body is read.
func (c *Client) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, c.readError(objectKey, err)
	}
	if info.Size > c.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, objectKey, info.Size)
	}

	data, err := io.ReadAll(io.LimitReader(obj, c.maxBytes))
	if err != nil {
		return nil, c.readError(objectKey, err)
	}
	return data, nil
}

func (c *Client) readError(objectKey string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, objectKey)
	}
	return fmt.Errorf("read object %s: %w", objectKey, err)
}

// WriteObject stores data as an immutable object.
func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	_, err := c.minio.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: immutableCacheControl,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return false
}
