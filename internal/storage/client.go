// Package storage wraps the object store the pipeline reads sources
// from and writes derivatives to. Buckets are a per-call argument
// because the triggering event names the bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound reports that the requested object key does not exist.
var ErrNotFound = errors.New("object not found")

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	UseSSL   bool
}

type Client struct {
	minio *minio.Client
}

func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{minio: mc}, nil
}

func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.minio.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	return nil
}

// Get fetches the full object. A missing key yields ErrNotFound so the
// caller can distinguish it from transport failures.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, ErrNotFound)
		}
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

// Exists probes a key with a single-byte ranged read rather than a
// stat call, so the probe transfers at most one byte of content. A
// missing key is false, not an error; anything else propagates.
func (c *Client) Exists(ctx context.Context, bucket, key string) (bool, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(0, 0); err != nil {
		return false, fmt.Errorf("set probe range: %w", err)
	}

	obj, err := c.minio.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return false, fmt.Errorf("probe object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	probe := make([]byte, 1)
	_, err = obj.Read(probe)
	if err == nil || err == io.EOF {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, fmt.Errorf("probe object %s/%s: %w", bucket, key, err)
}

// Put writes a derivative with its content type and cache directive.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType, cacheControl string) error {
	reader := bytes.NewReader(data)
	_, err := c.minio.PutObject(
		ctx,
		bucket,
		key,
		reader,
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType:  contentType,
			CacheControl: cacheControl,
		},
	)
	if err != nil {
		return fmt.Errorf("put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}
