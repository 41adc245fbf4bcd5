// Package objectstore wraps the MinIO bucket storage holding plant photos.
package objectstore

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/TFMV/arbor/pkg/errors"
)

const codeNoSuchKey = "NoSuchKey"

// Config describes a MinIO endpoint.
type Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Secure    bool   `json:"secure" yaml:"secure"`
}

// Validate checks that the endpoint and credentials are set.
func (c Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return errors.New(errors.CodeInvalidArgument, "object store endpoint is required")
	case c.AccessKey == "":
		return errors.New(errors.CodeInvalidArgument, "object store access key is required")
	case c.SecretKey == "":
		return errors.New(errors.CodeInvalidArgument, "object store secret key is required")
	}
	return nil
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket string
	Key    string
	Size   int64
}

// Client is a MinIO backed object store.
type Client struct {
	client *minio.Client
	logger zerolog.Logger
}

// New creates a client for cfg. No request is made until the first call.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to create object store client").
			WithDetail("endpoint", cfg.Endpoint)
	}
	return &Client{
		client: mc,
		logger: logger.With().Str("component", "objectstore").Str("endpoint", cfg.Endpoint).Logger(),
	}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return errors.Wrapf(err, errors.CodeConnectionFailed, "failed to check bucket %s", bucket)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create bucket %s", bucket)
	}
	c.logger.Info().Str("bucket", bucket).Msg("Bucket created")
	return nil
}

// Stat returns the object metadata. A missing object is a NotFound error.
func (c *Client) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	info, err := c.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == codeNoSuchKey {
			return ObjectInfo{}, errors.Newf(errors.CodeNotFound, "object %s/%s not found", bucket, key)
		}
		return ObjectInfo{}, errors.Wrapf(err, errors.CodeInternal, "failed to stat %s/%s", bucket, key)
	}
	return ObjectInfo{Bucket: bucket, Key: info.Key, Size: info.Size}, nil
}

// Get opens the object for reading. The caller closes the reader.
func (c *Client) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to get %s/%s", bucket, key)
	}
	c.logger.Debug().Str("bucket", bucket).Str("key", key).Msg("Object opened")
	return obj, nil
}

// Put uploads size bytes from r as bucket/key.
func (c *Client) Put(ctx context.Context, bucket, key string, r io.Reader, size int64) error {
	info, err := c.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to put %s/%s", bucket, key)
	}
	c.logger.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Object uploaded")
	return nil
}
