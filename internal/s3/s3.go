// Package s3 is the S3-compatible transport for the object-storage backend.
package s3

import (
	"context"
	"fmt"
	"io"
	"path"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yourorg/scancache/internal/objectstore"
)

type Client struct {
	mc     *minio.Client
	bucket string
}

func New(endpoint, accessKey, secretKey string, useSSL bool, region, bucket string) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}
	return &Client{mc: mc, bucket: bucket}, nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return false
}

// Get reads the whole object at key. A missing key is objectstore.ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.ErrNotFound
		}
		return nil, err
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, objectstore.ErrNotFound
		}
		return nil, fmt.Errorf("read s3://%s/%s: %w", c.bucket, key, err)
	}
	return data, nil
}

func (c *Client) PutFile(ctx context.Context, key, filePath string) error {
	_, err := c.mc.FPutObject(ctx, c.bucket, key, filePath, minio.PutObjectOptions{
		ContentType: "application/x-yaml",
	})
	return err
}

// List walks every object below prefix and keeps those named fileName.
func (c *Client) List(ctx context.Context, prefix, fileName string) ([]string, error) {
	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if path.Base(obj.Key) == fileName {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

var _ objectstore.Bucket = (*Client)(nil)
