package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioStorage is a Backend that keeps payloads as objects in a single
// bucket of an upstream S3-compatible service. The upstream acknowledges a
// PutObject only after the payload is durable on its side.
type MinioStorage struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioStorage returns a backend writing into bucket on client, with every
// object name starting with prefix.
func NewMinioStorage(client *minio.Client, bucket string, prefix string) *MinioStorage {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &MinioStorage{client: client, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the backing bucket if it does not exist yet.
func (s *MinioStorage) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check backing bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create backing bucket %q: %w", s.bucket, err)
	}
	return nil
}

func (s *MinioStorage) objectName(h Handle) string {
	v := string(h)
	return s.prefix + v[:2] + "/" + v
}

func (s *MinioStorage) WriteBlob(ctx context.Context, h Handle, data []byte) error {
	if err := h.Validate(); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(h), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", h, err)
	}
	return nil
}

func (s *MinioStorage) ReadBlob(ctx context.Context, h Handle) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(h), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.translate(h, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.translate(h, err)
	}
	return data, nil
}

func (s *MinioStorage) RemoveBlob(ctx context.Context, h Handle) error {
	if err := h.Validate(); err != nil {
		return err
	}

	err := s.client.RemoveObject(ctx, s.bucket, s.objectName(h), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("remove blob %s: %w", h, err)
	}
	return nil
}

func (s *MinioStorage) ListBlobs(ctx context.Context) ([]Handle, error) {
	var handles []Handle

	opts := minio.ListObjectsOptions{Prefix: s.prefix, Recursive: true}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, fmt.Errorf("list blobs in %q: %w", s.bucket, info.Err)
		}
		h := Handle(path.Base(info.Key))
		if h.Validate() != nil {
			continue
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *MinioStorage) translate(h Handle, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("%w: %s", ErrBlobNotFound, h)
	}
	return fmt.Errorf("read blob %s: %w", h, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
