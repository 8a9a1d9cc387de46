// Package catalog maps bucket names and (bucket, key) pairs to their
// metadata records. It is the single source of truth for what exists; the
// payloads themselves live in the storage package.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/eteran/cellar/internal/storage"
)

var (
	ErrBucketExists   = errors.New("bucket already exists")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrBucketNotEmpty = errors.New("bucket not empty")
	ErrObjectNotFound = errors.New("object not found")
)

// BucketRecord describes a bucket.
type BucketRecord struct {
	ID        string
	Name      string
	Owner     string
	CreatedAt time.Time
}

// ObjectRecord describes the current version of an object.
type ObjectRecord struct {
	Bucket       string
	Key          string
	Handle       storage.Handle
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// ListQuery selects a contiguous, key-ordered range of a bucket.
type ListQuery struct {
	// Prefix restricts results to keys starting with it.
	Prefix string
	// StartAfter restricts results to keys strictly greater than it.
	StartAfter string
	// Limit caps the number of records returned; zero or less means no cap.
	Limit int
}

// Catalog is the metadata store. Every mutating call is atomic: concurrent
// readers observe either the state before it or the state after it.
type Catalog interface {
	// CreateBucket inserts rec, failing with ErrBucketExists if the name is
	// taken by anyone.
	CreateBucket(ctx context.Context, rec BucketRecord) error

	// GetBucket returns the bucket called name or ErrBucketNotFound.
	GetBucket(ctx context.Context, name string) (BucketRecord, error)

	// ListBuckets returns the buckets owned by owner ordered by name. An
	// empty owner lists every bucket.
	ListBuckets(ctx context.Context, owner string) ([]BucketRecord, error)

	// DeleteBucket removes an empty bucket.
	DeleteBucket(ctx context.Context, name string) error

	// PutObject inserts or replaces the record for (rec.Bucket, rec.Key) and
	// returns the record it replaced, if any.
	PutObject(ctx context.Context, rec ObjectRecord) (*ObjectRecord, error)

	// GetObject returns the record for (bucket, key).
	GetObject(ctx context.Context, bucket string, key string) (ObjectRecord, error)

	// ListObjects returns the records of bucket matching q in byte-wise
	// lexicographic key order.
	ListObjects(ctx context.Context, bucket string, q ListQuery) ([]ObjectRecord, error)

	// DeleteObject removes the record for (bucket, key) and returns it.
	DeleteObject(ctx context.Context, bucket string, key string) (ObjectRecord, error)

	// HandleRefs counts, for every payload handle, the records pointing at it.
	HandleRefs(ctx context.Context) (map[storage.Handle]int, error)

	Close() error
}
