// Package lifecycle implements bucket and object operations on top of the
// metadata catalog and the object store. It owns the ordering between the
// two: payloads are written before the catalog points at them and released
// only after the catalog has stopped pointing at them.
package lifecycle

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/storage"
	"github.com/google/uuid"
)

// DefaultMaxObjectSize matches the S3 limit for a single PUT.
const DefaultMaxObjectSize int64 = 5 << 30

type Manager struct {
	catalog       catalog.Catalog
	store         *storage.Store
	keys          keyLocks
	now           func() time.Time
	maxObjectSize int64
}

type Option func(*Manager)

// WithClock overrides the time source used for creation and modification
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithMaxObjectSize(n int64) Option {
	return func(m *Manager) {
		m.maxObjectSize = n
	}
}

// Open builds a Manager and reconciles the store's reference counts with
// the catalog before returning it.
func Open(ctx context.Context, cat catalog.Catalog, store *storage.Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		catalog:       cat,
		store:         store,
		now:           time.Now,
		maxObjectSize: DefaultMaxObjectSize,
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, err := m.Reconcile(ctx); err != nil {
		return nil, fmt.Errorf("reconcile store: %w", err)
	}
	return m, nil
}

// Reconcile rebuilds the store's reference counts from the catalog and
// reclaims payloads no record points at. Referenced payloads missing from
// the store are reported as consistency faults in the log.
//
// Reconcile must not run concurrently with other operations.
func (m *Manager) Reconcile(ctx context.Context) (storage.RebuildReport, error) {
	refs, err := m.catalog.HandleRefs(ctx)
	if err != nil {
		return storage.RebuildReport{}, err
	}

	report, err := m.store.Rebuild(ctx, refs)
	if err != nil {
		return report, err
	}

	for _, h := range report.Missing {
		slog.Error("Referenced payload missing from store", "handle", h)
	}
	slog.Info("Reconciled object store",
		"referenced", report.Referenced,
		"reclaimed", len(report.Reclaimed),
		"missing", len(report.Missing),
	)
	return report, nil
}

func (m *Manager) timestamp() time.Time {
	return m.now().UTC()
}

// CreateBucket creates a bucket called name owned by owner.
func (m *Manager) CreateBucket(ctx context.Context, name string, owner string) (catalog.BucketRecord, error) {
	if !ValidBucketName(name) {
		return catalog.BucketRecord{}, fmt.Errorf("%w: %q", ErrInvalidBucketName, name)
	}

	rec := catalog.BucketRecord{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     owner,
		CreatedAt: m.timestamp(),
	}

	err := m.catalog.CreateBucket(ctx, rec)
	if errors.Is(err, catalog.ErrBucketExists) {
		if existing, getErr := m.catalog.GetBucket(ctx, name); getErr == nil && existing.Owner == owner {
			return catalog.BucketRecord{}, fmt.Errorf("%w: %s", ErrAlreadyOwnedByYou, name)
		}
	}
	if err != nil {
		return catalog.BucketRecord{}, translate(err)
	}

	slog.Info("Created bucket", "bucket", name, "owner", owner, "id", rec.ID)
	return rec, nil
}

// GetBucket looks up a bucket by name. Names that were never created,
// including ones that could never be created, fail with ErrNoSuchBucket.
func (m *Manager) GetBucket(ctx context.Context, name string) (catalog.BucketRecord, error) {
	rec, err := m.catalog.GetBucket(ctx, name)
	return rec, translate(err)
}

func (m *Manager) ListBuckets(ctx context.Context, owner string) ([]catalog.BucketRecord, error) {
	return m.catalog.ListBuckets(ctx, owner)
}

// DeleteBucket removes an empty bucket.
func (m *Manager) DeleteBucket(ctx context.Context, name string) error {
	if err := m.catalog.DeleteBucket(ctx, name); err != nil {
		return translate(err)
	}
	slog.Info("Deleted bucket", "bucket", name)
	return nil
}

// PutObject stores data under (bucket, key), replacing any existing object.
// The payload is durable before the catalog is updated, and the replaced
// payload is released only after the update has committed.
func (m *Manager) PutObject(ctx context.Context, bucket string, key string, data []byte, contentType string) (catalog.ObjectRecord, error) {
	if !ValidObjectKey(key) {
		return catalog.ObjectRecord{}, fmt.Errorf("%w: %q", ErrInvalidObjectName, key)
	}
	if size := int64(len(data)); size > m.maxObjectSize {
		return catalog.ObjectRecord{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrEntityTooLarge, size, m.maxObjectSize)
	}
	if _, err := m.catalog.GetBucket(ctx, bucket); err != nil {
		return catalog.ObjectRecord{}, translate(err)
	}

	h, err := m.store.Put(ctx, data)
	if err != nil {
		return catalog.ObjectRecord{}, fmt.Errorf("store payload: %w", err)
	}

	sum := md5.Sum(data)
	rec := catalog.ObjectRecord{
		Bucket:       bucket,
		Key:          key,
		Handle:       h,
		Size:         int64(len(data)),
		ETag:         hex.EncodeToString(sum[:]),
		ContentType:  contentType,
		LastModified: m.timestamp(),
	}

	return m.swap(ctx, rec)
}

// swap points (rec.Bucket, rec.Key) at rec.Handle, on which the caller holds
// a reference. On failure that reference is dropped again.
func (m *Manager) swap(ctx context.Context, rec catalog.ObjectRecord) (catalog.ObjectRecord, error) {
	unlock := m.keys.Lock(rec.Bucket, rec.Key)
	defer unlock()

	prev, err := m.catalog.PutObject(ctx, rec)
	if err != nil {
		// The payload may already be durable; drop our reference even when
		// ctx is what failed.
		if relErr := m.store.Release(context.WithoutCancel(ctx), rec.Handle); relErr != nil {
			slog.Warn("Failed to release payload after aborted put", "handle", rec.Handle, "error", relErr)
		}
		return catalog.ObjectRecord{}, translate(err)
	}

	if prev != nil {
		if err := m.release(ctx, *prev); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// release drops the reference held by a record the catalog no longer
// contains. A counter that is already zero is a consistency fault; a
// backend failure only leaves a payload behind for Reconcile.
func (m *Manager) release(ctx context.Context, rec catalog.ObjectRecord) error {
	err := m.store.Release(context.WithoutCancel(ctx), rec.Handle)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrBlobNotFound):
		fault := &ConsistencyFault{Bucket: rec.Bucket, Key: rec.Key, Handle: rec.Handle, Err: err}
		slog.Error("Released payload had no references", "bucket", rec.Bucket, "key", rec.Key, "handle", rec.Handle, "error", err)
		return fault
	default:
		slog.Warn("Failed to reclaim payload", "handle", rec.Handle, "error", err)
		return nil
	}
}

// GetObject returns the record and payload stored under (bucket, key).
func (m *Manager) GetObject(ctx context.Context, bucket string, key string) (catalog.ObjectRecord, []byte, error) {
	unlock := m.keys.RLock(bucket, key)
	defer unlock()

	rec, err := m.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return catalog.ObjectRecord{}, nil, translate(err)
	}

	data, err := m.store.Get(ctx, rec.Handle)
	if err == nil && int64(len(data)) != rec.Size {
		err = fmt.Errorf("payload is %d bytes, record says %d", len(data), rec.Size)
	}
	if err == nil && storage.HandleFor(data) != rec.Handle {
		err = errors.New("payload does not match its handle")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return catalog.ObjectRecord{}, nil, ctxErr
		}
		slog.Error("Catalog and store disagree", "bucket", bucket, "key", key, "handle", rec.Handle, "error", err)
		return catalog.ObjectRecord{}, nil, &ConsistencyFault{Bucket: bucket, Key: key, Handle: rec.Handle, Err: err}
	}

	return rec, data, nil
}

// HeadObject returns the record stored under (bucket, key) without reading
// the payload.
func (m *Manager) HeadObject(ctx context.Context, bucket string, key string) (catalog.ObjectRecord, error) {
	unlock := m.keys.RLock(bucket, key)
	defer unlock()

	rec, err := m.catalog.GetObject(ctx, bucket, key)
	return rec, translate(err)
}

// DeleteObject removes (bucket, key) and releases its payload. Deleting a
// key that does not exist fails with ErrNoSuchKey.
func (m *Manager) DeleteObject(ctx context.Context, bucket string, key string) error {
	unlock := m.keys.Lock(bucket, key)
	defer unlock()

	removed, err := m.catalog.DeleteObject(ctx, bucket, key)
	if err != nil {
		return translate(err)
	}
	return m.release(ctx, removed)
}

// CopyObject points (dstBucket, dstKey) at the payload of (srcBucket,
// srcKey) without copying bytes.
func (m *Manager) CopyObject(ctx context.Context, srcBucket string, srcKey string, dstBucket string, dstKey string) (catalog.ObjectRecord, error) {
	if !ValidObjectKey(dstKey) {
		return catalog.ObjectRecord{}, fmt.Errorf("%w: %q", ErrInvalidObjectName, dstKey)
	}
	if _, err := m.catalog.GetBucket(ctx, dstBucket); err != nil {
		return catalog.ObjectRecord{}, translate(err)
	}

	src, err := m.acquire(ctx, srcBucket, srcKey)
	if err != nil {
		return catalog.ObjectRecord{}, err
	}

	rec := src
	rec.Bucket = dstBucket
	rec.Key = dstKey
	rec.LastModified = m.timestamp()

	return m.swap(ctx, rec)
}

// acquire takes a reference on the payload of (bucket, key) while the key
// is read locked, so it cannot be released underneath us.
func (m *Manager) acquire(ctx context.Context, bucket string, key string) (catalog.ObjectRecord, error) {
	unlock := m.keys.RLock(bucket, key)
	defer unlock()

	rec, err := m.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return catalog.ObjectRecord{}, translate(err)
	}

	if err := m.store.Acquire(ctx, rec.Handle); err != nil {
		slog.Error("Catalog record references untracked payload", "bucket", bucket, "key", key, "handle", rec.Handle, "error", err)
		return catalog.ObjectRecord{}, &ConsistencyFault{Bucket: bucket, Key: key, Handle: rec.Handle, Err: err}
	}
	return rec, nil
}
