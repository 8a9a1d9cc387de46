package storage_test

import (
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/gateway"
	"github.com/eteran/cellar/internal/lifecycle"
	"github.com/eteran/cellar/internal/s3api"
	"github.com/eteran/cellar/internal/storage"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
)

// newUpstream serves an in-memory S3 endpoint for MinioStorage to write to.
func newUpstream(t *testing.T) *minio.Client {
	t.Helper()

	manager, err := lifecycle.Open(t.Context(), catalog.NewMemory(), storage.NewStore(storage.NewMemoryStorage()))
	require.NoError(t, err)

	httpSrv := httptest.NewServer(s3api.NewServer(gateway.New(manager)).Handler())
	t.Cleanup(httpSrv.Close)

	u, err := url.Parse(httpSrv.URL)
	require.NoError(t, err)

	client, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure:       false,
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err)
	return client
}

func TestMinioStorageRoundTrip(t *testing.T) {
	t.Parallel()

	client := newUpstream(t)
	ctx := t.Context()

	backend := storage.NewMinioStorage(client, "cellar-blobs", "payloads")
	require.NoError(t, backend.EnsureBucket(ctx, "us-east-1"))
	require.NoError(t, backend.EnsureBucket(ctx, "us-east-1"), "EnsureBucket is idempotent")

	data := []byte("remote payload")
	h := storage.HandleFor(data)

	require.NoError(t, backend.WriteBlob(ctx, h, data))

	got, err := backend.ReadBlob(ctx, h)
	require.NoError(t, err)
	require.Equal(t, data, got)

	handles, err := backend.ListBlobs(ctx)
	require.NoError(t, err)
	require.Equal(t, []storage.Handle{h}, handles)

	require.NoError(t, backend.RemoveBlob(ctx, h))
	require.NoError(t, backend.RemoveBlob(ctx, h), "removing a missing blob is not an error")

	_, err = backend.ReadBlob(ctx, h)
	require.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestMinioStorageBehindStore(t *testing.T) {
	t.Parallel()

	client := newUpstream(t)
	ctx := t.Context()

	backend := storage.NewMinioStorage(client, "cellar-blobs", "")
	require.NoError(t, backend.EnsureBucket(ctx, "us-east-1"))

	store := storage.NewStore(backend)

	h1, err := store.Put(ctx, []byte("shared"))
	require.NoError(t, err)
	h2, err := store.Put(ctx, []byte("shared"))
	require.NoError(t, err)
	require.Equal(t, h1, h2)
	require.Equal(t, 2, store.Refs(h1))

	orphan := []byte("orphan")
	require.NoError(t, backend.WriteBlob(ctx, storage.HandleFor(orphan), orphan))

	report, err := store.Rebuild(ctx, map[storage.Handle]int{h1: 1})
	require.NoError(t, err)
	require.Equal(t, []storage.Handle{storage.HandleFor(orphan)}, report.Reclaimed)
	require.Empty(t, report.Missing)

	require.NoError(t, store.Release(ctx, h1))
	_, err = store.Get(ctx, h1)
	require.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestMinioStorageRejectsMalformedHandle(t *testing.T) {
	t.Parallel()

	backend := storage.NewMinioStorage(newUpstream(t), "cellar-blobs", "")
	require.Error(t, backend.WriteBlob(t.Context(), storage.Handle("nothex"), []byte("x")))
}
