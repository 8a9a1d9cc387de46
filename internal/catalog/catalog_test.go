package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/eteran/cellar/internal/storage"
	"github.com/stretchr/testify/require"
)

type catalogFactory func(t *testing.T) Catalog

func implementations() map[string]catalogFactory {
	return map[string]catalogFactory{
		"sqlite": func(t *testing.T) Catalog {
			t.Helper()
			db, err := OpenSQLite(t.Context(), filepath.Join(t.TempDir(), "metadata.sqlite"))
			require.NoError(t, err, "OpenSQLite")
			t.Cleanup(func() { _ = db.Close() })
			return db
		},
		"memory": func(t *testing.T) Catalog {
			t.Helper()
			return NewMemory()
		},
	}
}

// forEachCatalog runs fn as a parallel subtest against every implementation.
func forEachCatalog(t *testing.T, fn func(t *testing.T, cat Catalog)) {
	t.Helper()
	for name, open := range implementations() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, open(t))
		})
	}
}

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 6000, time.UTC)

func bucketRecord(name string, owner string) BucketRecord {
	return BucketRecord{
		ID:        "id-" + name,
		Name:      name,
		Owner:     owner,
		CreatedAt: epoch,
	}
}

func objectRecord(bucket string, key string, payload string) ObjectRecord {
	return ObjectRecord{
		Bucket:       bucket,
		Key:          key,
		Handle:       storage.HandleFor([]byte(payload)),
		Size:         int64(len(payload)),
		ETag:         "etag-" + payload,
		ContentType:  "text/plain",
		LastModified: epoch,
	}
}

func mustCreateBucket(t *testing.T, cat Catalog, name string) {
	t.Helper()
	require.NoErrorf(t, cat.CreateBucket(t.Context(), bucketRecord(name, "alice")), "CreateBucket %s", name)
}

func TestCreateAndGetBucket(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()

		want := bucketRecord("photos", "alice")
		require.NoError(t, cat.CreateBucket(ctx, want))

		got, err := cat.GetBucket(ctx, "photos")
		require.NoError(t, err)
		require.Equal(t, want, got)

		err = cat.CreateBucket(ctx, bucketRecord("photos", "bob"))
		require.ErrorIs(t, err, ErrBucketExists)

		got, err = cat.GetBucket(ctx, "photos")
		require.NoError(t, err)
		require.Equal(t, "alice", got.Owner, "owner must not change on a failed create")

		_, err = cat.GetBucket(ctx, "missing")
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestListBucketsByOwner(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()

		require.NoError(t, cat.CreateBucket(ctx, bucketRecord("zeta", "alice")))
		require.NoError(t, cat.CreateBucket(ctx, bucketRecord("alpha", "alice")))
		require.NoError(t, cat.CreateBucket(ctx, bucketRecord("mid", "bob")))

		names := func(recs []BucketRecord) []string {
			out := []string{}
			for _, r := range recs {
				out = append(out, r.Name)
			}
			return out
		}

		all, err := cat.ListBuckets(ctx, "")
		require.NoError(t, err)
		require.Equal(t, []string{"alpha", "mid", "zeta"}, names(all))

		alice, err := cat.ListBuckets(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, []string{"alpha", "zeta"}, names(alice))

		none, err := cat.ListBuckets(ctx, "carol")
		require.NoError(t, err)
		require.Empty(t, none)
	})
}

func TestPutObjectReturnsReplacedRecord(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		first := objectRecord("docs", "a.txt", "one")
		prev, err := cat.PutObject(ctx, first)
		require.NoError(t, err)
		require.Nil(t, prev)

		second := objectRecord("docs", "a.txt", "two")
		prev, err = cat.PutObject(ctx, second)
		require.NoError(t, err)
		require.NotNil(t, prev)
		require.Equal(t, first, *prev)

		got, err := cat.GetObject(ctx, "docs", "a.txt")
		require.NoError(t, err)
		require.Equal(t, second, got)
	})
}

func TestPutObjectMissingBucket(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		_, err := cat.PutObject(t.Context(), objectRecord("nope", "k", "v"))
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestGetObjectDistinguishesBucketAndKey(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		_, err := cat.GetObject(ctx, "nope", "k")
		require.ErrorIs(t, err, ErrBucketNotFound)

		_, err = cat.GetObject(ctx, "docs", "k")
		require.ErrorIs(t, err, ErrObjectNotFound)
	})
}

func TestListObjectsOrderPrefixAndStartAfter(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		for _, key := range []string{"b/2", "a", "b/1", "B", "c", "b/10"} {
			_, err := cat.PutObject(ctx, objectRecord("docs", key, key))
			require.NoError(t, err)
		}

		keys := func(q ListQuery) []string {
			recs, err := cat.ListObjects(ctx, "docs", q)
			require.NoError(t, err)
			out := []string{}
			for _, r := range recs {
				out = append(out, r.Key)
			}
			return out
		}

		require.Equal(t, []string{"B", "a", "b/1", "b/10", "b/2", "c"}, keys(ListQuery{}))
		require.Equal(t, []string{"b/1", "b/10", "b/2"}, keys(ListQuery{Prefix: "b/"}))
		require.Equal(t, []string{"b/10", "b/2", "c"}, keys(ListQuery{StartAfter: "b/1"}))
		require.Equal(t, []string{"b/2"}, keys(ListQuery{Prefix: "b/", StartAfter: "b/10"}))
		require.Equal(t, []string{"B", "a"}, keys(ListQuery{Limit: 2}))
		require.Empty(t, keys(ListQuery{Prefix: "zzz"}))

		_, err := cat.ListObjects(ctx, "nope", ListQuery{})
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestListObjectsPrefixIsLiteral(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		for _, key := range []string{"100%", "100_", "1000", "a_b", "axb"} {
			_, err := cat.PutObject(ctx, objectRecord("docs", key, key))
			require.NoError(t, err)
		}

		recs, err := cat.ListObjects(ctx, "docs", ListQuery{Prefix: "100%"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "100%", recs[0].Key)

		recs, err = cat.ListObjects(ctx, "docs", ListQuery{Prefix: "a_"})
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Equal(t, "a_b", recs[0].Key)
	})
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		rec := objectRecord("docs", "a.txt", "one")
		_, err := cat.PutObject(ctx, rec)
		require.NoError(t, err)

		removed, err := cat.DeleteObject(ctx, "docs", "a.txt")
		require.NoError(t, err)
		require.Equal(t, rec, removed)

		_, err = cat.GetObject(ctx, "docs", "a.txt")
		require.ErrorIs(t, err, ErrObjectNotFound)

		_, err = cat.DeleteObject(ctx, "docs", "a.txt")
		require.ErrorIs(t, err, ErrObjectNotFound)

		_, err = cat.DeleteObject(ctx, "nope", "a.txt")
		require.ErrorIs(t, err, ErrBucketNotFound)
	})
}

func TestDeleteBucketOnlyWhenEmpty(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "docs")

		_, err := cat.PutObject(ctx, objectRecord("docs", "a.txt", "one"))
		require.NoError(t, err)

		require.ErrorIs(t, cat.DeleteBucket(ctx, "docs"), ErrBucketNotEmpty)

		_, err = cat.DeleteObject(ctx, "docs", "a.txt")
		require.NoError(t, err)

		require.NoError(t, cat.DeleteBucket(ctx, "docs"))
		require.ErrorIs(t, cat.DeleteBucket(ctx, "docs"), ErrBucketNotFound)

		_, err = cat.GetBucket(ctx, "docs")
		require.ErrorIs(t, err, ErrBucketNotFound)

		// The name is free again.
		require.NoError(t, cat.CreateBucket(ctx, bucketRecord("docs", "bob")))
	})
}

func TestHandleRefs(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		ctx := t.Context()
		mustCreateBucket(t, cat, "one")
		mustCreateBucket(t, cat, "two")

		for _, rec := range []ObjectRecord{
			objectRecord("one", "a", "shared"),
			objectRecord("one", "b", "shared"),
			objectRecord("two", "a", "shared"),
			objectRecord("two", "b", "unique"),
		} {
			_, err := cat.PutObject(ctx, rec)
			require.NoError(t, err)
		}

		refs, err := cat.HandleRefs(ctx)
		require.NoError(t, err)
		require.Equal(t, map[storage.Handle]int{
			storage.HandleFor([]byte("shared")): 3,
			storage.HandleFor([]byte("unique")): 1,
		}, refs)
	})
}

func TestConcurrentCreateBucketSingleWinner(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		const workers = 16

		var wg sync.WaitGroup
		errs := make([]error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = cat.CreateBucket(context.Background(), bucketRecord("race", fmt.Sprintf("owner-%d", i)))
			}()
		}
		wg.Wait()

		winners := 0
		for _, err := range errs {
			if err == nil {
				winners++
				continue
			}
			require.ErrorIs(t, err, ErrBucketExists)
		}
		require.Equal(t, 1, winners)
	})
}

func TestConcurrentPutsAcrossBuckets(t *testing.T) {
	t.Parallel()

	forEachCatalog(t, func(t *testing.T, cat Catalog) {
		const (
			buckets = 4
			keys    = 25
		)

		for b := range buckets {
			mustCreateBucket(t, cat, fmt.Sprintf("bucket-%d", b))
		}

		var wg sync.WaitGroup
		errs := make([]error, buckets)
		for b := range buckets {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for k := range keys {
					rec := objectRecord(fmt.Sprintf("bucket-%d", b), fmt.Sprintf("key-%02d", k), "payload")
					if _, err := cat.PutObject(context.Background(), rec); err != nil {
						errs[b] = err
						return
					}
				}
			}()
		}
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}

		for b := range buckets {
			recs, err := cat.ListObjects(t.Context(), fmt.Sprintf("bucket-%d", b), ListQuery{})
			require.NoError(t, err)
			require.Len(t, recs, keys)
		}

		refs, err := cat.HandleRefs(t.Context())
		require.NoError(t, err)
		require.Equal(t, buckets*keys, refs[storage.HandleFor([]byte("payload"))])
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "metadata.sqlite")

	db, err := OpenSQLite(t.Context(), path)
	require.NoError(t, err)
	require.NoError(t, db.CreateBucket(t.Context(), bucketRecord("docs", "alice")))
	rec := objectRecord("docs", "a.txt", "one")
	_, err = db.PutObject(t.Context(), rec)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = OpenSQLite(t.Context(), path)
	require.NoError(t, err, "reopen must re-apply migrations idempotently")
	t.Cleanup(func() { _ = db.Close() })

	got, err := db.GetObject(t.Context(), "docs", "a.txt")
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestOpenSQLiteRejectsEmptyPath(t *testing.T) {
	t.Parallel()

	_, err := OpenSQLite(t.Context(), "")
	require.Error(t, err)
}
