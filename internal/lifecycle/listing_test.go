package lifecycle

import (
	"fmt"
	"testing"

	"github.com/eteran/cellar/internal/catalog"
	"github.com/eteran/cellar/internal/storage"
	"github.com/stretchr/testify/require"
)

func newListingFixture(t *testing.T, keys ...string) *Manager {
	t.Helper()

	f := newFixtureWith(t, catalog.NewMemory(), storage.NewMemoryStorage())
	_, err := f.manager.CreateBucket(t.Context(), "docs", "alice")
	require.NoError(t, err)

	for _, key := range keys {
		_, err := f.manager.PutObject(t.Context(), "docs", key, []byte(key), "")
		require.NoError(t, err)
	}
	return f.manager
}

func objectKeys(res ListResult) []string {
	keys := []string{}
	for _, rec := range res.Objects {
		keys = append(keys, rec.Key)
	}
	return keys
}

func TestListObjectsDelimiter(t *testing.T) {
	t.Parallel()

	m := newListingFixture(t, "a.txt", "dir/x", "dir/y", "dir/sub/z", "other/q", "z.txt")

	res, err := m.ListObjects(t.Context(), "docs", ListOptions{Delimiter: "/"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "z.txt"}, objectKeys(res))
	require.Equal(t, []string{"dir/", "other/"}, res.CommonPrefixes)
	require.False(t, res.IsTruncated)
	require.Empty(t, res.NextMarker)

	res, err = m.ListObjects(t.Context(), "docs", ListOptions{Prefix: "dir/", Delimiter: "/"})
	require.NoError(t, err)
	require.Equal(t, []string{"dir/x", "dir/y"}, objectKeys(res))
	require.Equal(t, []string{"dir/sub/"}, res.CommonPrefixes)
}

func TestListObjectsPagination(t *testing.T) {
	t.Parallel()

	var keys []string
	for i := range 7 {
		keys = append(keys, fmt.Sprintf("key-%02d", i))
	}
	m := newListingFixture(t, keys...)

	var (
		seen   []string
		marker string
		pages  int
	)
	for {
		res, err := m.ListObjects(t.Context(), "docs", ListOptions{StartAfter: marker, MaxKeys: 3})
		require.NoError(t, err)
		seen = append(seen, objectKeys(res)...)
		pages++
		if !res.IsTruncated {
			break
		}
		marker = res.NextMarker
	}

	require.Equal(t, keys, seen)
	require.Equal(t, 3, pages)
}

func TestListObjectsPaginationOverCommonPrefixes(t *testing.T) {
	t.Parallel()

	m := newListingFixture(t, "a/1", "a/2", "b/1", "c", "d/1", "d/2")

	res, err := m.ListObjects(t.Context(), "docs", ListOptions{Delimiter: "/", MaxKeys: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"a/", "b/"}, res.CommonPrefixes)
	require.True(t, res.IsTruncated)
	require.Equal(t, "b/", res.NextMarker)

	res, err = m.ListObjects(t.Context(), "docs", ListOptions{Delimiter: "/", MaxKeys: 2, StartAfter: res.NextMarker})
	require.NoError(t, err)
	require.Equal(t, []string{"c"}, objectKeys(res))
	require.Equal(t, []string{"d/"}, res.CommonPrefixes)
	require.False(t, res.IsTruncated)
}

func TestListObjectsExactPageIsNotTruncated(t *testing.T) {
	t.Parallel()

	m := newListingFixture(t, "a", "b")

	res, err := m.ListObjects(t.Context(), "docs", ListOptions{MaxKeys: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, objectKeys(res))
	require.False(t, res.IsTruncated)
}

func TestListObjectsNoSuchBucket(t *testing.T) {
	t.Parallel()

	m := newListingFixture(t)

	_, err := m.ListObjects(t.Context(), "nope", ListOptions{})
	require.ErrorIs(t, err, ErrNoSuchBucket)

	res, err := m.ListObjects(t.Context(), "docs", ListOptions{})
	require.NoError(t, err)
	require.Empty(t, res.Objects)
	require.Empty(t, res.CommonPrefixes)
}
