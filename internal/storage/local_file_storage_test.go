package storage_test

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/eteran/cellar/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestLocalFileStorageWriteAndRead(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)

	payload := []byte("hello local storage")
	h := storage.HandleFor(payload)

	// Write should succeed and create the expected path on disk.
	require.NoError(t, engine.WriteBlob(t.Context(), h, payload), "WriteBlob error")

	objPath := filepath.Join(dataDir, string(h)[:2], string(h))
	info, err := os.Stat(objPath)
	require.NoError(t, err, "expected blob file to exist")
	require.False(t, info.IsDir(), "blob path should be a file")

	got, err := engine.ReadBlob(t.Context(), h)
	require.NoError(t, err, "ReadBlob error")
	require.Equal(t, payload, got, "payload mismatch")
}

func TestLocalFileStorageInvalidHandle(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())

	err := engine.WriteBlob(t.Context(), "a", []byte("data"))
	require.Error(t, err, "expected error for too-short handle")

	_, err = engine.ReadBlob(t.Context(), "zz")
	require.Error(t, err, "expected error for malformed handle on ReadBlob")
}

func TestLocalFileStorageReadMissing(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())

	_, err := engine.ReadBlob(t.Context(), storage.HandleFor([]byte("never written")))
	require.ErrorIs(t, err, storage.ErrBlobNotFound)
}

func TestLocalFileStorageRemove(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)

	payload := []byte("short lived")
	h := storage.HandleFor(payload)
	require.NoError(t, engine.WriteBlob(t.Context(), h, payload))

	require.NoError(t, engine.RemoveBlob(t.Context(), h), "RemoveBlob error")
	_, err := engine.ReadBlob(t.Context(), h)
	require.ErrorIs(t, err, storage.ErrBlobNotFound)

	// Removing again is not an error.
	require.NoError(t, engine.RemoveBlob(t.Context(), h), "second RemoveBlob error")
}

// samePrefixPayloads returns n distinct payloads whose handles share their
// two-character directory prefix.
func samePrefixPayloads(n int) [][]byte {
	var (
		payloads [][]byte
		prefix   string
	)
	for i := 0; len(payloads) < n; i++ {
		data := []byte(fmt.Sprintf("payload-%d", i))
		h := string(storage.HandleFor(data))
		if prefix == "" {
			prefix = h[:2]
		}
		if h[:2] == prefix {
			payloads = append(payloads, data)
		}
	}
	return payloads
}

func TestLocalFileStorageConcurrentSamePrefix(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())
	payloads := samePrefixPayloads(8)

	var (
		wg   sync.WaitGroup
		errs = make(chan error, len(payloads))
	)
	for _, data := range payloads {
		wg.Add(1)
		go func() {
			defer wg.Done()

			h := storage.HandleFor(data)
			for range 200 {
				if err := engine.WriteBlob(t.Context(), h, data); err != nil {
					errs <- err
					return
				}
				if err := engine.RemoveBlob(t.Context(), h); err != nil {
					errs <- err
					return
				}
			}
			errs <- engine.WriteBlob(t.Context(), h, data)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err, "write or remove under a shared prefix")
	}

	for _, data := range payloads {
		got, err := engine.ReadBlob(t.Context(), storage.HandleFor(data))
		require.NoError(t, err)
		require.Equal(t, data, got)
	}
}

func TestLocalFileStorageListSkipsForeignFiles(t *testing.T) {
	t.Parallel()

	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)

	a := []byte("first")
	b := []byte("second")
	require.NoError(t, engine.WriteBlob(t.Context(), storage.HandleFor(a), a))
	require.NoError(t, engine.WriteBlob(t.Context(), storage.HandleFor(b), b))

	// Leftovers from an interrupted write and unrelated files are ignored.
	h := string(storage.HandleFor(a))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, h[:2], h+"123456"), []byte("tmp"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "README"), []byte("x"), 0o644))

	handles, err := engine.ListBlobs(t.Context())
	require.NoError(t, err, "ListBlobs error")
	require.ElementsMatch(t, []storage.Handle{storage.HandleFor(a), storage.HandleFor(b)}, handles)
}

func TestLocalFileStorageListMissingRoot(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(filepath.Join(t.TempDir(), "does-not-exist"))

	handles, err := engine.ListBlobs(t.Context())
	require.NoError(t, err)
	require.Empty(t, handles)
}
