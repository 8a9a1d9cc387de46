package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// LocalFileStorage is a Backend that stores payloads on the local filesystem
// under a content-addressed layout rooted at dataDir. Payloads are addressed
// by their full handle, with the first two characters used as a
// subdirectory prefix.
type LocalFileStorage struct {
	dataDir string
}

// NewLocalFileStorage creates a new LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

// ObjectPath computes the full filesystem path for the payload identified by
// h under directory.
func ObjectPath(directory string, h Handle) (string, error) {
	if err := h.Validate(); err != nil {
		return "", err
	}
	s := string(h)
	return filepath.Join(directory, s[:2], s), nil
}

// WriteBlob writes data to a temporary file next to its final path, syncs
// it, and renames it into place, so a reader never sees a partial payload.
func (s *LocalFileStorage) WriteBlob(ctx context.Context, h Handle, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objPath, err := ObjectPath(s.dataDir, h)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	if err := atomic.WriteFile(objPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write blob %s: %w", h, err)
	}
	return nil
}

func (s *LocalFileStorage) ReadBlob(ctx context.Context, h Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	objPath, err := ObjectPath(s.dataDir, h)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, h)
	}
	return data, err
}

func (s *LocalFileStorage) RemoveBlob(ctx context.Context, h Handle) error {
	objPath, err := ObjectPath(s.dataDir, h)
	if err != nil {
		return err
	}

	// Prefix directories are left in place: there are at most 256 of them,
	// and a writer for a sibling handle may be about to use it.
	if err := os.Remove(objPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove blob %s: %w", h, err)
	}
	return nil
}

// ListBlobs walks the two-level layout and returns every well-formed handle.
// Leftover temporary files from interrupted writes are skipped.
func (s *LocalFileStorage) ListBlobs(ctx context.Context) ([]Handle, error) {
	var handles []Handle

	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == s.dataDir {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		h := Handle(name)
		if h.Validate() != nil || !strings.HasPrefix(name, filepath.Base(filepath.Dir(path))) {
			return nil
		}
		handles = append(handles, h)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	return handles, nil
}
