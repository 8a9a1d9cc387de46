package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryStorage is a Backend that keeps payloads in process memory. It is
// used by tests and by servers started without a data directory.
type MemoryStorage struct {
	mu    sync.RWMutex
	blobs map[Handle][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{blobs: make(map[Handle][]byte)}
}

func (s *MemoryStorage) WriteBlob(ctx context.Context, h Handle, data []byte) error {
	if err := h.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[h] = slices.Clone(data)
	return nil
}

func (s *MemoryStorage) ReadBlob(ctx context.Context, h Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, h)
	}
	return slices.Clone(data), nil
}

func (s *MemoryStorage) RemoveBlob(ctx context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, h)
	return nil
}

func (s *MemoryStorage) ListBlobs(ctx context.Context) ([]Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handles := make([]Handle, 0, len(s.blobs))
	for h := range s.blobs {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles, nil
}
