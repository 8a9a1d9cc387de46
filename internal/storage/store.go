package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
)

const stripeCount = 64

type stripe struct {
	mu   sync.Mutex
	refs map[Handle]int
	// missing holds referenced handles whose payload the backend lost.
	missing map[Handle]struct{}
}

// Store is the object store: it persists immutable payloads through a
// Backend and tracks how many catalog entries reference each one. A payload
// is reclaimed as soon as its count drops to zero.
//
// Counters are kept in lock stripes keyed by handle, so operations on
// unrelated payloads never contend on a shared lock.
type Store struct {
	backend Backend
	stripes [stripeCount]stripe
}

// RebuildReport summarizes a Rebuild pass.
type RebuildReport struct {
	// Referenced is the number of distinct handles referenced by the catalog.
	Referenced int
	// Reclaimed lists payloads found in the backend with no references.
	Reclaimed []Handle
	// Missing lists referenced handles that the backend does not hold.
	Missing []Handle
}

func NewStore(backend Backend) *Store {
	s := &Store{backend: backend}
	for i := range s.stripes {
		s.stripes[i].refs = make(map[Handle]int)
		s.stripes[i].missing = make(map[Handle]struct{})
	}
	return s
}

func (s *Store) stripeFor(h Handle) *stripe {
	f := fnv.New32a()
	_, _ = f.Write([]byte(h))
	return &s.stripes[f.Sum32()%stripeCount]
}

// Put stores data and returns its handle with one reference taken on behalf
// of the caller. Storing bytes that are already present only increments the
// reference count, unless Rebuild found their payload missing, in which case
// the payload is written again.
func (s *Store) Put(ctx context.Context, data []byte) (Handle, error) {
	h := HandleFor(data)
	st := s.stripeFor(h)

	st.mu.Lock()
	defer st.mu.Unlock()

	_, lost := st.missing[h]
	if st.refs[h] > 0 && !lost {
		st.refs[h]++
		return h, nil
	}

	if err := s.backend.WriteBlob(ctx, h, data); err != nil {
		return "", err
	}
	if lost {
		delete(st.missing, h)
		slog.Info("Restored missing blob", "handle", h)
	}
	st.refs[h]++
	return h, nil
}

// Get returns the payload for h. It fails with ErrBlobNotFound when the
// backend no longer holds it.
func (s *Store) Get(ctx context.Context, h Handle) ([]byte, error) {
	return s.backend.ReadBlob(ctx, h)
}

// Acquire takes an additional reference on an existing payload.
func (s *Store) Acquire(ctx context.Context, h Handle) error {
	st := s.stripeFor(h)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.refs[h] <= 0 {
		return fmt.Errorf("%w: acquire unreferenced %s", ErrBlobNotFound, h)
	}
	st.refs[h]++
	return nil
}

// Release drops one reference on h and removes the payload from the backend
// when none remain.
func (s *Store) Release(ctx context.Context, h Handle) error {
	st := s.stripeFor(h)

	st.mu.Lock()
	defer st.mu.Unlock()

	n := st.refs[h]
	if n <= 0 {
		return fmt.Errorf("%w: release unreferenced %s", ErrBlobNotFound, h)
	}
	if n > 1 {
		st.refs[h] = n - 1
		return nil
	}

	delete(st.refs, h)
	delete(st.missing, h)
	if err := s.backend.RemoveBlob(ctx, h); err != nil {
		return fmt.Errorf("reclaim %s: %w", h, err)
	}
	return nil
}

// Refs returns the current reference count for h.
func (s *Store) Refs(h Handle) int {
	st := s.stripeFor(h)

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.refs[h]
}

// Rebuild replaces every reference count with refs, which must reflect the
// catalog, and reclaims backend payloads that nothing references. Those are
// left behind by a Put whose catalog update never happened.
//
// Rebuild must not run concurrently with other Store operations.
func (s *Store) Rebuild(ctx context.Context, refs map[Handle]int) (RebuildReport, error) {
	for i := range s.stripes {
		st := &s.stripes[i]
		st.mu.Lock()
		st.refs = make(map[Handle]int)
		st.missing = make(map[Handle]struct{})
		st.mu.Unlock()
	}

	report := RebuildReport{}
	for h, n := range refs {
		if n <= 0 {
			continue
		}
		st := s.stripeFor(h)
		st.mu.Lock()
		st.refs[h] = n
		st.mu.Unlock()
		report.Referenced++
	}

	stored, err := s.backend.ListBlobs(ctx)
	if err != nil {
		return report, err
	}

	present := make(map[Handle]struct{}, len(stored))
	for _, h := range stored {
		present[h] = struct{}{}
		if refs[h] > 0 {
			continue
		}
		if err := s.backend.RemoveBlob(ctx, h); err != nil {
			return report, fmt.Errorf("reclaim orphan %s: %w", h, err)
		}
		slog.Debug("Reclaimed orphan blob", "handle", h)
		report.Reclaimed = append(report.Reclaimed, h)
	}

	for h, n := range refs {
		if _, ok := present[h]; !ok && n > 0 {
			st := s.stripeFor(h)
			st.mu.Lock()
			st.missing[h] = struct{}{}
			st.mu.Unlock()
			report.Missing = append(report.Missing, h)
		}
	}

	return report, nil
}
