package catalog

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/eteran/cellar/internal/storage"
)

type memoryBucket struct {
	mu      sync.RWMutex
	rec     BucketRecord
	objects map[string]ObjectRecord
	deleted bool
}

// Memory is a Catalog held entirely in memory. The bucket namespace has its
// own lock and every bucket carries another, so object traffic in one bucket
// never blocks another. Lock order is namespace then bucket.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*memoryBucket)}
}

// bucket returns the live bucket called name with its lock held, either for
// writing or for reading. The caller must release it.
func (m *Memory) bucket(name string, write bool) (*memoryBucket, error) {
	m.mu.RLock()
	b, ok := m.buckets[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}

	if write {
		b.mu.Lock()
	} else {
		b.mu.RLock()
	}

	if b.deleted {
		if write {
			b.mu.Unlock()
		} else {
			b.mu.RUnlock()
		}
		return nil, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}
	return b, nil
}

func (m *Memory) CreateBucket(ctx context.Context, rec BucketRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[rec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrBucketExists, rec.Name)
	}
	m.buckets[rec.Name] = &memoryBucket{
		rec:     rec,
		objects: make(map[string]ObjectRecord),
	}
	return nil
}

func (m *Memory) GetBucket(ctx context.Context, name string) (BucketRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.buckets[name]
	if !ok {
		return BucketRecord{}, fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}
	return b.rec, nil
}

func (m *Memory) ListBuckets(ctx context.Context, owner string) ([]BucketRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := []BucketRecord{}
	for _, b := range m.buckets {
		if owner == "" || b.rec.Owner == owner {
			buckets = append(buckets, b.rec)
		}
	}
	slices.SortFunc(buckets, func(a, b BucketRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
	return buckets, nil
}

func (m *Memory) DeleteBucket(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBucketNotFound, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.objects); n > 0 {
		return fmt.Errorf("%w: %s holds %d objects", ErrBucketNotEmpty, name, n)
	}
	b.deleted = true
	delete(m.buckets, name)
	return nil
}

func (m *Memory) PutObject(ctx context.Context, rec ObjectRecord) (*ObjectRecord, error) {
	b, err := m.bucket(rec.Bucket, true)
	if err != nil {
		return nil, err
	}
	defer b.mu.Unlock()

	var prev *ObjectRecord
	if old, ok := b.objects[rec.Key]; ok {
		prev = &old
	}
	b.objects[rec.Key] = rec
	return prev, nil
}

func (m *Memory) GetObject(ctx context.Context, bucket string, key string) (ObjectRecord, error) {
	b, err := m.bucket(bucket, false)
	if err != nil {
		return ObjectRecord{}, err
	}
	defer b.mu.RUnlock()

	rec, ok := b.objects[key]
	if !ok {
		return ObjectRecord{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	return rec, nil
}

func (m *Memory) ListObjects(ctx context.Context, bucket string, q ListQuery) ([]ObjectRecord, error) {
	b, err := m.bucket(bucket, false)
	if err != nil {
		return nil, err
	}
	defer b.mu.RUnlock()

	keys := slices.Sorted(maps.Keys(b.objects))
	start, _ := slices.BinarySearch(keys, q.StartAfter)

	objects := []ObjectRecord{}
	for _, key := range keys[start:] {
		if key <= q.StartAfter || !strings.HasPrefix(key, q.Prefix) {
			continue
		}
		objects = append(objects, b.objects[key])
		if q.Limit > 0 && len(objects) == q.Limit {
			break
		}
	}
	return objects, nil
}

func (m *Memory) DeleteObject(ctx context.Context, bucket string, key string) (ObjectRecord, error) {
	b, err := m.bucket(bucket, true)
	if err != nil {
		return ObjectRecord{}, err
	}
	defer b.mu.Unlock()

	rec, ok := b.objects[key]
	if !ok {
		return ObjectRecord{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	delete(b.objects, key)
	return rec, nil
}

func (m *Memory) HandleRefs(ctx context.Context) (map[storage.Handle]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make(map[storage.Handle]int)
	for _, b := range m.buckets {
		b.mu.RLock()
		for _, rec := range b.objects {
			refs[rec.Handle]++
		}
		b.mu.RUnlock()
	}
	return refs, nil
}

func (m *Memory) Close() error {
	return nil
}
