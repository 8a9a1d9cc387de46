package lifecycle

import (
	"hash/fnv"
	"sync"
)

const keyLockStripes = 256

// keyLocks serializes operations on the same (bucket, key) pair. Distinct
// keys usually land on distinct stripes; a shared stripe only costs
// throughput, never correctness.
type keyLocks struct {
	stripes [keyLockStripes]sync.RWMutex
}

func (l *keyLocks) stripe(bucket string, key string) *sync.RWMutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(bucket))
	_, _ = f.Write([]byte{0})
	_, _ = f.Write([]byte(key))
	return &l.stripes[f.Sum32()%keyLockStripes]
}

func (l *keyLocks) Lock(bucket string, key string) func() {
	mu := l.stripe(bucket, key)
	mu.Lock()
	return mu.Unlock
}

func (l *keyLocks) RLock(bucket string, key string) func() {
	mu := l.stripe(bucket, key)
	mu.RLock()
	return mu.RUnlock
}
