package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

const DefaultBuckets = 64

// Manager maps keys onto a fixed number of buckets with murmur3.
type Manager struct {
	buckets    int
	hasherPool sync.Pool
}

func NewManager(buckets int) *Manager {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}

	bm := &Manager{buckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// Bucket returns a consistent bucket for key (0 to Buckets()-1).
func (bm *Manager) Bucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.buckets))
}

func (bm *Manager) Buckets() int {
	return bm.buckets
}

func (bm *Manager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
