package memory

import (
	"context"
	"sync"
	"time"

	"admin-auth-service/internal/bucketing"
	"admin-auth-service/internal/repository"
	"admin-auth-service/internal/util"

	"go.uber.org/zap"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type shard struct {
	mu    sync.Mutex
	items map[string]entry
}

// Store is a process-local repository.Store. Keys are spread over
// murmur3-selected shards; every operation on a key holds its shard lock,
// which makes Update atomic per key.
type Store struct {
	shards   []*shard
	buckets  *bucketing.Manager
	nowFunc  func() time.Time
	stopOnce sync.Once
	stop     chan struct{}
}

var _ repository.Store = (*Store)(nil)

func NewStore(buckets *bucketing.Manager) *Store {
	if buckets == nil {
		buckets = bucketing.NewManager(bucketing.DefaultBuckets)
	}
	s := &Store{
		shards:  make([]*shard, buckets.Buckets()),
		buckets: buckets,
		nowFunc: time.Now,
		stop:    make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{items: make(map[string]entry)}
	}
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.nowFunc = now
	return s
}

func (s *Store) shardFor(key string) *shard {
	return s.shards[s.buckets.Bucket(key)]
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if e.expired(s.nowFunc()) {
		delete(sh.items, key)
		return nil, repository.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sh.items[key] = s.newEntry(value, ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		delete(sh.items, key)
		sh.mu.Unlock()
	}
	return nil
}

func (s *Store) Update(_ context.Context, key string, fn repository.UpdateFunc) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var (
		current []byte
		exists  bool
	)
	if e, ok := sh.items[key]; ok && !e.expired(s.nowFunc()) {
		current, exists = append([]byte(nil), e.value...), true
	}

	next, ttl, err := fn(current, exists)
	if err != nil {
		return err
	}
	if next == nil {
		delete(sh.items, key)
		return nil
	}
	sh.items[key] = s.newEntry(next, ttl)
	return nil
}

func (s *Store) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.nowFunc().Add(ttl)
	}
	return e
}

// Len counts live entries.
func (s *Store) Len() int {
	now := s.nowFunc()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.items {
			if !e.expired(now) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Sweep evicts expired entries and returns how many were removed. Reads
// already ignore stale entries, so this only reclaims memory.
func (s *Store) Sweep() int {
	now := s.nowFunc()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if e.expired(now) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done or Close is called.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					util.Debug("Memory store sweep completed", zap.Int("evicted", n))
				}
			}
		}
	}()
}

// Close stops the sweeper if one was started.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}
