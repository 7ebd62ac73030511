package kv

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMemorySize bounds the in-process cache.
const DefaultMemorySize = 256

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store backed by an LRU. Expired entries are
// dropped lazily on read.
type MemoryStore struct {
	mu    sync.Mutex
	cache *lru.Cache
	now   func() time.Time
}

// NewMemoryStore returns a store holding at most size keys.
func NewMemoryStore(size int) (*MemoryStore, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: c, now: time.Now}, nil
}

func (s *MemoryStore) entry(ttl time.Duration, value []byte) memoryEntry {
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Add(key, s.entry(ttl, value))
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *MemoryStore) getLocked(key string) ([]byte, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	e := v.(memoryEntry)
	if e.expired(s.now()) {
		s.cache.Remove(key)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.getLocked(key); err == nil {
		return false, nil
	}
	s.cache.Add(key, s.entry(ttl, value))
	return true, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
	return nil
}

var _ Store = (*MemoryStore)(nil)
