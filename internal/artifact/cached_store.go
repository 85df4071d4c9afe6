package artifact

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of files kept by a CachedStore.
const DefaultCacheSize = 256

// CachedStore serves repeated reads of stored files from memory.
// Bundles are immutable, so cached files never go stale; only Delete
// has to evict.
type CachedStore struct {
	Store
	cache *lru.Cache[string, []byte]
}

// NewCachedStore wraps store with an LRU cache of size files.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}
	return &CachedStore{Store: store, cache: cache}, nil
}

func cacheKey(id, name string) string {
	return id + "/" + name
}

// Open implements Store.
func (s *CachedStore) Open(ctx context.Context, id, name string) ([]byte, error) {
	key := cacheKey(id, name)
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}
	data, err := s.Store.Open(ctx, id, name)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, data)
	return data, nil
}

// Delete implements Store.
func (s *CachedStore) Delete(ctx context.Context, id string) error {
	prefix := id + "/"
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.cache.Remove(key)
		}
	}
	return s.Store.Delete(ctx, id)
}

// Len returns the number of cached files.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}
