package dedup

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryDeduper ограниченный LRU в памяти процесса; для тестов и режима без Redis.
// Вытесненные ключи забываются, поэтому гарантия слабее, чем у Redis.
type MemoryDeduper struct {
	cache *lru.Cache[string, struct{}]
}

// NewMemoryDeduper создает LRU на size ключей
func NewMemoryDeduper(size int) *MemoryDeduper {
	if size <= 0 {
		size = 100000
	}
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		// возможно только при size <= 0
		panic(err)
	}
	return &MemoryDeduper{cache: cache}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	found, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return !found, nil
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	return d.cache.Contains(key), nil
}

func (d *MemoryDeduper) Mark(_ context.Context, key string) error {
	d.cache.Add(key, struct{}{})
	return nil
}

func (d *MemoryDeduper) Len() int { return d.cache.Len() }
