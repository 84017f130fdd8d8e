package cache

import (
	"sync"

	"github.com/Code-Hex/go-generics-cache/policy/clock"
	"github.com/dgryski/go-s4lru"
)

// s4lru and clock are not safe for concurrent use, so both take a mutex.

type s4lruCache struct {
	mu sync.Mutex
	c  *s4lru.Cache
}

// NewS4LRU creates a segmented LRU cache.
func NewS4LRU(capacity int) Cache {
	return &s4lruCache{c: s4lru.New(capacity)}
}

func (c *s4lruCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	v, ok := c.c.Get(key)
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	return v.([]byte), true //nolint:errcheck,revive // type is known from Set
}

func (c *s4lruCache) Set(key string, value []byte) {
	c.mu.Lock()
	c.c.Set(key, value)
	c.mu.Unlock()
}

func (*s4lruCache) Name() string {
	return "s4lru"
}

func (*s4lruCache) Close() {}

type clockCache struct {
	mu sync.Mutex
	c  *clock.Cache[string, []byte]
}

// NewClock creates a clock-based cache.
func NewClock(capacity int) Cache {
	return &clockCache{
		c: clock.NewCache[string, []byte](clock.WithCapacity(capacity)),
	}
}

func (c *clockCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.Get(key)
}

func (c *clockCache) Set(key string, value []byte) {
	c.mu.Lock()
	c.c.Set(key, value)
	c.mu.Unlock()
}

func (*clockCache) Name() string {
	return "clock"
}

func (*clockCache) Close() {}
