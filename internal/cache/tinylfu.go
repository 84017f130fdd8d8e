package cache

import (
	"sync/atomic"

	"github.com/vmihailenco/go-tinylfu"
)

type tinyLFUCache struct {
	c         *tinylfu.SyncT
	evictions atomic.Uint64
	onEvict   func()
}

// NewTinyLFU creates a TinyLFU cache. Blocks turned away by the doorkeeper
// count as evictions, as do blocks pushed out of the main segment.
func NewTinyLFU(capacity int) Cache {
	c := &tinyLFUCache{c: tinylfu.NewSync(capacity, capacity*10)}
	c.onEvict = func() { c.evictions.Add(1) }
	return c
}

func (c *tinyLFUCache) Get(key string) ([]byte, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true //nolint:errcheck,revive // type is known from Set
}

func (c *tinyLFUCache) Set(key string, value []byte) {
	c.c.Set(&tinylfu.Item{Key: key, Value: value, OnEvict: c.onEvict})
}

// Evictions reports how many blocks have left the cache or were never admitted.
func (c *tinyLFUCache) Evictions() uint64 {
	return c.evictions.Load()
}

func (*tinyLFUCache) Name() string {
	return "tinylfu"
}

func (*tinyLFUCache) Close() {}
