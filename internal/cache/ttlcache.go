package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type ttlcacheCache struct {
	c *ttlcache.Cache[string, []byte]
}

// NewTTLCache creates a TTL-based cache. The TTL is long because a replay measures
// capacity behaviour, not expiration.
func NewTTLCache(capacity int) Cache {
	c := ttlcache.New[string, []byte](
		ttlcache.WithCapacity[string, []byte](uint64(capacity)), //nolint:gosec // capacity checked by New
		ttlcache.WithTTL[string, []byte](time.Hour),
	)
	go c.Start()
	return &ttlcacheCache{c: c}
}

func (c *ttlcacheCache) Get(key string) ([]byte, bool) {
	item := c.c.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (c *ttlcacheCache) Set(key string, value []byte) {
	c.c.Set(key, value, ttlcache.DefaultTTL)
}

func (*ttlcacheCache) Name() string {
	return "ttlcache"
}

func (c *ttlcacheCache) Close() {
	c.c.Stop()
}
