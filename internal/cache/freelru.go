package cache

import (
	lru "github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

func hash(s string) uint32 {
	return uint32(xxh3.HashString(s)) //nolint:gosec // truncation intended
}

type freeLRUSyncedCache struct {
	c *lru.SyncedLRU[string, []byte]
}

func NewFreeLRUSynced(capacity int) Cache {
	c, _ := lru.NewSynced[string, []byte](uint32(capacity), hash) //nolint:errcheck,gosec // capacity checked by New
	return &freeLRUSyncedCache{c: c}
}

func (c *freeLRUSyncedCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *freeLRUSyncedCache) Set(key string, value []byte) {
	c.c.Add(key, value)
}

func (*freeLRUSyncedCache) Name() string {
	return "freelru-sync"
}

func (*freeLRUSyncedCache) Close() {}

type freeLRUShardedCache struct {
	c *lru.ShardedLRU[string, []byte]
}

func NewFreeLRUSharded(capacity int) Cache {
	c, _ := lru.NewSharded[string, []byte](uint32(capacity), hash) //nolint:errcheck,gosec // capacity checked by New
	return &freeLRUShardedCache{c: c}
}

func (c *freeLRUShardedCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *freeLRUShardedCache) Set(key string, value []byte) {
	c.c.Add(key, value)
}

func (*freeLRUShardedCache) Name() string {
	return "freelru-shard"
}

func (*freeLRUShardedCache) Close() {}
