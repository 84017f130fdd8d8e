package cache

import lru "github.com/hashicorp/golang-lru/v2"

type lruCache struct {
	c *lru.Cache[string, []byte]
}

func NewLRU(capacity int) Cache {
	c, _ := lru.New[string, []byte](capacity) //nolint:errcheck // capacity checked by New
	return &lruCache{c: c}
}

func (c *lruCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *lruCache) Set(key string, value []byte) {
	c.c.Add(key, value)
}

func (*lruCache) Name() string {
	return "lru"
}

func (*lruCache) Close() {}

type twoQueueCache struct {
	c *lru.TwoQueueCache[string, []byte]
}

func NewTwoQueue(capacity int) Cache {
	c, _ := lru.New2Q[string, []byte](capacity) //nolint:errcheck // capacity checked by New
	return &twoQueueCache{c: c}
}

func (c *twoQueueCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *twoQueueCache) Set(key string, value []byte) {
	c.c.Add(key, value)
}

func (*twoQueueCache) Name() string {
	return "2q"
}

func (*twoQueueCache) Close() {}
