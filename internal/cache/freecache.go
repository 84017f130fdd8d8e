package cache

import "github.com/coocood/freecache"

type freecacheCache struct {
	c *freecache.Cache
}

// NewFreecache creates a freecache sized for capacity entries.
func NewFreecache(capacity int) Cache {
	cacheBytes := max(capacity*entryBytes,
		// minimum 512KB
		512*1024)
	return &freecacheCache{c: freecache.NewCache(cacheBytes)}
}

func (c *freecacheCache) Get(key string) ([]byte, bool) {
	v, err := c.c.Get([]byte(key))
	if err != nil {
		return nil, false
	}
	return v, true
}

func (c *freecacheCache) Set(key string, value []byte) {
	c.c.Set([]byte(key), value, 0) //nolint:errcheck,gosec // best-effort set
}

func (*freecacheCache) Name() string {
	return "freecache"
}

func (*freecacheCache) Close() {}
