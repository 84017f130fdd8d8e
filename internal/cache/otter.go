package cache

import "github.com/maypok86/otter/v2"

type otterCache struct {
	c *otter.Cache[string, []byte]
}

// NewOtter creates an Otter cache.
func NewOtter(capacity int) Cache {
	c := otter.Must(&otter.Options[string, []byte]{MaximumSize: capacity})
	return &otterCache{c: c}
}

func (c *otterCache) Get(key string) ([]byte, bool) {
	return c.c.GetIfPresent(key)
}

func (c *otterCache) Set(key string, value []byte) {
	c.c.Set(key, value)
}

func (*otterCache) Name() string {
	return "otter"
}

func (*otterCache) Close() {}
