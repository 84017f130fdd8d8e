package cache

import "github.com/Yiling-J/theine-go"

type theineCache struct {
	c *theine.Cache[string, []byte]
}

func NewTheine(capacity int) Cache {
	c, _ := theine.NewBuilder[string, []byte](int64(capacity)).Build() //nolint:errcheck // capacity checked by New
	return &theineCache{c: c}
}

func (c *theineCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *theineCache) Set(key string, value []byte) {
	c.c.Set(key, value, 1)
}

func (*theineCache) Name() string {
	return "theine"
}

func (c *theineCache) Close() {
	c.c.Close()
}
