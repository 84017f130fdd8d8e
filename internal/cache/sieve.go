package cache

import (
	"github.com/scalalang2/golang-fifo/s3fifo"
	"github.com/scalalang2/golang-fifo/sieve"
)

type sieveCache struct {
	c *sieve.Sieve[string, []byte]
}

func NewSieve(capacity int) Cache {
	return &sieveCache{c: sieve.New[string, []byte](capacity, 0)}
}

func (c *sieveCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *sieveCache) Set(key string, value []byte) {
	c.c.Set(key, value)
}

func (*sieveCache) Name() string {
	return "sieve"
}

func (*sieveCache) Close() {}

type s3fifoCache struct {
	c *s3fifo.S3FIFO[string, []byte]
}

func NewS3FIFO(capacity int) Cache {
	return &s3fifoCache{c: s3fifo.New[string, []byte](capacity, 0)}
}

func (c *s3fifoCache) Get(key string) ([]byte, bool) {
	return c.c.Get(key)
}

func (c *s3fifoCache) Set(key string, value []byte) {
	c.c.Set(key, value)
}

func (*s3fifoCache) Name() string {
	return "s3-fifo"
}

func (*s3fifoCache) Close() {}
