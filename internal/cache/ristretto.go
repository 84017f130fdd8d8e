package cache

import (
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

type ristrettoCache struct {
	c         *ristretto.Cache
	evictions atomic.Uint64
}

// NewRistretto creates a Ristretto cache budgeted in bytes: capacity entries of
// about entryBytes each. Every block is charged its key plus value length, so
// large blocks push out more neighbours than small ones.
//
// Writes are buffered, so Set waits for them to land to keep get-after-set
// behaviour comparable with the other caches.
func NewRistretto(capacity int) Cache {
	rc := &ristrettoCache{}
	count := func(*ristretto.Item) { rc.evictions.Add(1) }
	c, _ := ristretto.NewCache(&ristretto.Config{ //nolint:errcheck // config always valid
		NumCounters:        int64(capacity) * 10,
		MaxCost:            int64(capacity) * entryBytes,
		BufferItems:        64,
		IgnoreInternalCost: true,
		OnEvict:            count,
		OnReject:           count,
	})
	rc.c = c
	return rc
}

func (c *ristrettoCache) Get(key string) ([]byte, bool) {
	v, ok := c.c.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]byte), true //nolint:errcheck,revive // type is known from Set
}

func (c *ristrettoCache) Set(key string, value []byte) {
	c.c.Set(key, value, int64(len(key)+len(value)))
	c.c.Wait()
}

// Evictions reports entries evicted or rejected by the admission policy.
func (c *ristrettoCache) Evictions() uint64 {
	return c.evictions.Load()
}

func (*ristrettoCache) Name() string {
	return "ristretto"
}

func (c *ristrettoCache) Close() {
	c.c.Wait()
	c.c.Close()
}
