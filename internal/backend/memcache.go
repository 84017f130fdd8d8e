package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// Memcache is the distributed object-cache variant. Values are stored as a JSON
// string holding the hex encoding of the bytes.
type Memcache struct {
	cfg Config
}

// NewMemcache creates a memcached backend for cfg.MemcacheAddr.
func NewMemcache(cfg Config) *Memcache {
	return &Memcache{cfg: cfg}
}

func (*Memcache) Kind() Kind { return KindMemcache }

func (b *Memcache) client() *memcache.Client {
	c := memcache.New(b.cfg.MemcacheAddr)
	c.Timeout = b.cfg.DialTimeout
	c.MaxIdleConns = 1
	return c
}

func (b *Memcache) Connect(context.Context) (Conn, error) {
	c := b.client()
	if err := c.Ping(); err != nil {
		return nil, fmt.Errorf("memcache %s: %w", b.cfg.MemcacheAddr, connError(err))
	}
	return &memcacheConn{c: c}, nil
}

// Prepare flushes every item so the run starts cold.
func (b *Memcache) Prepare(context.Context) error {
	c := b.client()
	defer c.Close() //nolint:errcheck // flush result is what matters
	if err := c.FlushAll(); err != nil {
		return fmt.Errorf("memcache flush_all: %w", connError(err))
	}
	return nil
}

func (*Memcache) Close() error { return nil }

type memcacheConn struct {
	c *memcache.Client
}

func (c *memcacheConn) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := c.c.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcache get %q: %w", key, connError(err))
	}
	v, err := decodeValue(item.Value)
	if err != nil {
		return nil, false, fmt.Errorf("memcache get %q: %w", key, err)
	}
	return v, true, nil
}

func (c *memcacheConn) Set(_ context.Context, key string, value []byte) error {
	b, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("memcache set %q: %w", key, err)
	}
	if err := c.c.Set(&memcache.Item{Key: key, Value: b}); err != nil {
		return fmt.Errorf("memcache set %q: %w", key, connError(err))
	}
	return nil
}

// Close releases the worker's idle connection.
func (c *memcacheConn) Close() error {
	if err := c.c.Close(); err != nil {
		return fmt.Errorf("memcache close: %w", err)
	}
	return nil
}

func encodeValue(v []byte) ([]byte, error) {
	return json.Marshal(hex.EncodeToString(v))
}

func decodeValue(b []byte) ([]byte, error) {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	v, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}
