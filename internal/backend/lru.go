package backend

import (
	"context"
	"sync"

	"github.com/tstromberg/gocachereplay/internal/lru"
)

// LRU serves every worker from one shared in-process engine. Connections are
// free, and each connection exposes the backend-wide lock so a worker can hold
// it across its whole get, lookup and set sequence.
type LRU struct {
	mu     sync.Mutex
	engine *lru.Engine
}

// NewLRU creates an in-process LRU backend bounded to capacityBytes (0 = unbounded).
func NewLRU(capacityBytes int64) *LRU {
	return &LRU{engine: lru.New(capacityBytes)}
}

func (*LRU) Kind() Kind { return KindLRU }

func (b *LRU) Connect(context.Context) (Conn, error) {
	return &lruConn{b: b}, nil
}

func (*LRU) Close() error { return nil }

// Engine exposes the shared engine.
func (b *LRU) Engine() *lru.Engine { return b.engine }

type lruConn struct {
	b *LRU
}

func (c *lruConn) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.b.engine.Get(key)
	return v, ok, nil
}

func (c *lruConn) Set(_ context.Context, key string, value []byte) error {
	return c.b.engine.Set(key, value)
}

func (*lruConn) Close() error { return nil }

func (c *lruConn) Lock()   { c.b.mu.Lock() }
func (c *lruConn) Unlock() { c.b.mu.Unlock() }
