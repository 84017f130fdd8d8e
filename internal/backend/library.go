package backend

import (
	"context"
	"fmt"

	"github.com/tstromberg/gocachereplay/internal/cache"
)

// DefaultLibraryCapacity is the entry capacity used when none is configured.
const DefaultLibraryCapacity = 16_384

// Library replays against one of the in-process cache libraries. The libraries
// are safe for concurrent use, so connections share the cache without a lock.
type Library struct {
	c cache.Cache
}

// NewLibrary creates the named library cache holding about capacity entries.
func NewLibrary(name string, capacity int) (*Library, error) {
	if capacity <= 0 {
		capacity = DefaultLibraryCapacity
	}
	c, err := cache.New(name, capacity)
	if err != nil {
		return nil, fmt.Errorf("library backend: %w", err)
	}
	return &Library{c: c}, nil
}

func (*Library) Kind() Kind { return KindLibrary }

// Name returns the library name.
func (b *Library) Name() string { return b.c.Name() }

// Evictions returns the library's eviction count. The second result is false
// for libraries that do not keep one.
func (b *Library) Evictions() (uint64, bool) {
	ec, ok := b.c.(cache.EvictionCounter)
	if !ok {
		return 0, false
	}
	return ec.Evictions(), true
}

func (b *Library) Connect(context.Context) (Conn, error) {
	return libraryConn{c: b.c}, nil
}

func (b *Library) Close() error {
	b.c.Close()
	return nil
}

type libraryConn struct {
	c cache.Cache
}

func (c libraryConn) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

func (c libraryConn) Set(_ context.Context, key string, value []byte) error {
	c.c.Set(key, value)
	return nil
}

func (libraryConn) Close() error { return nil }
