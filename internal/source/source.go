// Package source provides the authoritative stores consulted on a cache miss.
package source

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/zeebo/xxh3"
)

// Source looks up the authoritative value for a key.
type Source interface {
	// Lookup returns the value and whether the key exists.
	Lookup(ctx context.Context, key string) ([]byte, bool, error)
	Close()
}

// BlockSize is the size of one value block, matching the trace-to-SQL tooling
// that generates 16 random bytes per block.
const BlockSize = 16

// Synthetic derives a deterministic value from the key hash, so a replay can run
// without a database. Every key exists.
type Synthetic struct {
	blocks int
}

// NewSynthetic returns a source producing values of blocks*BlockSize bytes.
func NewSynthetic(blocks int) *Synthetic {
	if blocks <= 0 {
		blocks = 1
	}
	return &Synthetic{blocks: blocks}
}

func (s *Synthetic) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	v := make([]byte, s.blocks*BlockSize)
	seed := xxh3.HashString(key)
	for off := 0; off < len(v); off += BlockSize {
		h := xxh3.HashString128Seed(key, seed+uint64(off))
		binary.BigEndian.PutUint64(v[off:], h.Hi)
		binary.BigEndian.PutUint64(v[off+8:], h.Lo)
	}
	return v, true, nil
}

func (*Synthetic) Close() {}

// Map is an in-memory source.
type Map struct {
	mu sync.RWMutex
	m  map[string][]byte
}

// NewMap returns a source backed by a copy of m.
func NewMap(m map[string][]byte) *Map {
	cp := make(map[string][]byte, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Map{m: cp}
}

func (s *Map) Lookup(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

// Put adds or replaces a key.
func (s *Map) Put(key string, value []byte) {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

func (*Map) Close() {}
