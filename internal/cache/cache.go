// Package cache adapts in-process Go cache libraries to a common byte-valued interface
// so they can be replayed against a trace like any other backend.
package cache

// Cache is the minimal interface an in-process cache library must satisfy.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Name() string
	Close()
}

// Factory creates a new cache instance holding about capacity entries.
type Factory func(capacity int) Cache

// entryBytes is the per-entry byte estimate used by caches that budget by
// bytes rather than entries (key + hex block value + internal overhead).
const entryBytes = 128

// EvictionCounter is implemented by caches that report how many entries they
// have evicted or refused to admit for lack of space.
type EvictionCounter interface {
	Evictions() uint64
}
