package cache

import (
	"fmt"
	"sort"
)

// registry maps cache names to their factory functions.
var registry = map[string]Factory{
	"otter":         NewOtter,
	"theine":        NewTheine,
	"ttlcache":      NewTTLCache,
	"ristretto":     NewRistretto,
	"tinylfu":       NewTinyLFU,
	"sieve":         NewSieve,
	"s3-fifo":       NewS3FIFO,
	"freelru-shard": NewFreeLRUSharded,
	"freelru-sync":  NewFreeLRUSynced,
	"freecache":     NewFreecache,
	"2q":            NewTwoQueue,
	"s4lru":         NewS4LRU,
	"clock":         NewClock,
	"lru":           NewLRU,
}

// New creates the named cache with the given entry capacity.
func New(name string, capacity int) (Cache, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown cache %q (available: %v)", name, AvailableNames())
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("cache %q: capacity must be positive, got %d", name, capacity)
	}
	return f(capacity), nil
}

// AvailableNames returns all registered cache names in sorted order.
func AvailableNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
