// Package lru implements a byte-bounded LRU cache engine.
//
// Entries live in an arena of slots linked by index rather than by pointer. The
// head of the recency list is the most recently used entry and the tail is the
// next eviction victim. Every operation runs under a single engine-wide mutex, so
// the presence check, eviction and insert of a Set are observed as one step.
package lru

import (
	"fmt"
	"sync"
)

const nilSlot int32 = -1

type slot struct {
	key   string
	value []byte
	prev  int32
	next  int32
}

// Engine is a size-bounded LRU cache keyed by string.
type Engine struct {
	mu       sync.Mutex
	capacity int64 // bytes, 0 = unbounded
	size     int64

	index map[string]int32
	slots []slot
	free  []int32
	head  int32
	tail  int32
}

// New returns an engine that holds at most capacityBytes of values.
// A capacity of 0 disables eviction.
func New(capacityBytes int64) *Engine {
	if capacityBytes < 0 {
		capacityBytes = 0
	}
	return &Engine{
		capacity: capacityBytes,
		index:    make(map[string]int32),
		head:     nilSlot,
		tail:     nilSlot,
	}
}

// Get returns the value stored for key. A hit counts as a use: when the engine
// is bounded the entry moves to the front of the recency list.
// The returned slice must not be modified.
func (e *Engine) Get(key string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[key]
	if !ok {
		return nil, false
	}
	if e.capacity > 0 {
		e.unlink(i)
		e.pushFront(i)
	}
	return e.slots[i].value, true
}

// SetValue is Set for callers holding an untyped value. Anything other than a
// byte slice fails with KindValueType.
func (e *Engine) SetValue(key string, value any) error {
	b, ok := value.([]byte)
	if !ok {
		return &Error{Kind: KindValueType, Key: key, Type: fmt.Sprintf("%T", value)}
	}
	return e.Set(key, b)
}

// Set stores value under key.
//
// Overwriting an existing key replaces the value in place and keeps its recency
// position; only Get and the insertion of a new key promote an entry. A value
// larger than the engine capacity fails with KindOversized and leaves the engine
// untouched.
func (e *Engine) Set(key string, value []byte) error {
	size := int64(len(value))

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capacity > 0 && size > e.capacity {
		return &Error{Kind: KindOversized, Key: key, Size: size, Capacity: e.capacity}
	}

	if i, ok := e.index[key]; ok {
		old := int64(len(e.slots[i].value))
		e.slots[i].value = value
		e.size += size - old
		if e.capacity > 0 {
			for e.size > e.capacity {
				e.evictOldest(i)
			}
		}
		return nil
	}

	if e.capacity > 0 {
		for e.size+size > e.capacity {
			e.evictOldest(nilSlot)
		}
	}

	i := e.alloc(key, value)
	e.index[key] = i
	e.pushFront(i)
	e.size += size
	return nil
}

// evictOldest removes the least recently used entry other than keep.
func (e *Engine) evictOldest(keep int32) {
	victim := e.tail
	if victim == keep && victim != nilSlot {
		victim = e.slots[victim].prev
	}
	if victim == nilSlot {
		panic(fmt.Sprintf("lru: size %d exceeds capacity %d with no evictable entries", e.size, e.capacity))
	}

	s := &e.slots[victim]
	e.unlink(victim)
	delete(e.index, s.key)
	e.size -= int64(len(s.value))
	s.key = ""
	s.value = nil
	e.free = append(e.free, victim)
}

func (e *Engine) alloc(key string, value []byte) int32 {
	if n := len(e.free); n > 0 {
		i := e.free[n-1]
		e.free = e.free[:n-1]
		e.slots[i] = slot{key: key, value: value, prev: nilSlot, next: nilSlot}
		return i
	}
	e.slots = append(e.slots, slot{key: key, value: value, prev: nilSlot, next: nilSlot})
	return int32(len(e.slots) - 1) //nolint:gosec // slot count bounded by entries
}

func (e *Engine) unlink(i int32) {
	s := &e.slots[i]
	if s.prev != nilSlot {
		e.slots[s.prev].next = s.next
	} else {
		e.head = s.next
	}
	if s.next != nilSlot {
		e.slots[s.next].prev = s.prev
	} else {
		e.tail = s.prev
	}
	s.prev, s.next = nilSlot, nilSlot
}

func (e *Engine) pushFront(i int32) {
	s := &e.slots[i]
	s.prev = nilSlot
	s.next = e.head
	if e.head != nilSlot {
		e.slots[e.head].prev = i
	}
	e.head = i
	if e.tail == nilSlot {
		e.tail = i
	}
}

// Len returns the number of entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.index)
}

// Size returns the total number of value bytes held.
func (e *Engine) Size() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.size
}

// Capacity returns the configured capacity in bytes.
func (e *Engine) Capacity() int64 {
	return e.capacity
}

// Keys returns keys from most to least recently used.
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := make([]string, 0, len(e.index))
	for i := e.head; i != nilSlot; i = e.slots[i].next {
		keys = append(keys, e.slots[i].key)
	}
	return keys
}

// Check verifies the engine invariants: the index and the recency list hold the
// same keys, the byte count matches the stored values, and the capacity holds.
func (e *Engine) Check() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		n    int
		sum  int64
		prev = nilSlot
	)
	for i := e.head; i != nilSlot; i = e.slots[i].next {
		s := e.slots[i]
		if s.prev != prev {
			return fmt.Errorf("slot %d: prev link %d, want %d", i, s.prev, prev)
		}
		if j, ok := e.index[s.key]; !ok || j != i {
			return fmt.Errorf("key %q in recency list but index points to %d", s.key, j)
		}
		sum += int64(len(s.value))
		prev = i
		n++
		if n > len(e.slots) {
			return fmt.Errorf("recency list has a cycle")
		}
	}
	if prev != e.tail {
		return fmt.Errorf("tail is %d, list ends at %d", e.tail, prev)
	}
	if n != len(e.index) {
		return fmt.Errorf("recency list has %d entries, index has %d", n, len(e.index))
	}
	if sum != e.size {
		return fmt.Errorf("size is %d, values total %d", e.size, sum)
	}
	if e.capacity > 0 && e.size > e.capacity {
		return fmt.Errorf("size %d exceeds capacity %d", e.size, e.capacity)
	}
	return nil
}
