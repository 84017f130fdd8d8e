package lru

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors.
type Kind int

const (
	// KindOversized means the value is larger than the whole engine capacity.
	KindOversized Kind = iota + 1
	// KindValueType means the value was not a byte slice.
	KindValueType
)

func (k Kind) String() string {
	switch k {
	case KindOversized:
		return "oversized value"
	case KindValueType:
		return "value type"
	default:
		return "unknown"
	}
}

var (
	// ErrOversizedValue matches any *Error of KindOversized.
	ErrOversizedValue = errors.New("lru: value larger than cache capacity")
	// ErrValueType matches any *Error of KindValueType.
	ErrValueType = errors.New("lru: value must be []byte")
)

// Error reports a rejected Set. The engine state is unchanged when one is returned.
type Error struct {
	Kind     Kind
	Key      string
	Size     int64
	Capacity int64
	Type     string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindOversized:
		return fmt.Sprintf("lru: set %q: value of %d bytes exceeds capacity %d", e.Key, e.Size, e.Capacity)
	case KindValueType:
		return fmt.Sprintf("lru: set %q: value must be []byte, got %s", e.Key, e.Type)
	default:
		return fmt.Sprintf("lru: set %q: %s", e.Key, e.Kind)
	}
}

// Is lets errors.Is match the package sentinels.
func (e *Error) Is(target error) bool {
	switch target { //nolint:errorlint // comparing against package sentinels
	case ErrOversizedValue:
		return e.Kind == KindOversized
	case ErrValueType:
		return e.Kind == KindValueType
	}
	return false
}
