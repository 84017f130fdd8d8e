// Package backend defines the adapter contract the harness replays a trace against
// and its variants: redis, memcached, PostgreSQL, the in-process LRU engine, and
// the in-process cache libraries from package cache.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind identifies a backend variant. The numeric values are stable because they
// appear in log file names.
type Kind int

const (
	KindNone Kind = iota
	KindPostgres
	KindRedis
	KindMemcache
	KindLRU
	KindLibrary
)

var kindNames = map[Kind]string{
	KindNone:     "none",
	KindPostgres: "postgres",
	KindRedis:    "redis",
	KindMemcache: "memcache",
	KindLRU:      "lru",
	KindLibrary:  "library",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Tag returns the numeric tag used in log file names.
func (k Kind) Tag() string {
	return strconv.Itoa(int(k))
}

// ParseKind accepts a backend name or its numeric tag.
func ParseKind(s string) (Kind, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		k := Kind(n)
		if _, ok := kindNames[k]; ok && k != KindNone {
			return k, nil
		}
		return KindNone, fmt.Errorf("unknown backend tag %d", n)
	}
	for k, name := range kindNames {
		if name == s && k != KindNone {
			return k, nil
		}
	}
	switch s {
	case "sql", "sqlalchemy", "pg":
		return KindPostgres, nil
	case "memcached":
		return KindMemcache, nil
	}
	return KindNone, fmt.Errorf("unknown backend %q", s)
}

var (
	// ErrConflict means a concurrent writer inserted the same key first. The
	// transaction was rolled back; the caller should retry the work item.
	ErrConflict = errors.New("backend: key already inserted by another writer")
	// ErrConnection marks a failure of the underlying connection. It is fatal to
	// the worker that owns the connection.
	ErrConnection = errors.New("backend: connection failed")
)

// Backend creates connections to one storage technology.
type Backend interface {
	Kind() Kind
	// Connect opens a connection owned by a single worker.
	Connect(ctx context.Context) (Conn, error)
	// Close releases state shared between connections.
	Close() error
}

// Conn is a single worker's handle on a backend.
type Conn interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key.
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// Preparer is implemented by backends that can reset their state before a run.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Config carries the endpoint settings for every variant. Each variant reads
// only the fields it needs.
type Config struct {
	// KindLRU
	CapacityBytes int64

	// KindLibrary
	Library         string
	LibraryCapacity int

	// KindRedis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// KindMemcache
	MemcacheAddr string

	// KindPostgres
	PostgresDSN string
	CacheTable  string

	// DialTimeout bounds connection setup for the networked variants.
	DialTimeout time.Duration
}

// DefaultCacheTable is the table the PostgreSQL variant caches into.
const DefaultCacheTable = "cache"

// New builds the backend for kind.
func New(kind Kind, cfg Config) (Backend, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	switch kind {
	case KindLRU:
		return NewLRU(cfg.CapacityBytes), nil
	case KindLibrary:
		return NewLibrary(cfg.Library, cfg.LibraryCapacity)
	case KindRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis: address is required")
		}
		return NewRedis(cfg), nil
	case KindMemcache:
		if cfg.MemcacheAddr == "" {
			return nil, errors.New("memcache: address is required")
		}
		return NewMemcache(cfg), nil
	case KindPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres: connection string is required")
		}
		return NewPostgres(cfg), nil
	case KindNone:
		return nil, errors.New("no backend selected")
	default:
		return nil, fmt.Errorf("unsupported backend %s", kind)
	}
}

// connError wraps transport-level failures in ErrConnection.
func connError(err error) error {
	if err == nil || errors.Is(err, ErrConnection) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return err
}
