// Package config loads replay settings from YAML, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tstromberg/gocachereplay/internal/backend"
	"github.com/tstromberg/gocachereplay/internal/cache"
	"github.com/tstromberg/gocachereplay/internal/harness"
	"github.com/tstromberg/gocachereplay/internal/queue"
)

// Config is the complete replay configuration.
type Config struct {
	Backend      string        `yaml:"backend"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	IdleExit     bool          `yaml:"idle_exit"`
	Prepare      bool          `yaml:"prepare"` // flush or recreate backend state first
	LogDir       string        `yaml:"log_dir"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	MetricsAddr  string        `yaml:"metrics_addr"`

	CapacityBytes   int64  `yaml:"capacity_bytes"`
	Library         string `yaml:"library"`
	LibraryCapacity int    `yaml:"library_capacity"`

	Redis    RedisConfig    `yaml:"redis"`
	Memcache MemcacheConfig `yaml:"memcache"`
	Postgres PostgresConfig `yaml:"postgres"`
	Source   SourceConfig   `yaml:"source"`
}

// RedisConfig locates the redis server.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MemcacheConfig locates the memcached server.
type MemcacheConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PostgresConfig locates the database holding the source tables and, for the
// postgres backend, the cache table.
type PostgresConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Database   string `yaml:"database"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	CacheTable string `yaml:"cache_table"`
}

// SourceConfig selects where missed values come from.
type SourceConfig struct {
	// Kind is "postgres", "synthetic" or "" (postgres when configured, else synthetic).
	Kind   string `yaml:"kind"`
	Blocks int    `yaml:"blocks"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Backend:         backend.KindLRU.String(),
		Workers:         1,
		QueueSize:       queue.DefaultCapacity,
		PollInterval:    harness.DefaultPollInterval,
		Prepare:         true,
		LogDir:          ".",
		DialTimeout:     5 * time.Second,
		Library:         "otter",
		LibraryCapacity: backend.DefaultLibraryCapacity,
		Redis:           RedisConfig{Port: 6379},
		Memcache:        MemcacheConfig{Port: 11211},
		Postgres:        PostgresConfig{Port: 5432, CacheTable: backend.DefaultCacheTable},
		Source:          SourceConfig{Blocks: 1},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path) //nolint:gosec // config path supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides endpoint settings from the environment variables the
// deployment scripts export.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	port := func(name string, dst *int) {
		v := getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	str := func(name string, dst *string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}

	str("REDIS_HOSTNAME", &c.Redis.Host)
	port("REDIS_PORT", &c.Redis.Port)
	str("MEMCACHED_HOSTNAME", &c.Memcache.Host)
	port("MEMCACHED_PORT", &c.Memcache.Port)
	str("POSTGRES_HOSTNAME", &c.Postgres.Host)
	port("POSTGRES_PORT", &c.Postgres.Port)
	str("POSTGRES_DATABASE", &c.Postgres.Database)
	str("POSTGRES_USERNAME", &c.Postgres.Username)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)
	return errors.Join(errs...)
}

// Validate checks the settings needed by the selected backend and source.
func (c *Config) Validate() error {
	kind, err := backend.ParseKind(c.Backend)
	if err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must not be negative, got %d", c.QueueSize)
	}
	if c.CapacityBytes < 0 {
		return fmt.Errorf("capacity_bytes must not be negative, got %d", c.CapacityBytes)
	}

	switch kind {
	case backend.KindRedis:
		if c.Redis.Host == "" {
			return errors.New("redis backend needs redis.host or REDIS_HOSTNAME")
		}
	case backend.KindMemcache:
		if c.Memcache.Host == "" {
			return errors.New("memcache backend needs memcache.host or MEMCACHED_HOSTNAME")
		}
	case backend.KindPostgres:
		if !c.PostgresConfigured() {
			return errors.New("postgres backend needs postgres.host or POSTGRES_HOSTNAME")
		}
	case backend.KindLibrary:
		if !slices.Contains(cache.AvailableNames(), c.Library) {
			return fmt.Errorf("unknown library %q (available: %s)", c.Library, strings.Join(cache.AvailableNames(), ", "))
		}
	}

	switch c.Source.Kind {
	case "", "synthetic":
	case "postgres":
		if !c.PostgresConfigured() {
			return errors.New("postgres source needs postgres.host or POSTGRES_HOSTNAME")
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}
	return nil
}

// Kind returns the parsed backend kind. Call Validate first.
func (c *Config) Kind() backend.Kind {
	k, _ := backend.ParseKind(c.Backend) //nolint:errcheck // checked by Validate
	return k
}

// PostgresConfigured reports whether a database host is known.
func (c *Config) PostgresConfigured() bool {
	return c.Postgres.Host != ""
}

// UsePostgresSource reports whether missed values are read from the database.
func (c *Config) UsePostgresSource() bool {
	switch c.Source.Kind {
	case "postgres":
		return true
	case "synthetic":
		return false
	}
	return c.PostgresConfigured()
}

// PostgresDSN builds a connection URL from the postgres settings.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Postgres.Host, strconv.Itoa(c.Postgres.Port)),
		Path:   "/" + c.Postgres.Database,
	}
	if c.Postgres.Username != "" {
		if c.Postgres.Password != "" {
			u.User = url.UserPassword(c.Postgres.Username, c.Postgres.Password)
		} else {
			u.User = url.User(c.Postgres.Username)
		}
	}
	return u.String()
}

// BackendConfig converts the settings into backend endpoint configuration.
func (c *Config) BackendConfig() backend.Config {
	bc := backend.Config{
		CapacityBytes:   c.CapacityBytes,
		Library:         c.Library,
		LibraryCapacity: c.LibraryCapacity,
		RedisPassword:   c.Redis.Password,
		RedisDB:         c.Redis.DB,
		CacheTable:      c.Postgres.CacheTable,
		DialTimeout:     c.DialTimeout,
	}
	if c.Redis.Host != "" {
		bc.RedisAddr = net.JoinHostPort(c.Redis.Host, strconv.Itoa(c.Redis.Port))
	}
	if c.Memcache.Host != "" {
		bc.MemcacheAddr = net.JoinHostPort(c.Memcache.Host, strconv.Itoa(c.Memcache.Port))
	}
	if c.PostgresConfigured() {
		bc.PostgresDSN = c.PostgresDSN()
	}
	return bc
}

// HarnessOptions converts the settings into orchestrator options.
func (c *Config) HarnessOptions(traceName string) harness.Options {
	return harness.Options{
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		PollInterval: c.PollInterval,
		IdleExit:     c.IdleExit,
		Prepare:      c.Prepare,
		LogDir:       c.LogDir,
		TraceName:    traceName,
	}
}
