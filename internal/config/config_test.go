package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstromberg/gocachereplay/internal/backend"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, backend.KindLRU, c.Kind())
	assert.Equal(t, 1, c.Workers)
	assert.Equal(t, 100, c.QueueSize)
	assert.Equal(t, time.Second, c.PollInterval)
	assert.Equal(t, ".", c.LogDir)
	assert.True(t, c.Prepare, "runs start from a flushed backend")
	assert.True(t, c.HarnessOptions("t").Prepare)
	assert.False(t, c.UsePostgresSource())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: redis
workers: 8
poll_interval: 250ms
prepare: false
redis:
  host: cache.internal
  db: 2
postgres:
  host: db.internal
  database: traces
  username: bench
source:
  kind: synthetic
  blocks: 4
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, backend.KindRedis, c.Kind())
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, 250*time.Millisecond, c.PollInterval)
	assert.False(t, c.Prepare)
	assert.Equal(t, 6379, c.Redis.Port, "unset fields keep their defaults")
	assert.Equal(t, 4, c.Source.Blocks)
	assert.False(t, c.UsePostgresSource())

	bc := c.BackendConfig()
	assert.Equal(t, "cache.internal:6379", bc.RedisAddr)
	assert.Equal(t, 2, bc.RedisDB)
	assert.Equal(t, "postgres://bench@db.internal:5432/traces", bc.PostgresDSN)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workerz: 3\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err, "unknown keys are rejected")
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(env(map[string]string{
		"REDIS_HOSTNAME":     "r",
		"REDIS_PORT":         "7000",
		"MEMCACHED_HOSTNAME": "m",
		"MEMCACHED_PORT":     "7001",
		"POSTGRES_HOSTNAME":  "p",
		"POSTGRES_PORT":      "7002",
		"POSTGRES_DATABASE":  "d",
		"POSTGRES_USERNAME":  "u",
		"POSTGRES_PASSWORD":  "s3cr=t",
	}))
	require.NoError(t, err)

	bc := c.BackendConfig()
	assert.Equal(t, "r:7000", bc.RedisAddr)
	assert.Equal(t, "m:7001", bc.MemcacheAddr)
	assert.Equal(t, "postgres://u:s3cr=t@p:7002/d", bc.PostgresDSN)
	assert.True(t, c.UsePostgresSource())

	err = Default().ApplyEnv(env(map[string]string{"REDIS_PORT": "abc"}))
	assert.ErrorContains(t, err, "REDIS_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "nope" }, true},
		{"numeric tag", func(c *Config) { c.Backend = "4" }, false},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"negative capacity", func(c *Config) { c.CapacityBytes = -1 }, true},
		{"redis without host", func(c *Config) { c.Backend = "redis" }, true},
		{"memcache without host", func(c *Config) { c.Backend = "memcached" }, true},
		{"postgres without host", func(c *Config) { c.Backend = "postgres" }, true},
		{"postgres with host", func(c *Config) { c.Backend = "postgres"; c.Postgres.Host = "db" }, false},
		{"library known", func(c *Config) { c.Backend = "library"; c.Library = "s3-fifo" }, false},
		{"library unknown", func(c *Config) { c.Backend = "library"; c.Library = "nope" }, true},
		{"postgres source without host", func(c *Config) { c.Source.Kind = "postgres" }, true},
		{"unknown source", func(c *Config) { c.Source.Kind = "csv" }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHarnessOptions(t *testing.T) {
	c := Default()
	c.Workers = 3
	c.IdleExit = true
	o := c.HarnessOptions("trace.lis")
	assert.Equal(t, 3, o.Workers)
	assert.True(t, o.IdleExit)
	assert.Equal(t, "trace.lis", o.TraceName)
}
