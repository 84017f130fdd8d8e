package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstromberg/gocachereplay/internal/lru"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"redis", KindRedis, false},
		{"Redis", KindRedis, false},
		{"2", KindRedis, false},
		{"1", KindPostgres, false},
		{"sqlalchemy", KindPostgres, false},
		{"memcached", KindMemcache, false},
		{"3", KindMemcache, false},
		{"4", KindLRU, false},
		{"lru", KindLRU, false},
		{"library", KindLibrary, false},
		{"0", KindNone, true},
		{"none", KindNone, true},
		{"9", KindNone, true},
		{"cassandra", KindNone, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseKind(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKind_StringAndTag(t *testing.T) {
	assert.Equal(t, "postgres", KindPostgres.String())
	assert.Equal(t, "1", KindPostgres.Tag())
	assert.Equal(t, "4", KindLRU.Tag())
	assert.Equal(t, "kind(42)", Kind(42).String())
}

func TestNew_RequiresEndpoints(t *testing.T) {
	for _, k := range []Kind{KindRedis, KindMemcache, KindPostgres, KindNone, Kind(42)} {
		_, err := New(k, Config{})
		assert.Error(t, err, "kind %s", k)
	}
	_, err := New(KindLibrary, Config{Library: "bogus"})
	assert.Error(t, err)
}

func TestNew_Variants(t *testing.T) {
	tests := []struct {
		kind Kind
		cfg  Config
	}{
		{KindLRU, Config{CapacityBytes: 10}},
		{KindLibrary, Config{Library: "otter", LibraryCapacity: 10}},
		{KindRedis, Config{RedisAddr: "localhost:6379"}},
		{KindMemcache, Config{MemcacheAddr: "localhost:11211"}},
		{KindPostgres, Config{PostgresDSN: "postgres://localhost/db"}},
	}
	for _, tc := range tests {
		t.Run(tc.kind.String(), func(t *testing.T) {
			b, err := New(tc.kind, tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, b.Kind())
			assert.NoError(t, b.Close())
		})
	}
}

func TestLRU_SharedEngine(t *testing.T) {
	b := NewLRU(10)
	ctx := context.Background()

	c1, err := b.Connect(ctx)
	require.NoError(t, err)
	c2, err := b.Connect(ctx)
	require.NoError(t, err)

	require.NoError(t, c1.Set(ctx, "k", []byte("v")))
	v, ok, err := c2.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	err = c1.Set(ctx, "big", make([]byte, 11))
	assert.ErrorIs(t, err, lru.ErrOversizedValue)

	_, isLocker := c1.(sync.Locker)
	assert.True(t, isLocker, "lru connections must expose the backend lock")
	assert.NoError(t, c1.Close())
}

func TestLibrary_RoundTrip(t *testing.T) {
	b, err := NewLibrary("lru", 0)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck // test cleanup
	assert.Equal(t, "lru", b.Name())

	ctx := context.Background()
	c, err := b.Connect(ctx)
	require.NoError(t, err)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	_, isLocker := c.(sync.Locker)
	assert.False(t, isLocker)
}

func TestLibrary_Evictions(t *testing.T) {
	ctx := context.Background()

	b, err := NewLibrary("tinylfu", 8)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck // test cleanup
	c, err := b.Connect(ctx)
	require.NoError(t, err)
	for i := range 80 {
		require.NoError(t, c.Set(ctx, fmt.Sprint(i), []byte("v")))
	}
	n, ok := b.Evictions()
	assert.True(t, ok)
	assert.Positive(t, n)

	plain, err := NewLibrary("lru", 8)
	require.NoError(t, err)
	defer plain.Close() //nolint:errcheck // test cleanup
	_, ok = plain.Evictions()
	assert.False(t, ok)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestConnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net error", timeoutErr{}, true},
		{"already wrapped", fmt.Errorf("x: %w", ErrConnection), true},
		{"other", errors.New("syntax error"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := connError(tc.err)
			assert.Equal(t, tc.want, errors.Is(got, ErrConnection))
			if tc.err != nil {
				assert.ErrorIs(t, got, tc.err)
			}
		})
	}
}

func TestInsertError(t *testing.T) {
	conflict := insertError("k", &pgconn.PgError{Code: uniqueViolation})
	assert.ErrorIs(t, conflict, ErrConflict)

	other := insertError("k", &pgconn.PgError{Code: "42P01"})
	assert.NotErrorIs(t, other, ErrConflict)
}

func TestValueCodec(t *testing.T) {
	raw := []byte{0x00, 0xde, 0xad, 0xbe, 0xef}
	enc, err := encodeValue(raw)
	require.NoError(t, err)
	assert.Equal(t, `"00deadbeef"`, string(enc))

	dec, err := decodeValue(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, dec)

	_, err = decodeValue([]byte(`"zz"`))
	assert.Error(t, err)
	_, err = decodeValue([]byte(`{`))
	assert.Error(t, err)
}
