package harness

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstromberg/gocachereplay/internal/backend"
	"github.com/tstromberg/gocachereplay/internal/runlog"
	"github.com/tstromberg/gocachereplay/internal/source"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeBackend is an in-memory relational stand-in that can inject conflicts and
// connection failures.
type fakeBackend struct {
	mu        sync.Mutex
	data      map[string][]byte
	conflicts map[string]int
	commits   map[string]int
	getErr    error
	setErr    error
	failAt    int
	connects  int
	closes    int
	prepared  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		data:      map[string][]byte{},
		conflicts: map[string]int{},
		commits:   map[string]int{},
	}
}

func (*fakeBackend) Kind() backend.Kind { return backend.KindPostgres }

func (b *fakeBackend) Connect(context.Context) (backend.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.failAt > 0 && b.connects == b.failAt {
		return nil, fmt.Errorf("dial: %w", backend.ErrConnection)
	}
	return &fakeConn{b: b}, nil
}

func (*fakeBackend) Close() error { return nil }

func (b *fakeBackend) Prepare(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared = true
	return nil
}

type fakeConn struct{ b *fakeBackend }

func (c *fakeConn) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.getErr != nil {
		return nil, false, c.b.getErr
	}
	v, ok := c.b.data[key]
	return v, ok, nil
}

func (c *fakeConn) Set(_ context.Context, key string, value []byte) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.setErr != nil {
		return c.b.setErr
	}
	if c.b.conflicts[key] > 0 {
		// Another writer won the race and committed first.
		c.b.conflicts[key]--
		c.b.data[key] = value
		return backend.ErrConflict
	}
	if _, ok := c.b.data[key]; ok {
		return backend.ErrConflict
	}
	c.b.data[key] = value
	c.b.commits[key]++
	return nil
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closes++
	return nil
}

func keys(n int) map[string][]byte {
	m := make(map[string][]byte, n)
	for i := range n {
		m["key-"+strconv.Itoa(i)] = []byte("value-" + strconv.Itoa(i))
	}
	return m
}

func parseLog(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"cache_action", "thread_number", "count", "delta_time", "key", "value"}, rows[0])
	return rows[1:]
}

func run(t *testing.T, b backend.Backend, src source.Source, opts Options, feed []string) (*Orchestrator, *bytes.Buffer, error) {
	t.Helper()
	var buf bytes.Buffer
	ctx := context.Background()
	o, err := New(ctx, b, src, opts, WithLogger(quiet), WithLogOutput(&buf))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	for i, k := range feed {
		require.NoError(t, o.Enqueue(ctx, k, uint64(i+1)))
	}
	return o, &buf, o.Close()
}

func TestOrchestrator_EndToEndLRU(t *testing.T) {
	const n = 500
	data := keys(n)
	feed := make([]string, 0, n)
	for k := range data {
		feed = append(feed, k)
	}

	b := backend.NewLRU(0)
	o, buf, err := run(t, b, source.NewMap(data), Options{Workers: 4, PollInterval: 10 * time.Millisecond}, feed)
	require.NoError(t, err)

	rows := parseLog(t, buf)
	require.Len(t, rows, n)

	seen := map[string]bool{}
	seqs := map[string]bool{}
	for _, r := range rows {
		key := r[4]
		assert.False(t, seen[key], "duplicate record for %s", key)
		seen[key] = true
		seqs[r[2]] = true
		assert.Equal(t, "miss", r[0])

		got, ok := b.Engine().Get(key)
		require.True(t, ok, "backend lost %s", key)
		assert.Equal(t, hex.EncodeToString(got), r[5])
		assert.Equal(t, data[key], got)

		w, err := strconv.Atoi(r[1])
		require.NoError(t, err)
		assert.True(t, w >= 0 && w < 4)
	}
	assert.Len(t, seqs, n)
	assert.Equal(t, Stats{Misses: n}, o.Stats())
}

func TestOrchestrator_HitsAfterMiss(t *testing.T) {
	b := backend.NewLRU(1024)
	src := source.NewMap(map[string][]byte{"a": []byte("1")})
	_, buf, err := run(t, b, src, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, []string{"a", "a", "a"})
	require.NoError(t, err)

	rows := parseLog(t, buf)
	require.Len(t, rows, 3)
	assert.Equal(t, "miss", rows[0][0])
	assert.Equal(t, "hit", rows[1][0])
	assert.Equal(t, "hit", rows[2][0])
	assert.Equal(t, []string{"1", "2", "3"}, []string{rows[0][2], rows[1][2], rows[2][2]})
}

func TestOrchestrator_ConflictRequeues(t *testing.T) {
	b := newFakeBackend()
	b.conflicts["contended"] = 1
	src := source.NewMap(map[string][]byte{"contended": []byte("v"), "other": []byte("w")})

	o, buf, err := run(t, b, src, Options{Workers: 2, PollInterval: 10 * time.Millisecond}, []string{"contended", "other"})
	require.NoError(t, err)

	rows := parseLog(t, buf)
	count := map[string]int{}
	for _, r := range rows {
		count[r[4]]++
	}
	assert.Equal(t, 1, count["contended"], "conflicting key must produce exactly one record")
	assert.Equal(t, 1, count["other"])
	assert.Equal(t, 0, b.commits["contended"], "the winning writer committed, not this run")
	assert.Equal(t, int64(1), o.Stats().Requeues)
	assert.Equal(t, int64(1), o.Stats().Hits)
}

func TestOrchestrator_ConcurrentMissesCommitOnce(t *testing.T) {
	b := newFakeBackend()
	src := source.NewMap(map[string][]byte{"k": []byte("v")})
	feed := make([]string, 50)
	for i := range feed {
		feed[i] = "k"
	}

	o, buf, err := run(t, b, src, Options{Workers: 8, PollInterval: 10 * time.Millisecond}, feed)
	require.NoError(t, err)

	assert.Len(t, parseLog(t, buf), 50)
	assert.Equal(t, 1, b.commits["k"])
	s := o.Stats()
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(49), s.Hits)
}

func TestOrchestrator_SkipsEmptyKeys(t *testing.T) {
	src := source.NewMap(map[string][]byte{"a": []byte("1")})
	o, buf, err := run(t, backend.NewLRU(0), src, Options{Workers: 2, PollInterval: 10 * time.Millisecond}, []string{"", "a", ""})
	require.NoError(t, err)
	assert.Len(t, parseLog(t, buf), 1)
	assert.Equal(t, int64(2), o.Stats().Skipped)
}

func TestOrchestrator_DropsOnBackendError(t *testing.T) {
	src := source.NewMap(map[string][]byte{"big": bytes.Repeat([]byte{1}, 64), "small": {2}})
	o, buf, err := run(t, backend.NewLRU(8), src, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, []string{"big", "small", "missing"})
	require.NoError(t, err)

	rows := parseLog(t, buf)
	require.Len(t, rows, 1)
	assert.Equal(t, "small", rows[0][4])
	assert.Equal(t, int64(2), o.Stats().Dropped)
}

func TestOrchestrator_ConnectionLossStopsWorker(t *testing.T) {
	b := newFakeBackend()
	b.getErr = fmt.Errorf("read: %w", backend.ErrConnection)
	src := source.NewMap(keys(10))

	ctx := context.Background()
	o, err := New(ctx, b, src, Options{Workers: 1, QueueSize: 1, PollInterval: 10 * time.Millisecond},
		WithLogger(quiet), WithLogOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))

	var enqErr error
	for i := range 10 {
		if enqErr = o.Enqueue(ctx, "key-"+strconv.Itoa(i), uint64(i+1)); enqErr != nil {
			break
		}
	}
	require.Error(t, enqErr, "enqueue must not block forever once the pool is gone")
	assert.ErrorIs(t, enqErr, ErrStopped)
	assert.ErrorIs(t, enqErr, backend.ErrConnection)

	err = o.Close()
	assert.ErrorIs(t, err, backend.ErrConnection)
	assert.Equal(t, 1, b.closes)
}

func TestOrchestrator_OtherErrorsKeepWorkerAlive(t *testing.T) {
	b := newFakeBackend()
	b.setErr = errors.New("disk full")
	_, buf, err := run(t, b, source.NewMap(keys(5)), Options{Workers: 1, PollInterval: 10 * time.Millisecond},
		[]string{"key-0", "key-1", "key-2", "key-3", "key-4"})
	require.NoError(t, err)
	assert.Empty(t, parseLog(t, buf))
}

func TestOrchestrator_IdleExit(t *testing.T) {
	ctx := context.Background()
	o, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1),
		Options{Workers: 2, PollInterval: 5 * time.Millisecond, IdleExit: true},
		WithLogger(quiet), WithLogOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))

	require.Eventually(t, func() bool {
		return errors.Is(o.Enqueue(ctx, "late", 1), ErrStopped)
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, o.Close())
}

func TestNew_SetupErrors(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1), Options{Workers: 0})
	assert.Error(t, err)

	_, err = New(ctx, nil, source.NewSynthetic(1), Options{Workers: 1})
	assert.Error(t, err)

	b := newFakeBackend()
	_, err = New(ctx, b, source.NewSynthetic(1), Options{Workers: 1, Prepare: true}, WithLogger(quiet))
	require.NoError(t, err)
	assert.True(t, b.prepared)
}

func TestStart_ConnectFailureClosesOpened(t *testing.T) {
	b := newFakeBackend()
	b.failAt = 3
	ctx := context.Background()
	o, err := New(ctx, b, source.NewSynthetic(1), Options{Workers: 4}, WithLogger(quiet), WithLogOutput(io.Discard))
	require.NoError(t, err)

	err = o.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrConnection)
	assert.Equal(t, 2, b.closes)
	assert.Error(t, o.Enqueue(ctx, "k", 1))
	assert.NoError(t, o.Close())
}

func TestStart_CreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	ts := time.Date(2024, 5, 6, 7, 8, 0, 0, time.UTC)
	ctx := context.Background()
	o, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1),
		Options{Workers: 1, PollInterval: 10 * time.Millisecond, LogDir: dir, TraceName: "web.lis"},
		WithLogger(quiet), WithClock(func() time.Time { return ts }))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Enqueue(ctx, "x", 1))
	require.NoError(t, o.Close())

	want := filepath.Join(dir, "web.lis_06_05_2024_07_08_4.log")
	assert.Equal(t, want, o.LogPath())
	content, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Contains(t, string(content), runlog.Header)
	assert.Contains(t, string(content), "miss,0,1,0.0000,x,")
}

func TestStart_MissingLogDir(t *testing.T) {
	ctx := context.Background()
	o, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1),
		Options{Workers: 1, LogDir: filepath.Join(t.TempDir(), "nope")}, WithLogger(quiet))
	require.NoError(t, err)
	assert.Error(t, o.Start(ctx))
}

func TestEnqueue_AfterClose(t *testing.T) {
	ctx := context.Background()
	o, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1),
		Options{Workers: 1, PollInterval: 10 * time.Millisecond}, WithLogger(quiet), WithLogOutput(io.Discard))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	require.NoError(t, o.Close())
	assert.ErrorIs(t, o.Enqueue(ctx, "k", 1), ErrClosed)
	assert.NoError(t, o.Close())
}

type countingRecorder struct {
	mu       sync.Mutex
	requests map[runlog.Action]int
}

func (r *countingRecorder) Request(a runlog.Action, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[a]++
}
func (*countingRecorder) Requeue()     {}
func (*countingRecorder) Error(string) {}

func TestOrchestrator_Recorder(t *testing.T) {
	rec := &countingRecorder{requests: map[runlog.Action]int{}}
	ctx := context.Background()
	o, err := New(ctx, backend.NewLRU(0), source.NewSynthetic(1),
		Options{Workers: 2, PollInterval: 10 * time.Millisecond},
		WithLogger(quiet), WithLogOutput(io.Discard), WithRecorder(rec))
	require.NoError(t, err)
	require.NoError(t, o.Start(ctx))
	for i, k := range []string{"a", "b", "a"} {
		require.NoError(t, o.Enqueue(ctx, k, uint64(i+1)))
	}
	require.NoError(t, o.Close())
	assert.Equal(t, 3, rec.requests[runlog.Hit]+rec.requests[runlog.Miss])
	assert.GreaterOrEqual(t, rec.requests[runlog.Miss], 2)
}
