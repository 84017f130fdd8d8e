// Package harness replays work items against a backend with a pool of workers
// and records every completed item in a run log.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tstromberg/gocachereplay/internal/backend"
	"github.com/tstromberg/gocachereplay/internal/queue"
	"github.com/tstromberg/gocachereplay/internal/runlog"
	"github.com/tstromberg/gocachereplay/internal/source"
)

// DefaultPollInterval is how long workers and the log writer wait on an empty queue
// before checking whether to exit.
const DefaultPollInterval = time.Second

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("harness: orchestrator closed")
	// ErrStopped is returned by Enqueue once every worker has exited.
	ErrStopped = errors.New("harness: all workers exited")
)

// Options configures an Orchestrator.
type Options struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	// IdleExit makes a worker exit as soon as a poll times out on an empty queue,
	// even if the feeder has not closed it yet.
	IdleExit bool
	// Prepare resets backend state before any worker connects.
	Prepare   bool
	LogDir    string
	TraceName string
}

// Recorder receives per-item measurements.
type Recorder interface {
	Request(action runlog.Action, latency time.Duration)
	Requeue()
	Error(stage string)
}

type nopRecorder struct{}

func (nopRecorder) Request(runlog.Action, time.Duration) {}
func (nopRecorder) Requeue()                             {}
func (nopRecorder) Error(string)                         {}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithLogOutput writes the run log to w instead of a file in LogDir.
func WithLogOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.logOut = w }
}

// Stats counts item outcomes.
type Stats struct {
	Hits     int64
	Misses   int64
	Requeues int64
	Dropped  int64
	Skipped  int64
}

// Processed returns the number of items that produced a log record.
func (s Stats) Processed() int64 { return s.Hits + s.Misses }

type item struct {
	key string
	seq uint64
}

// Orchestrator owns the work queue, the log queue, the log writer and the
// worker pool.
type Orchestrator struct {
	backend  backend.Backend
	source   source.Source
	opts     Options
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	logOut   io.Writer

	work    *queue.Bounded[item]
	records *queue.Unbounded[runlog.Record]
	writer  *runlog.Writer
	logFile *os.File

	conns      []backend.Conn
	group      errgroup.Group
	workersErr error
	poolCtx    context.Context // done once every worker has exited
	writerDone chan error

	mu      sync.Mutex
	started bool
	closed  bool

	hits, misses, requeues, dropped, skipped atomic.Int64
}

// New validates opts and prepares the backend when asked to.
func New(ctx context.Context, b backend.Backend, src source.Source, opts Options, options ...Option) (*Orchestrator, error) {
	if opts.Workers < 1 {
		return nil, fmt.Errorf("invalid worker count %d: need at least 1", opts.Workers)
	}
	if b == nil || src == nil {
		return nil, errors.New("backend and source are required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LogDir == "" {
		opts.LogDir = "."
	}

	o := &Orchestrator{
		backend:  b,
		source:   src,
		opts:     opts,
		logger:   slog.Default(),
		recorder: nopRecorder{},
		now:      time.Now,
		work:     queue.NewBounded[item](opts.QueueSize),
		records:  queue.NewUnbounded[runlog.Record](),
	}
	for _, fn := range options {
		fn(o)
	}

	if opts.Prepare {
		if p, ok := b.(backend.Preparer); ok {
			if err := p.Prepare(ctx); err != nil {
				return nil, fmt.Errorf("prepare %s: %w", b.Kind(), err)
			}
			o.logger.Info("backend prepared", "backend", b.Kind().String())
		}
	}
	return o, nil
}

// Start connects one backend connection per worker, opens the run log, and
// starts the log writer and the workers. ctx bounds every backend call made by
// the workers.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}

	conns := make([]backend.Conn, 0, o.opts.Workers)
	for i := range o.opts.Workers {
		c, err := o.backend.Connect(ctx)
		if err != nil {
			for _, c := range conns {
				_ = c.Close() //nolint:errcheck // best-effort cleanup after setup failure
			}
			return fmt.Errorf("connect worker %d to %s: %w", i, o.backend.Kind(), err)
		}
		conns = append(conns, c)
	}

	out := o.logOut
	if out == nil {
		f, err := o.openLog()
		if err != nil {
			for _, c := range conns {
				_ = c.Close() //nolint:errcheck // best-effort cleanup after setup failure
			}
			return err
		}
		o.logFile = f
		out = f
	}

	o.conns = conns
	o.writer = runlog.NewWriter(out)
	o.writerDone = make(chan error, 1)
	poolCtx, poolDone := context.WithCancel(context.Background())
	o.poolCtx = poolCtx
	o.started = true

	go func() { o.writerDone <- o.writer.Run(o.records, o.opts.PollInterval) }()

	for i, c := range conns {
		o.group.Go(func() error { return o.runWorker(ctx, i, c) })
	}
	go func() {
		o.workersErr = o.group.Wait()
		poolDone()
	}()

	o.logger.Info("workers started", "backend", o.backend.Kind().String(), "workers", o.opts.Workers)
	return nil
}

func (o *Orchestrator) openLog() (*os.File, error) {
	fi, err := os.Stat(o.opts.LogDir)
	if err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("log directory %s is not a directory", o.opts.LogDir)
	}
	return runlog.Create(o.opts.LogDir, o.opts.TraceName, o.backend.Kind().Tag(), o.now())
}

// LogPath returns the run log file path, or "" when logging to a custom writer.
func (o *Orchestrator) LogPath() string {
	if o.logFile == nil {
		return ""
	}
	return o.logFile.Name()
}

// Enqueue hands a key to the workers, blocking while the work queue is full.
// It must not be called concurrently with Close.
func (o *Orchestrator) Enqueue(ctx context.Context, key string, seq uint64) error {
	o.mu.Lock()
	started, closed := o.started, o.closed
	o.mu.Unlock()
	switch {
	case !started:
		return errors.New("orchestrator not started")
	case closed:
		return ErrClosed
	}

	if o.poolCtx.Err() != nil {
		return o.stoppedErr()
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.poolCtx, cancel)
	defer stop()

	if err := o.work.Push(pctx, item{key: key, seq: seq}); err != nil {
		if ctx.Err() == nil {
			return o.stoppedErr()
		}
		return err
	}
	return nil
}

func (o *Orchestrator) stoppedErr() error {
	if o.workersErr != nil {
		return fmt.Errorf("%w: %w", ErrStopped, o.workersErr)
	}
	return ErrStopped
}

// Close waits for the workers to finish every queued item, then for the log
// writer to flush every record, and releases the connections. It returns the
// first fatal worker error, if any.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	started := o.started
	o.mu.Unlock()
	if !started {
		return nil
	}

	o.work.Close()
	<-o.poolCtx.Done()
	o.records.Close()

	errs := []error{o.workersErr}
	if err := <-o.writerDone; err != nil {
		errs = append(errs, err)
	}
	for _, c := range o.conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	if o.logFile != nil {
		if err := o.logFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run log: %w", err))
		}
	}

	s := o.Stats()
	o.logger.Info("run finished",
		"hits", s.Hits, "misses", s.Misses, "requeues", s.Requeues,
		"dropped", s.Dropped, "records", o.writer.Count())
	return errors.Join(errs...)
}

// Stats returns a snapshot of the item counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Hits:     o.hits.Load(),
		Misses:   o.misses.Load(),
		Requeues: o.requeues.Load(),
		Dropped:  o.dropped.Load(),
		Skipped:  o.skipped.Load(),
	}
}
