// gocachereplay replays a lookup trace against a cache backend and logs every hit and miss.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tstromberg/gocachereplay/internal/backend"
	"github.com/tstromberg/gocachereplay/internal/cache"
	"github.com/tstromberg/gocachereplay/internal/config"
	"github.com/tstromberg/gocachereplay/internal/harness"
	"github.com/tstromberg/gocachereplay/internal/metrics"
	"github.com/tstromberg/gocachereplay/internal/output"
	"github.com/tstromberg/gocachereplay/internal/source"
	"github.com/tstromberg/gocachereplay/internal/trace"
)

// zipfTrace is the trace argument that selects a generated trace.
const zipfTrace = "zipf"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flags holds the command-line settings. Only flags given explicitly override
// the config file and environment.
type flags struct {
	fs *flag.FlagSet

	help     bool
	config   string
	backend  string
	logDir   string
	threads  int
	limit    int
	capacity int64
	library  string
	summary  string
	metrics  string
	prepare  bool
	idleExit bool
	verbose  bool

	zipfN     int
	zipfKeys  int
	zipfTheta float64
	zipfSeed  uint64
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{fs: flag.NewFlagSet("gocachereplay", flag.ContinueOnError)}
	fs := f.fs
	fs.SetOutput(stderr)
	fs.BoolVar(&f.help, "help", false, "Show help message")
	fs.StringVar(&f.config, "config", "", "YAML config file")
	fs.StringVar(&f.backend, "backend", "", "Backend: lru, library, redis, memcache, postgres, or numeric tag 1-5 (default: lru)")
	fs.StringVar(&f.logDir, "log-dir", "", "Directory for the run log (default: .)")
	fs.IntVar(&f.threads, "threads", 0, "Number of workers (default: 1)")
	fs.IntVar(&f.limit, "limit", 0, "Maximum number of trace records to replay (0 = all)")
	fs.Int64Var(&f.capacity, "capacity", 0, "LRU capacity in bytes (0 = unbounded)")
	fs.StringVar(&f.library, "library", "", "Cache library for the library backend (default: otter)")
	fs.StringVar(&f.summary, "summary", "", "Write a run summary to this .json or .md file")
	fs.StringVar(&f.metrics, "metrics", "", "Serve Prometheus metrics on this address (e.g., :9090)")
	fs.BoolVar(&f.prepare, "prepare", true, "Flush the backend before replaying (-prepare=false keeps existing state)")
	fs.BoolVar(&f.idleExit, "idle-exit", false, "Stop workers as soon as the queue is idle for one poll interval")
	fs.BoolVar(&f.verbose, "v", false, "Verbose diagnostics")
	fs.IntVar(&f.zipfN, "zipf-n", 100_000, "Records in a generated zipf trace")
	fs.IntVar(&f.zipfKeys, "zipf-keys", 10_000, "Key space of a generated zipf trace")
	fs.Float64Var(&f.zipfTheta, "zipf-theta", 0.99, "Skew of a generated zipf trace, in (0, 1)")
	fs.Uint64Var(&f.zipfSeed, "zipf-seed", 42, "Seed of a generated zipf trace")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply overlays explicitly set flags on cfg.
func (f *flags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "backend":
			cfg.Backend = f.backend
		case "log-dir":
			cfg.LogDir = f.logDir
		case "threads":
			cfg.Workers = f.threads
		case "capacity":
			cfg.CapacityBytes = f.capacity
		case "library":
			cfg.Library = f.library
		case "metrics":
			cfg.MetricsAddr = f.metrics
		case "prepare":
			cfg.Prepare = f.prepare
		case "idle-exit":
			cfg.IdleExit = f.idleExit
		}
	})
}

//nolint:gocognit,revive // linear CLI flow
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if f.help {
		printUsage(stdout)
		return 0
	}
	if f.fs.NArg() < 1 || f.fs.NArg() > 2 {
		printUsage(stderr)
		return 2
	}
	tracePath := f.fs.Arg(0)
	table := f.fs.Arg(1)

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg := config.Default()
	if f.config != "" {
		if cfg, err = config.Load(f.config); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if tracePath != zipfTrace {
		if _, err := os.Stat(tracePath); err != nil {
			fmt.Fprintln(stderr, "Error: Input file doesn't exist.")
			return 1
		}
	}
	if fi, err := os.Stat(cfg.LogDir); err != nil || !fi.IsDir() {
		fmt.Fprintln(stderr, "Error: Folder doesn't exist.")
		return 1
	}

	src, err := openSource(ctx, cfg, table)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer src.Close()

	b, err := backend.New(cfg.Kind(), cfg.BackendConfig())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer b.Close() //nolint:errcheck // nothing left to report

	opts := []harness.Option{harness.WithLogger(logger)}
	if cfg.MetricsAddr != "" {
		col, err := metrics.New(cfg.Kind().String())
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		addr, err := col.Serve(cfg.MetricsAddr)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = col.Shutdown(sctx) //nolint:errcheck // exiting anyway
		}()
		fmt.Fprintf(stdout, "  metrics: http://%s/metrics\n", addr)
		opts = append(opts, harness.WithRecorder(col))
	}

	traceName := filepath.Base(tracePath)
	orch, err := harness.New(ctx, b, src, cfg.HarnessOptions(traceName), opts...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	keys, err := openTrace(tracePath, f)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer keys.Close() //nolint:errcheck // read-only

	printHeader(stdout, tracePath, cfg)
	start := time.Now()
	if err := orch.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fed, feedErr := trace.Feed(ctx, keys, f.limit, orch.Enqueue)
	closeErr := orch.Close()
	elapsed := time.Since(start)
	stats := orch.Stats()
	if lib, ok := b.(*backend.Library); ok {
		if n, ok := lib.Evictions(); ok {
			logger.Info("library evictions", "cache", lib.Name(), "evictions", n)
		}
	}

	summary := output.Summary{
		Trace:       traceName,
		Backend:     cfg.Kind().String(),
		Workers:     cfg.Workers,
		Items:       fed,
		Hits:        stats.Hits,
		Misses:      stats.Misses,
		Requeues:    stats.Requeues,
		Dropped:     stats.Dropped,
		Skipped:     stats.Skipped,
		Elapsed:     elapsed,
		Timestamp:   start.Format(time.RFC3339),
		LogFile:     orch.LogPath(),
		MachineInfo: output.NewMachineInfo("gocachereplay " + strings.Join(args, " ")),
	}
	printSummary(stdout, summary)

	if f.summary != "" {
		write := output.WriteJSON
		if strings.HasSuffix(f.summary, ".md") {
			write = output.WriteMarkdown
		}
		if err := write(f.summary, summary); err != nil {
			fmt.Fprintf(stderr, "Error writing summary: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Summary: %s\n", f.summary)
	}

	if err := errors.Join(feedErr, closeErr); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func openSource(ctx context.Context, cfg *config.Config, table string) (source.Source, error) {
	if !cfg.UsePostgresSource() {
		return source.NewSynthetic(cfg.Source.Blocks), nil
	}
	if table == "" {
		return nil, errors.New("a source table name is required when reading from postgres")
	}
	return source.NewPostgres(ctx, cfg.PostgresDSN(), table, cfg.Workers)
}

func openTrace(path string, f *flags) (trace.Source, error) {
	if path == zipfTrace {
		z, err := trace.NewZipf(f.zipfN, f.zipfKeys, f.zipfTheta, f.zipfSeed)
		if err != nil {
			return nil, err
		}
		return z, nil
	}
	return trace.Open(path)
}

func printHeader(w io.Writer, tracePath string, cfg *config.Config) {
	fmt.Fprintln(w, "gocachereplay")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  trace:   %s\n", tracePath)
	backendName := cfg.Kind().String()
	if cfg.Kind() == backend.KindLibrary {
		backendName += " (" + cfg.Library + ")"
	}
	fmt.Fprintf(w, "  backend: %s\n", backendName)
	fmt.Fprintf(w, "  threads: %d\n", cfg.Workers)
	fmt.Fprintln(w)
}

func printSummary(w io.Writer, s output.Summary) {
	fmt.Fprintf(w, "  items:    %d\n", s.Items)
	fmt.Fprintf(w, "  hits:     %d (%.2f%%)\n", s.Hits, s.HitRate())
	fmt.Fprintf(w, "  misses:   %d\n", s.Misses)
	if s.Requeues > 0 {
		fmt.Fprintf(w, "  requeues: %d\n", s.Requeues)
	}
	if s.Dropped > 0 || s.Skipped > 0 {
		fmt.Fprintf(w, "  dropped:  %d, skipped: %d\n", s.Dropped, s.Skipped)
	}
	fmt.Fprintf(w, "  elapsed:  %s (%.0f items/s)\n", s.Elapsed.Round(time.Millisecond), s.Throughput())
	if s.LogFile != "" {
		fmt.Fprintf(w, "Log: %s\n", s.LogFile)
	}
}

func printUsage(w io.Writer) {
	p := func(s string) { fmt.Fprintln(w, s) }
	p("gocachereplay - Replay a lookup trace against a cache backend")
	p("")
	p("Usage:")
	p("  gocachereplay [options] <tracefile|zipf> [source-table]")
	p("")
	p("Options:")
	p("  -backend <name>     lru, library, redis, memcache, postgres, or tag 1-5 (default: lru)")
	p("  -config <file>      YAML config file")
	p("  -log-dir <dir>      Directory for the run log (default: .)")
	p("  -threads <n>        Number of workers (default: 1)")
	p("  -limit <n>          Maximum number of trace records to replay (default: all)")
	p("  -capacity <bytes>   LRU capacity in bytes (default: unbounded)")
	p("  -library <name>     Cache library for the library backend (default: otter)")
	p("  -summary <file>     Write a run summary (.json or .md)")
	p("  -metrics <addr>     Serve Prometheus metrics on addr")
	p("  -prepare=false      Keep existing backend state instead of flushing it first")
	p("  -idle-exit          Stop workers once the queue stays idle for a poll interval")
	p("  -zipf-n, -zipf-keys, -zipf-theta, -zipf-seed   Shape of a generated zipf trace")
	p("  -v                  Verbose diagnostics")
	p("")
	p("Environment:")
	p("  REDIS_HOSTNAME, REDIS_PORT, MEMCACHED_HOSTNAME, MEMCACHED_PORT,")
	p("  POSTGRES_HOSTNAME, POSTGRES_PORT, POSTGRES_DATABASE, POSTGRES_USERNAME, POSTGRES_PASSWORD")
	p("")
	p("Missed values are read from <source-table> when postgres is configured,")
	p("otherwise they are generated from the key.")
	p("")
	p("Available libraries:")
	for _, name := range cache.AvailableNames() {
		fmt.Fprintf(w, "  - %s\n", name)
	}
}
