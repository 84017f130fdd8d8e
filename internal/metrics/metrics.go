// Package metrics exports replay measurements to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tstromberg/gocachereplay/internal/runlog"
)

const namespace = "gocachereplay"

// Collector records per-item outcomes for one backend on its own registry.
type Collector struct {
	backend  string
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	requeues prometheus.Counter
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	server *http.Server
	logger *slog.Logger
}

// New creates a collector labelled with the backend name.
func New(backend string) (*Collector, error) {
	c := &Collector{
		backend:  backend,
		registry: prometheus.NewRegistry(),
		logger:   slog.Default(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Work items completed, by cache outcome.",
		}, []string{"backend", "action"}),
		requeues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "requeues_total",
			Help:        "Work items put back after an insert conflict.",
			ConstLabels: prometheus.Labels{"backend": backend},
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Backend or source failures, by processing stage.",
		}, []string{"backend", "stage"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_ms",
			Help:      "Time to complete a work item in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"backend", "action"}),
	}

	for _, col := range []prometheus.Collector{c.requests, c.requeues, c.errors, c.latency} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Request records a completed item.
func (c *Collector) Request(action runlog.Action, latency time.Duration) {
	a := action.String()
	c.requests.WithLabelValues(c.backend, a).Inc()
	c.latency.WithLabelValues(c.backend, a).Observe(float64(latency) / float64(time.Millisecond))
}

// Requeue records an item put back on the work queue.
func (c *Collector) Requeue() {
	c.requeues.Inc()
}

// Error records a failure at stage (get, lookup or set).
func (c *Collector) Error(stage string) {
	c.errors.WithLabelValues(c.backend, stage).Inc()
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) //nolint:errcheck // client went away
	})
	return mux
}

// Serve listens on addr and serves the handler in the background. It returns the
// bound address, which differs from addr when addr uses port 0.
func (c *Collector) Serve(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("metrics listen: %w", err)
	}
	c.server = &http.Server{
		Handler:           c.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the metrics server if one is running.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}
