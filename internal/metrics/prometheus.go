// Package metrics exposes run counters on a private Prometheus registry and
// exports them as a node_exporter textfile.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all harness metrics.
type Registry struct {
	reg *prometheus.Registry

	// Verdicts
	Verdicts     *prometheus.CounterVec
	TestDuration *prometheus.HistogramVec

	// Processes
	NodeLaunches  *prometheus.CounterVec
	TrackedNodes  prometheus.Gauge
	CleanupErrors prometheus.Counter

	// Package builds
	Builds *prometheus.CounterVec
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New returns an independent registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	f := promauto.With(r.reg)

	r.Verdicts = f.NewCounterVec(prometheus.CounterOpts{
		Name: "uqdev_test_verdicts_total",
		Help: "Test verdicts by outcome",
	}, []string{"verdict"})

	r.TestDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "uqdev_test_duration_seconds",
		Help:    "Wall time of each test from build to cleanup",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"verdict"})

	r.NodeLaunches = f.NewCounterVec(prometheus.CounterOpts{
		Name: "uqdev_node_launches_total",
		Help: "Node process launches by result",
	}, []string{"result"})

	r.TrackedNodes = f.NewGauge(prometheus.GaugeOpts{
		Name: "uqdev_tracked_nodes",
		Help: "Node processes currently awaiting cleanup",
	})

	r.CleanupErrors = f.NewCounter(prometheus.CounterOpts{
		Name: "uqdev_cleanup_errors_total",
		Help: "I/O and signal errors swallowed during cleanup",
	})

	r.Builds = f.NewCounterVec(prometheus.CounterOpts{
		Name: "uqdev_package_builds_total",
		Help: "Package and runtime builds by result",
	}, []string{"result"})

	return r
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// RecordVerdict counts a test outcome and its duration.
func (r *Registry) RecordVerdict(verdict string, d time.Duration) {
	r.Verdicts.WithLabelValues(verdict).Inc()
	r.TestDuration.WithLabelValues(verdict).Observe(d.Seconds())
}

// RecordLaunch counts a node launch attempt.
func (r *Registry) RecordLaunch(err error) {
	r.NodeLaunches.WithLabelValues(resultString(err)).Inc()
	if err == nil {
		r.TrackedNodes.Inc()
	}
}

// RecordNodeReleased marks a tracked node as cleaned up.
func (r *Registry) RecordNodeReleased() {
	r.TrackedNodes.Dec()
}

// RecordCleanupError counts an error swallowed during cleanup.
func (r *Registry) RecordCleanupError() {
	r.CleanupErrors.Inc()
}

// RecordBuild counts a build attempt.
func (r *Registry) RecordBuild(err error) {
	r.Builds.WithLabelValues(resultString(err)).Inc()
}

// WriteTextfile writes every metric to path in the text exposition format.
func (r *Registry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics %s: %w", path, err)
	}
	return nil
}

func resultString(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
