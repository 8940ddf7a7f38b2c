// Package metrics exposes pipeline progress as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/strata/internal/orchestrator"
	"github.com/mattjoyce/strata/internal/runlog"
	"github.com/mattjoyce/strata/internal/snapshot"
)

const namespace = "strata"

// Collector implements orchestrator.Observer on its own registry.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stages        *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	snapshots     prometheus.Counter
	snapshotBytes prometheus.Gauge
	state         *prometheus.GaugeVec
	lastSuccess   prometheus.Gauge
}

var _ orchestrator.Observer = (*Collector)(nil)

var allStates = []orchestrator.State{
	orchestrator.StateInit,
	orchestrator.StateDetecting,
	orchestrator.StateSnapshotting,
	orchestrator.StateDiscovering,
	orchestrator.StateExecuting,
	orchestrator.StateDone,
	orchestrator.StateFailed,
}

// New registers the strata metrics plus the Go and process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "executions_total",
			Help:      "Stage executions by stage and status.",
		}, []string{"stage", "status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stage",
			Name:      "duration_seconds",
			Help:      "Stage wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"stage"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "created_total",
			Help:      "Snapshots written to the history directory.",
		}),
		snapshotBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_bytes",
			Help:      "Size of the most recent snapshot.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current orchestrator state (1 for the active state).",
		}, []string{"state"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	c.registry.MustRegister(
		c.runs, c.runDuration, c.stages, c.stageDuration,
		c.snapshots, c.snapshotBytes, c.state, c.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.StateChanged(orchestrator.StateInit)
	return c
}

// Registry returns the registry backing the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) StateChanged(state orchestrator.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}

func (c *Collector) SnapshotCreated(snap *snapshot.Snapshot) {
	if snap == nil {
		return
	}
	c.snapshots.Inc()
	c.snapshotBytes.Set(float64(snap.Bytes))
}

func (c *Collector) StageFinished(name string, status runlog.Status, duration time.Duration) {
	c.stages.WithLabelValues(name, string(status)).Inc()
	c.stageDuration.WithLabelValues(name).Observe(duration.Seconds())
}

func (c *Collector) RunFinished(state orchestrator.State, duration time.Duration) {
	c.runs.WithLabelValues(string(state)).Inc()
	c.runDuration.Observe(duration.Seconds())
	if state == orchestrator.StateDone {
		c.lastSuccess.SetToCurrentTime()
	}
}
