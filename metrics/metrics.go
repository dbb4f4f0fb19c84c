// Package metrics exports engine and detector activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/c0deZ3R0/go-optimistic-kit/optimistic"
)

// DefaultNamespace prefixes every metric when no namespace is configured.
const DefaultNamespace = "optimistic"

// Collector implements optimistic.MetricsCollector and
// conflict.MetricsCollector on top of Prometheus vectors.
type Collector struct {
	mutations      *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	rollbacks      *prometheus.CounterVec
	conflicts      *prometheus.CounterVec
	resolutions    *prometheus.CounterVec
	inFlight       prometheus.Gauge
}

// New registers the collector's metrics with reg. A nil reg uses the default
// Prometheus registerer.
func New(namespace string, reg prometheus.Registerer) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		// Labels: engine, status (confirmed, failed, conflicted, rolled_back)
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "updates_total",
			Help:      "Updates reaching a status, by engine",
		}, []string{"engine", "status"}),

		// Labels: engine, outcome (success, error)
		remoteDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "remote_duration_seconds",
			Help:      "Latency of remote operations in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"engine", "outcome"}),

		// Labels: engine, result (allowed, refused)
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "retries_total",
			Help:      "Retry requests, allowed or refused by the retry budget",
		}, []string{"engine", "result"}),

		// Labels: engine, result (success, failure)
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by result",
		}, []string{"engine", "result"}),

		// Labels: kind (version, concurrent-edit, duplicate)
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "conflicts_total",
			Help:      "Conflicts detected by kind",
		}, []string{"kind"}),

		// Labels: kind, action (overwrite, merge, reject, retry, manual)
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "resolutions_total",
			Help:      "Conflict resolutions by kind and action",
		}, []string{"kind", "action"}),

		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "busy",
			Help:      "1 while any remote operation is in flight",
		}),
	}
}

func (c *Collector) RecordMutation(engine string, status optimistic.Status) {
	c.mutations.WithLabelValues(engine, string(status)).Inc()
}

func (c *Collector) RecordRemoteDuration(engine string, duration time.Duration, success bool) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	c.remoteDuration.WithLabelValues(engine, outcome).Observe(duration.Seconds())
}

func (c *Collector) RecordRetry(engine string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "refused"
	}
	c.retries.WithLabelValues(engine, result).Inc()
}

func (c *Collector) RecordRollback(engine string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.rollbacks.WithLabelValues(engine, result).Inc()
}

func (c *Collector) RecordConflict(kind string) {
	c.conflicts.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordResolution(kind, action string) {
	c.resolutions.WithLabelValues(kind, action).Inc()
}

// SetBusy lets the collector act as a notify.BusySink.
func (c *Collector) SetBusy(busy bool) {
	if busy {
		c.inFlight.Set(1)
		return
	}
	c.inFlight.Set(0)
}
