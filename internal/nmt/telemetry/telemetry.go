// Package telemetry exposes optional Prometheus instrumentation over the
// counters the tracker core already maintains. Registering metrics is
// strictly additive: nothing in the core depends on this package, and a
// caller that never wires a registry pays no cost beyond the gauge
// structs themselves.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gauges and counters describing one tracker instance's
// live state.
type Metrics struct {
	instanceCount    prometheus.Gauge
	pooledCount      prometheus.Gauge
	pendingQueueSize prometheus.Gauge
	generation       prometheus.Gauge
	workerIdle       prometheus.Gauge
	slowdownAdvised  prometheus.Gauge
	shutdowns        prometheus.Counter
}

// NewMetrics constructs the gauge/counter set without registering it.
// Call RegisterMetrics to attach it to a *prometheus.Registry.
func NewMetrics() *Metrics {
	return &Metrics{
		instanceCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "instance_count",
			Help:      "Number of live recorder instances (pooled, pending, or checked out).",
		}),
		pooledCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "pooled_count",
			Help:      "Number of cleared recorders currently sitting in the pool.",
		}),
		pendingQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "pending_generations",
			Help:      "Number of generations buffered in the merge worker awaiting application.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "generation",
			Help:      "Generation number last applied to the snapshot.",
		}),
		workerIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "worker_idle",
			Help:      "1 if the merge worker is currently parked with nothing to apply, else 0.",
		}),
		slowdownAdvised: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "slowdown_advised",
			Help:      "1 if the last sync cycle set the advisory slowdown flag, else 0.",
		}),
		shutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nativemem",
			Subsystem: "tracker",
			Name:      "shutdowns_total",
			Help:      "Number of times the tracker has initiated shutdown.",
		}),
	}
}

// RegisterMetrics registers every metric with registry and returns the
// receiver, mirroring the storage layer's RegisterMetrics(registry)
// pattern used elsewhere in this codebase.
func (m *Metrics) RegisterMetrics(registry *prometheus.Registry) *Metrics {
	registry.MustRegister(
		m.instanceCount,
		m.pooledCount,
		m.pendingQueueSize,
		m.generation,
		m.workerIdle,
		m.slowdownAdvised,
		m.shutdowns,
	)
	return m
}

// Observation is the snapshot of counters Sample reads from the live
// collaborators each time it is called.
type Observation struct {
	InstanceCount      int64
	PooledCount        int64
	PendingGenerations int
	Generation         uint64
	WorkerIdle         bool
	SlowdownAdvised    bool
}

// Observe updates every gauge from o. Counters (Shutdowns) are
// incremented separately via IncShutdowns, since they are monotonic
// events rather than point-in-time state.
func (m *Metrics) Observe(o Observation) {
	m.instanceCount.Set(float64(o.InstanceCount))
	m.pooledCount.Set(float64(o.PooledCount))
	m.pendingQueueSize.Set(float64(o.PendingGenerations))
	m.generation.Set(float64(o.Generation))
	if o.WorkerIdle {
		m.workerIdle.Set(1)
	} else {
		m.workerIdle.Set(0)
	}
	if o.SlowdownAdvised {
		m.slowdownAdvised.Set(1)
	} else {
		m.slowdownAdvised.Set(0)
	}
}

// IncShutdowns records one shutdown initiation.
func (m *Metrics) IncShutdowns() { m.shutdowns.Inc() }
