// Package metrics exposes the Prometheus instrumentation for a Runtime
// and CRDT Bridge. It is an ambient observability concern: the spec's
// Non-goals exclude rendering, auth, and disk persistence format, not
// metrics, so ModuForge carries structured instrumentation the way the
// rest of the retrieval pack does.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Runtime groups the counters and gauges a Runtime updates during
// dispatch. Callers normally construct one with NewRuntime and register
// it with a prometheus.Registerer of their choosing (nil leaves the
// metrics unregistered).
type Runtime struct {
	DispatchTotal     *prometheus.CounterVec
	FilteredTotal     prometheus.Counter
	AppendLoopTotal   prometheus.Counter
	CancelledTotal    prometheus.Counter
	DispatchDuration  prometheus.Histogram
	CurrentVersion    prometheus.Gauge
	QueueDepth        prometheus.Gauge
	TaskPoolInFlight  prometheus.Gauge
}

// NewRuntime creates and registers a Runtime metrics group. namespace is
// typically "moduforge".
func NewRuntime(reg prometheus.Registerer, namespace string) *Runtime {
	m := &Runtime{
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "dispatch_total",
			Help:      "Transactions dispatched, labeled by outcome (applied|filtered|append_loop|error|cancelled).",
		}, []string{"outcome"}),
		FilteredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "filtered_total",
			Help:      "Transactions rejected by a plugin filter hook.",
		}),
		AppendLoopTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "append_loop_total",
			Help:      "Dispatches aborted because append_transaction recursion exceeded the depth limit.",
		}),
		CancelledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "cancelled_total",
			Help:      "Dispatches aborted by deadline or cancellation signal.",
		}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall-clock time spent in State.Apply plus middleware.",
			Buckets:   prometheus.DefBuckets,
		}),
		CurrentVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "current_version",
			Help:      "The version of the current state snapshot.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "dispatch_queue_depth",
			Help:      "Number of dispatch requests waiting on the single-writer queue.",
		}),
		TaskPoolInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "task_pool_in_flight",
			Help:      "Number of detached middleware tasks currently running.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.DispatchTotal, m.FilteredTotal, m.AppendLoopTotal, m.CancelledTotal,
			m.DispatchDuration, m.CurrentVersion, m.QueueDepth, m.TaskPoolInFlight,
		)
	}
	return m
}

// Bridge groups the counters a CRDT Bridge updates.
type Bridge struct {
	RoomsActive      prometheus.Gauge
	LocalOpsTotal    prometheus.Counter
	RemoteOpsTotal   prometheus.Counter
	SyncMismatches   prometheus.Counter
	ReconnectRetries prometheus.Counter
}

// NewBridge creates and registers a Bridge metrics group.
func NewBridge(reg prometheus.Registerer, namespace string) *Bridge {
	m := &Bridge{
		RoomsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "rooms_active",
			Help:      "Number of rooms currently in the Initialized state.",
		}),
		LocalOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "local_ops_total",
			Help:      "CRDT ops projected from locally-applied steps.",
		}),
		RemoteOpsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "remote_ops_total",
			Help:      "CRDT ops ingested from remote updates.",
		}),
		SyncMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "sync_mismatches_total",
			Help:      "Non-fatal projection failures dropped by the bridge.",
		}),
		ReconnectRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "reconnect_retries_total",
			Help:      "Backoff retries attempted after a transient room apply failure.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RoomsActive, m.LocalOpsTotal, m.RemoteOpsTotal, m.SyncMismatches, m.ReconnectRetries,
		)
	}
	return m
}
