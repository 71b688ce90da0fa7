package telemetry

import "github.com/prometheus/client_golang/prometheus"

// DirectorySyncRunsTotal counts orchestrator runs by adapter and result
// ("ok", "client_error", "transient").
var DirectorySyncRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "directory_sync",
		Name:      "runs_total",
		Help:      "Total number of directory sync orchestrator runs.",
	},
	[]string{"adapter", "result"},
)

// DirectorySyncDuration observes the wall-clock time of one orchestrator run.
var DirectorySyncDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "conclave",
		Subsystem: "directory_sync",
		Name:      "duration_seconds",
		Help:      "Duration of a directory sync orchestrator run.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"adapter"},
)

// DirectorySyncFailuresTotal counts failed orchestrator runs by adapter.
var DirectorySyncFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "directory_sync",
		Name:      "failures_total",
		Help:      "Total number of directory sync failures by adapter.",
	},
	[]string{"adapter"},
)

// ReplicationReconnectsTotal counts replication manager (re)connect attempts.
var ReplicationReconnectsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "replication",
		Name:      "reconnects_total",
		Help:      "Total number of replication connection (re)connect attempts.",
	},
)

// ReplicationEventsDispatchedTotal counts decoded WAL events dispatched to hooks.
var ReplicationEventsDispatchedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "replication",
		Name:      "events_dispatched_total",
		Help:      "Total number of decoded replication events dispatched to hooks.",
	},
	[]string{"table", "op"},
)

// JobExecutorTicksTotal counts ticks executed by concurrent/global job executors.
var JobExecutorTicksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "jobs",
		Name:      "executor_ticks_total",
		Help:      "Total number of job executor ticks, by job name and executor kind.",
	},
	[]string{"job", "kind"},
)

// PresenceRateLimitedTotal counts socket admissions rejected by the presence
// registry's token-bucket rate limiter.
var PresenceRateLimitedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "conclave",
		Subsystem: "presence",
		Name:      "rate_limited_total",
		Help:      "Total number of admissions rejected by the presence rate limiter.",
	},
)

// HTTPRequestDuration observes HTTP request durations for the maintenance server.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "conclave",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// All returns every collector that should be registered at boot.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DirectorySyncRunsTotal,
		DirectorySyncDuration,
		DirectorySyncFailuresTotal,
		ReplicationReconnectsTotal,
		ReplicationEventsDispatchedTotal,
		JobExecutorTicksTotal,
		PresenceRateLimitedTotal,
		HTTPRequestDuration,
	}
}

// NewRegistry creates a Prometheus registry with the given collectors
// pre-registered, alongside the default Go/process collectors.
func NewRegistry(collectors ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return reg
}
