package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	CommandsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_commands_total",
		Help: "Total number of client commands handled by the serving layer",
	})

	CommandErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_command_errors_total",
		Help: "Total number of client commands that failed",
	})

	LookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "metad_lookup_latency_seconds",
		Help:    "Histogram of binlog lookup latency during serving",
		Buckets: prometheus.DefBuckets,
	})

	LookupsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_lookups_expired_total",
		Help: "Total number of lookups that asked below the gc horizon",
	})

	LookupsNoNewData = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_lookups_no_new_data_total",
		Help: "Total number of lookups that were already at the tail",
	})

	CursorCommits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_cursor_commits_total",
		Help: "Total number of consumer cursor positions committed",
	})

	RaftApplies = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_raft_applies_total",
		Help: "Total number of replicated commands applied to the state machine",
	})

	RaftSnapshots = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metad_raft_snapshots_total",
		Help: "Total number of state machine snapshots taken",
	})

	IsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metad_is_leader",
		Help: "Whether this node currently leads the replication group (1/0)",
	})
)
