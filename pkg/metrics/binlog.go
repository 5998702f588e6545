package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EntriesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_entries_added_total",
		Help: "Total number of binlog entries registered into per-table logs",
	})

	RetainedEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "binlog_retained_entries",
		Help: "Current number of binlog entries retained across all tables",
	})

	TablesTracked = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "binlog_tables_tracked",
		Help: "Current number of tables with a live binlog",
	})

	GcPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_passes_total",
		Help: "Total number of per-table garbage collection passes",
	})

	GcSkips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_skips_total",
		Help: "Total number of gc passes skipped for unresolved or disabled retention",
	})

	EntriesCollected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_entries_collected_total",
		Help: "Total number of binlog entries removed by garbage collection",
	})

	TombstonesBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_tombstones_total",
		Help: "Total number of tombstones produced by garbage collection",
	})

	MalformedPayloads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_malformed_payload_total",
		Help: "Total number of gc passes that hit an undecodable upsert payload",
	})

	ReplaysApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "binlog_gc_replays_total",
		Help: "Total number of replayed gc decisions applied to local logs",
	})
)
