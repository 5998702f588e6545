package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(EntriesAdded, RetainedEntries, TablesTracked, GcPasses, GcSkips)
	prometheus.MustRegister(EntriesCollected, TombstonesBuilt, MalformedPayloads, ReplaysApplied)
	prometheus.MustRegister(CommandsServed, CommandErrors, LookupLatency, LookupsExpired, LookupsNoNewData)
	prometheus.MustRegister(CursorCommits, RaftApplies, RaftSnapshots, IsLeader)
}

func StartMetricsServer(port int) {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", port)
		fmt.Println("[METRICS] Prometheus exporter listening on", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			fmt.Printf("[METRICS] Failed to start metrics server: %v\n", err)
		}
	}()
}

// PushLookup records the latency of one handled lookup command.
func PushLookup(elapsedSeconds float64) {
	LookupLatency.Observe(elapsedSeconds)
}
