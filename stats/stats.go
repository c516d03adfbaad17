// Package stats exposes Prometheus metrics for the streamer (SPEC_FULL.md
// DOMAIN STACK). Metrics are global, package-level vars registered on
// prometheus.DefaultRegisterer in init -- the simpler direct client_golang
// style, not the teacher's own heavier StatsD-flavored stats package, which
// has no reachable caller in a library-shaped ingestion engine.
/*
 * styled on etalazz-vsa/internal/ratelimiter/telemetry/churn/prom_counters.go
 */
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EntriesAdded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamer_entries_added_total",
		Help: "Total entries accepted into add()/remove() operations.",
	})
	BatchesSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamer_batches_submitted_total",
		Help: "Total batches handed to the local apply path or the Transport, by node.",
	}, []string{"node"})
	BatchesAcked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streamer_batches_acked_total",
		Help: "Total batches that resolved, by node and outcome (ok|error).",
	}, []string{"node", "outcome"})
	RemapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamer_remaps_total",
		Help: "Total remap re-routings triggered by retryable failures.",
	})
	RemapExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamer_remap_exhausted_total",
		Help: "Total operations that failed after exceeding max_remap.",
	})
	BufferDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamer_buffer_pending_entries",
		Help: "Current number of entries accumulated (not yet overflow-submitted) per node buffer.",
	}, []string{"node"})
	ParallelPermitsInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streamer_parallel_permits_in_use",
		Help: "Current number of held parallel-ops permits per node buffer.",
	}, []string{"node"})
	SubmitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streamer_submit_latency_seconds",
		Help:    "Observed time from submit() to batch-future resolution.",
		Buckets: prometheus.DefBuckets,
	})
	NodesLeftTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streamer_nodes_left_total",
		Help: "Total node-left/node-failed events observed by the Topology Listener.",
	})
)

func init() {
	prometheus.MustRegister(
		EntriesAdded,
		BatchesSubmitted,
		BatchesAcked,
		RemapsTotal,
		RemapExhaustedTotal,
		BufferDepth,
		ParallelPermitsInUse,
		SubmitLatency,
		NodesLeftTotal,
	)
}

// ServeHTTP starts a dedicated /metrics endpoint in the background, mirroring
// the teacher's pack's "tiny standalone metrics server" convention. Callers
// who already expose Prometheus elsewhere should register promhttp.Handler()
// on their own mux instead.
func ServeHTTP(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}
