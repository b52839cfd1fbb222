package contentstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStoreAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustmesh_content_store_attempts_total",
		Help: "Network publish attempts, including retries.",
	})
	metricStoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustmesh_content_store_failures_total",
		Help: "Network publish attempts that failed or timed out.",
	})
	metricFallbackWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustmesh_content_fallback_writes_total",
		Help: "Blobs persisted through the degraded local path.",
	})
	metricRetrieveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustmesh_content_retrieve_failures_total",
		Help: "Network fetches that failed or timed out.",
	})
	metricInboxSyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustmesh_content_inbox_syncs_total",
		Help: "Inbox synchronization passes.",
	})
)
