// Package observability exposes Prometheus metrics for search and indexing.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SearchesTotal counts searches by mode: keyword, smart.
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiva",
		Name:      "searches_total",
		Help:      "Number of searches served, by mode.",
	}, []string{"mode"})

	// SearchDuration observes end-to-end search latency by mode.
	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "archiva",
		Name:      "search_duration_seconds",
		Help:      "Search latency in seconds, by mode.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode"})

	// IndexedFilesTotal counts indexing outcomes by final status.
	IndexedFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiva",
		Name:      "indexed_files_total",
		Help:      "Number of file indexing attempts, by final embedding status.",
	}, []string{"status"})

	// ReindexTasksTotal counts reindex tasks by terminal state.
	ReindexTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "archiva",
		Name:      "reindex_tasks_total",
		Help:      "Number of reindex tasks, by terminal state.",
	}, []string{"state"})
)
