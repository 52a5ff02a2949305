package backfill

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quilld_backfill_notes_processed_total",
		Help: "Notes successfully enriched, labeled by kind (tags, embedding).",
	}, []string{"kind"})

	notesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quilld_backfill_note_failures_total",
		Help: "Per-note enrichment failures, labeled by kind (tags, embedding).",
	}, []string{"kind"})

	commits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quilld_backfill_commits_total",
		Help: "Checkpoint and final commits performed by backfill runs.",
	})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quilld_backfill_run_duration_seconds",
		Help:    "Wall-clock duration of completed backfill runs, labeled by kind.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})
)
