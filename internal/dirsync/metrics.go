package dirsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "dirsync_runs_total",
			Help: "Number of directory sync runs, differentiated by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	pagesFetched = promauto.NewCounter( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "dirsync_pages_fetched_total",
			Help: "Number of provider list pages fetched across all runs.",
		},
	)

	recordsReconciled = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "dirsync_records_reconciled_total",
			Help: "Number of records written during reconciliation, differentiated by kind.",
		},
		[]string{"kind"},
	)
)
