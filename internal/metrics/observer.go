package metrics

import "time"

// ObserveQuery starts timing a database operation and returns a func to
// call with the operation's error once it finishes. Typical use:
//
//	done := metrics.ObserveQuery("resolve_collection_path")
//	defer func() { done(err) }()
func ObserveQuery(operation string) func(error) {
	start := time.Now()
	return func(err error) {
		status := "success"
		if err != nil {
			status = "error"
		}
		DBQueryTotal.WithLabelValues(operation, status).Inc()
		DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// ObserveTransaction records the duration of a committed or rolled-back
// transaction.
func ObserveTransaction(start time.Time, committed bool) {
	outcome := "commit"
	if !committed {
		outcome = "rollback"
	}
	DBTransactionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// ObserveReconcile records one facet reconciliation and the number of
// association rows it changed.
func ObserveReconcile(facet string, added, removed int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ReconcileOpsTotal.WithLabelValues(facet, status).Inc()
	if added > 0 {
		ReconcileRowsChanged.WithLabelValues(facet, "added").Add(float64(added))
	}
	if removed > 0 {
		ReconcileRowsChanged.WithLabelValues(facet, "removed").Add(float64(removed))
	}
}
