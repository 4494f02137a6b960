package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation counters, registered on the default registry and exported by the
// API server at /metrics.
var (
	batchesIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_ledger_batches_issued_total",
		Help: "Number of credit batches issued.",
	})

	purchasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_ledger_purchases_total",
		Help: "Number of committed purchases.",
	})

	retirementsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_ledger_retirements_total",
		Help: "Number of committed retirements.",
	})

	contentionRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carbon_ledger_contention_retries_total",
		Help: "Number of purchase attempts retried after a version conflict.",
	})
)
