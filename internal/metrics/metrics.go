package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "saga"

var (
	MessagesHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_handled_total",
		Help:      "Messages processed by a handler, by outcome.",
	}, []string{"handler", "topic", "outcome"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Time spent in a message handler.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"handler", "topic"})

	MessagesPoisoned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_poisoned_total",
		Help:      "Messages moved to the poison topic.",
	}, []string{"handler", "topic"})

	DuplicatesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicates_skipped_total",
		Help:      "Redelivered messages skipped by the processed-message store.",
	}, []string{"handler"})

	OutboxPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbox_published_total",
		Help:      "Outbox rows handed to the bus.",
	})

	LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_operations_total",
		Help:      "Stock ledger operations, by kind and outcome.",
	}, []string{"operation", "outcome"})

	LedgerConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_version_conflicts_total",
		Help:      "Compare-and-swap attempts that lost a version race.",
	})

	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_outcomes_total",
		Help:      "Capture and refund results.",
	}, []string{"operation", "outcome"})

	StuckSagas = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stuck_sagas",
		Help:      "Sagas without progress for longer than the configured threshold.",
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
