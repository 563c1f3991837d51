/**
 * @description
 * Prometheus instruments for the ledger, loan and accrual components. Registered on the
 * default registry through promauto and exposed by the ops router on /metrics.
 */

package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/transfa/ledger-service/internal/domain"
)

// LedgerOperations counts engine operations by name and outcome.
var LedgerOperations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "engine",
	Name:      "operations_total",
	Help:      "Total ledger and loan operations by operation and outcome.",
}, []string{"operation", "outcome"})

// LedgerOperationDuration records how long each operation took, including the commit.
var LedgerOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "ledger",
	Subsystem: "engine",
	Name:      "operation_duration_seconds",
	Help:      "Latency of ledger and loan operations.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
}, []string{"operation"})

// AccrualTicks counts scheduler ticks by result.
var AccrualTicks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "accrual",
	Name:      "ticks_total",
	Help:      "Total interest accrual ticks by result (applied, noop, skipped, failed).",
}, []string{"result"})

// AccrualLoansUpdated counts loans whose remaining amount was grown by accrual.
var AccrualLoansUpdated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "accrual",
	Name:      "loans_updated_total",
	Help:      "Total loans updated by interest accrual.",
})

// EventPublishFailures counts events that could not be handed to the broker.
var EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ledger",
	Subsystem: "events",
	Name:      "publish_failures_total",
	Help:      "Total ledger events that failed to publish.",
}, []string{"routing_key"})

// Outcome maps an operation error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence_error"
	case errors.Is(err, domain.ErrConfig):
		return "config_error"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, domain.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, domain.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, domain.ErrInvalidState):
		return "invalid_state"
	default:
		return "error"
	}
}

// ObserveOperation records one finished operation.
func ObserveOperation(operation string, started time.Time, err error) {
	LedgerOperations.WithLabelValues(operation, Outcome(err)).Inc()
	LedgerOperationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}
