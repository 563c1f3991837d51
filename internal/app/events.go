package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/transfa/ledger-service/internal/metrics"
	"github.com/transfa/ledger-service/pkg/rabbitmq"
)

const (
	DefaultEventsExchange = "ledger_events"
	eventPublishTimeout   = 5 * time.Second
)

// eventEmitter publishes best-effort notifications after a unit of work has committed.
// A failed publish never fails the operation that produced it.
type eventEmitter struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
}

func newEventEmitter(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *eventEmitter {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if exchange == "" {
		exchange = DefaultEventsExchange
	}
	return &eventEmitter{publisher: publisher, exchange: exchange, logger: logger}
}

func (e *eventEmitter) emit(ctx context.Context, routingKey string, body any) {
	// The caller's context may already be done once the commit returns.
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	if err := e.publisher.Publish(publishCtx, e.exchange, routingKey, body); err != nil {
		metrics.EventPublishFailures.WithLabelValues(routingKey).Inc()
		e.logger.Warn("failed to publish ledger event", "routing_key", routingKey, "exchange", e.exchange, "error", err)
	}
}
