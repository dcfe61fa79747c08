// Package receipt carries delivery status reports from channel webhooks to
// the executions they describe. The Ingester validates and publishes
// receipts to the receipt stream; the Processor consumes them and applies
// the status change.
package receipt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"herald-go/internal/domain"
	"herald-go/internal/metrics"
	"herald-go/internal/queue"
)

// ErrPublishFailed is returned when the receipt stream rejects a receipt.
var ErrPublishFailed = errors.New("failed to publish receipt to stream")

// Ingester accepts webhook receipts.
type Ingester struct {
	producer queue.Producer
	logger   *slog.Logger
}

// NewIngester creates a new receipt ingester.
func NewIngester(producer queue.Producer, logger *slog.Logger) *Ingester {
	return &Ingester{producer: producer, logger: logger}
}

// Ingest validates a webhook receipt, normalizes its status vocabulary and
// publishes it keyed by external message ID, so all updates for one
// message are consumed in order.
func (i *Ingester) Ingest(ctx context.Context, tenantID string, req *domain.ReceiptRequest) (*domain.Receipt, error) {
	if tenantID == "" {
		return nil, domain.ErrEmptyTenantID
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r := req.ToReceipt(tenantID)
	metrics.ReceiptsReceivedTotal.WithLabelValues(string(r.Status)).Inc()

	msg, err := queue.EncodeReceipt(r)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := i.producer.Publish(ctx, msg); err != nil {
		i.logger.Error("failed to publish receipt",
			"error", err,
			"external_message_id", r.ExternalMessageID,
		)
		return nil, ErrPublishFailed
	}
	metrics.ReceiptPublishLatency.Observe(time.Since(start).Seconds())

	i.logger.Debug("receipt published",
		"tenant_id", tenantID,
		"external_message_id", r.ExternalMessageID,
		"status", r.Status,
	)
	return r, nil
}
