package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"herald-go/internal/domain"
	"herald-go/internal/metrics"
	"herald-go/internal/queue"
	"herald-go/internal/store"
)

const lockTTL = 30 * time.Second

// StatsUpdater recomputes a campaign's stats after one of its executions
// changed.
type StatsUpdater interface {
	UpdateStats(ctx context.Context, tenantID, campaignID string) (domain.CampaignStats, error)
}

// Processor consumes receipts and applies them to executions.
type Processor struct {
	consumer   queue.Consumer
	executions store.ExecutionRepository
	stats      StatsUpdater
	locker     store.Locker
	logger     *slog.Logger
}

// NewProcessor creates a new receipt processor.
func NewProcessor(
	consumer queue.Consumer,
	executions store.ExecutionRepository,
	stats StatsUpdater,
	locker store.Locker,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		consumer:   consumer,
		executions: executions,
		stats:      stats,
		locker:     locker,
		logger:     logger,
	}
}

// Start consumes receipts until ctx is canceled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("starting receipt processor")
	return p.consumer.Start(ctx, p.handleMessage)
}

// Stop closes the consumer.
func (p *Processor) Stop() error {
	p.logger.Info("stopping receipt processor")
	return p.consumer.Close()
}

func (p *Processor) handleMessage(ctx context.Context, msg *queue.Message) error {
	r, err := queue.DecodeReceipt(msg)
	if err != nil {
		// Redelivering a malformed message cannot help.
		p.logger.Error("failed to decode receipt", "error", err)
		return nil
	}

	result, err := p.Apply(ctx, r)
	metrics.ReceiptsAppliedTotal.WithLabelValues(string(r.Status), result).Inc()
	return err
}

// Apply moves the execution identified by the receipt's external message ID.
// Receipts for unknown messages and transitions the execution lifecycle
// does not allow are logged and dropped. The returned result labels the
// outcome: applied, unknown, rejected or error.
func (p *Processor) Apply(ctx context.Context, r *domain.Receipt) (string, error) {
	found, err := p.executions.GetByExternalID(ctx, r.TenantID, r.ExternalMessageID)
	if err != nil {
		if domain.IsNotFound(err) {
			p.logger.Warn("receipt for unknown message",
				"tenant_id", r.TenantID,
				"external_message_id", r.ExternalMessageID,
				"status", r.Status,
			)
			return "unknown", nil
		}
		return "error", err
	}

	release, err := p.locker.Acquire(ctx, store.ExecutionLockKey(found.ID), lockTTL)
	if err != nil {
		return "error", err
	}
	defer release()

	exec, err := p.executions.GetByID(ctx, found.TenantID, found.ID)
	if err != nil {
		return "error", err
	}

	if err := apply(exec, r); err != nil {
		if errors.Is(err, domain.ErrInvalidExecutionStatus) || errors.Is(err, domain.ErrAlreadyConverted) {
			p.logger.Info("ignoring receipt",
				"execution_id", exec.ID,
				"current_status", exec.Status,
				"receipt_status", r.Status,
				"reason", err,
			)
			return "rejected", nil
		}
		return "error", err
	}

	if err := p.executions.Update(ctx, exec); err != nil {
		return "error", fmt.Errorf("failed to store execution: %w", err)
	}
	release()

	// The sweeper recomputes stats of running campaigns, so a failure here
	// only delays the counters.
	if _, err := p.stats.UpdateStats(ctx, exec.TenantID, exec.CampaignID); err != nil {
		p.logger.Warn("failed to refresh campaign stats",
			"campaign_id", exec.CampaignID,
			"error", err,
		)
	}

	p.logger.Debug("receipt applied",
		"execution_id", exec.ID,
		"status", exec.Status,
	)
	return "applied", nil
}

func apply(exec *domain.CampaignExecution, r *domain.Receipt) error {
	at := r.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if r.Status == domain.ReceiptConverted {
		return exec.Convert(r.Value, at)
	}

	to, ok := r.Status.ExecutionStatus()
	if !ok {
		return fmt.Errorf("%w: unknown receipt status %q", domain.ErrInvalidExecutionStatus, r.Status)
	}
	if to.IsAbsorbing() {
		reason := r.ErrorMessage
		if reason == "" {
			reason = "Reported " + string(r.Status) + " by channel"
		}
		return exec.Fail(to, reason, at)
	}
	return exec.Advance(to, at)
}
