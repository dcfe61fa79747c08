package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Execution errors.
var (
	ErrExecutionNotFound      = errors.New("execution not found")
	ErrInvalidExecutionStatus = errors.New("invalid execution status transition")
	ErrAlreadyConverted       = errors.New("execution already converted")
)

// CampaignNotRunningReason is recorded on executions whose campaign left
// RUNNING before their delivery job fired.
const CampaignNotRunningReason = "Campaign not running"

// ExecutionStatus is the delivery state of one recipient.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionQueued    ExecutionStatus = "queued"
	ExecutionSent      ExecutionStatus = "sent"
	ExecutionDelivered ExecutionStatus = "delivered"
	ExecutionOpened    ExecutionStatus = "opened"
	ExecutionClicked   ExecutionStatus = "clicked"
	ExecutionReplied   ExecutionStatus = "replied"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionBounced   ExecutionStatus = "bounced"
)

// executionRank orders the progressive statuses.
var executionRank = map[ExecutionStatus]int{
	ExecutionPending:   0,
	ExecutionQueued:    1,
	ExecutionSent:      2,
	ExecutionDelivered: 3,
	ExecutionOpened:    4,
	ExecutionClicked:   5,
	ExecutionReplied:   6,
}

// IsValid returns true for a known status.
func (s ExecutionStatus) IsValid() bool {
	_, ok := executionRank[s]
	return ok || s.IsAbsorbing()
}

// IsAbsorbing returns true for failed and bounced.
func (s ExecutionStatus) IsAbsorbing() bool {
	return s == ExecutionFailed || s == ExecutionBounced
}

// IsOutstanding returns true while the execution has not been handed to a channel.
func (s ExecutionStatus) IsOutstanding() bool {
	return s == ExecutionPending || s == ExecutionQueued
}

// CanAdvanceTo reports whether s -> to is allowed. Progressive statuses
// only move forward, possibly skipping steps. Failed and bounced are
// reachable only before the message was sent and nothing leaves them.
func (s ExecutionStatus) CanAdvanceTo(to ExecutionStatus) bool {
	if s.IsAbsorbing() {
		return false
	}
	if to.IsAbsorbing() {
		return s.IsOutstanding()
	}
	from, ok1 := executionRank[s]
	target, ok2 := executionRank[to]
	return ok1 && ok2 && target > from
}

// CampaignExecution is one delivery attempt to one contact.
type CampaignExecution struct {
	ID                string           `json:"id"`
	TenantID          string           `json:"tenantId"`
	CampaignID        string           `json:"campaignId"`
	ContactID         string           `json:"contactId"`
	VariantID         string           `json:"variantId,omitempty"`
	Channel           Channel          `json:"channel"`
	Status            ExecutionStatus  `json:"status"`
	ExternalMessageID string           `json:"externalMessageId,omitempty"`
	ErrorMessage      string           `json:"errorMessage,omitempty"`
	QueuedAt          *time.Time       `json:"queuedAt,omitempty"`
	SentAt            *time.Time       `json:"sentAt,omitempty"`
	DeliveredAt       *time.Time       `json:"deliveredAt,omitempty"`
	OpenedAt          *time.Time       `json:"openedAt,omitempty"`
	ClickedAt         *time.Time       `json:"clickedAt,omitempty"`
	RepliedAt         *time.Time       `json:"repliedAt,omitempty"`
	FailedAt          *time.Time       `json:"failedAt,omitempty"`
	ConvertedAt       *time.Time       `json:"convertedAt,omitempty"`
	ConversionValue   *decimal.Decimal `json:"conversionValue,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// NewExecution creates a pending execution.
func NewExecution(id string, c *Campaign, contactID, variantID string) *CampaignExecution {
	now := time.Now().UTC()
	return &CampaignExecution{
		ID:         id,
		TenantID:   c.TenantID,
		CampaignID: c.ID,
		ContactID:  contactID,
		VariantID:  variantID,
		Channel:    c.Channel,
		Status:     ExecutionPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a copy that shares no pointers with the receiver.
func (e *CampaignExecution) Clone() *CampaignExecution {
	out := *e
	out.QueuedAt = cloneTime(e.QueuedAt)
	out.SentAt = cloneTime(e.SentAt)
	out.DeliveredAt = cloneTime(e.DeliveredAt)
	out.OpenedAt = cloneTime(e.OpenedAt)
	out.ClickedAt = cloneTime(e.ClickedAt)
	out.RepliedAt = cloneTime(e.RepliedAt)
	out.FailedAt = cloneTime(e.FailedAt)
	out.ConvertedAt = cloneTime(e.ConvertedAt)
	if e.ConversionValue != nil {
		v := *e.ConversionValue
		out.ConversionValue = &v
	}
	return &out
}

// Advance moves the execution to a later status and records the timestamp.
// Skipped intermediate timestamps are left unset.
func (e *CampaignExecution) Advance(to ExecutionStatus, at time.Time) error {
	if !e.Status.CanAdvanceTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidExecutionStatus, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = at
	switch to {
	case ExecutionQueued:
		e.QueuedAt = &at
	case ExecutionSent:
		e.SentAt = &at
	case ExecutionDelivered:
		e.DeliveredAt = &at
	case ExecutionOpened:
		e.OpenedAt = &at
	case ExecutionClicked:
		e.ClickedAt = &at
	case ExecutionReplied:
		e.RepliedAt = &at
	}
	return nil
}

// MarkSent records a successful hand-off to the channel.
func (e *CampaignExecution) MarkSent(externalID string, at time.Time) error {
	if err := e.Advance(ExecutionSent, at); err != nil {
		return err
	}
	e.ExternalMessageID = externalID
	return nil
}

// Fail moves the execution to failed or bounced with a reason.
func (e *CampaignExecution) Fail(to ExecutionStatus, reason string, at time.Time) error {
	if !to.IsAbsorbing() {
		return fmt.Errorf("%w: %s is not a failure status", ErrInvalidExecutionStatus, to)
	}
	if !e.Status.CanAdvanceTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidExecutionStatus, e.Status, to)
	}
	e.Status = to
	e.ErrorMessage = reason
	e.FailedAt = &at
	e.UpdatedAt = at
	return nil
}

// Convert records a conversion. It is allowed once, from any status except failed or bounced.
func (e *CampaignExecution) Convert(value decimal.Decimal, at time.Time) error {
	if e.Status.IsAbsorbing() {
		return fmt.Errorf("%w: cannot convert a %s execution", ErrInvalidExecutionStatus, e.Status)
	}
	if e.ConvertedAt != nil {
		return ErrAlreadyConverted
	}
	e.ConvertedAt = &at
	e.ConversionValue = &value
	e.UpdatedAt = at
	return nil
}

// AggregateStats derives campaign stats from its executions. It is a pure
// function of its input.
func AggregateStats(execs []*CampaignExecution) CampaignStats {
	stats := CampaignStats{Targeted: len(execs), ConversionValue: decimal.Zero}
	for _, e := range execs {
		if e.SentAt != nil {
			stats.Sent++
		}
		if e.DeliveredAt != nil {
			stats.Delivered++
		}
		if e.OpenedAt != nil {
			stats.Opened++
		}
		if e.ClickedAt != nil {
			stats.Clicked++
		}
		if e.RepliedAt != nil {
			stats.Replied++
		}
		switch e.Status {
		case ExecutionFailed:
			stats.Failed++
		case ExecutionBounced:
			stats.Bounced++
		case ExecutionPending:
			stats.Pending++
		case ExecutionQueued:
			stats.Queued++
		}
		if e.ConvertedAt != nil {
			stats.Converted++
			if e.ConversionValue != nil {
				stats.ConversionValue = stats.ConversionValue.Add(*e.ConversionValue)
			}
		}
	}
	return stats
}

// ExecutionFilter provides filtering and pagination for executions.
type ExecutionFilter struct {
	TenantID   string
	CampaignID string
	Status     ExecutionStatus
	Limit      int
	Offset     int
}
