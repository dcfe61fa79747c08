package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Receipt validation errors.
var (
	ErrEmptyExternalMessageID = errors.New("externalMessageId is required")
	ErrInvalidReceiptStatus   = errors.New("status must be one of delivered, read, seen, opened, clicked, replied, failed, undelivered, bounced, conversion")
)

// ReceiptStatus is a normalized delivery report status.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptOpened    ReceiptStatus = "opened"
	ReceiptClicked   ReceiptStatus = "clicked"
	ReceiptReplied   ReceiptStatus = "replied"
	ReceiptFailed    ReceiptStatus = "failed"
	ReceiptBounced   ReceiptStatus = "bounced"
	ReceiptConverted ReceiptStatus = "converted"
)

// receiptAliases maps provider vocabulary onto normalized statuses.
var receiptAliases = map[string]ReceiptStatus{
	"delivered":   ReceiptDelivered,
	"read":        ReceiptOpened,
	"seen":        ReceiptOpened,
	"opened":      ReceiptOpened,
	"clicked":     ReceiptClicked,
	"replied":     ReceiptReplied,
	"failed":      ReceiptFailed,
	"undelivered": ReceiptFailed,
	"bounced":     ReceiptBounced,
	"conversion":  ReceiptConverted,
	"converted":   ReceiptConverted,
}

// NormalizeReceiptStatus maps a provider status to a ReceiptStatus.
func NormalizeReceiptStatus(raw string) (ReceiptStatus, bool) {
	s, ok := receiptAliases[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

// ExecutionStatus returns the execution status this receipt moves to.
// Conversions have none.
func (s ReceiptStatus) ExecutionStatus() (ExecutionStatus, bool) {
	switch s {
	case ReceiptDelivered:
		return ExecutionDelivered, true
	case ReceiptOpened:
		return ExecutionOpened, true
	case ReceiptClicked:
		return ExecutionClicked, true
	case ReceiptReplied:
		return ExecutionReplied, true
	case ReceiptFailed:
		return ExecutionFailed, true
	case ReceiptBounced:
		return ExecutionBounced, true
	default:
		return "", false
	}
}

// Receipt is a delivery status report from a channel provider.
type Receipt struct {
	TenantID          string          `json:"tenantId"`
	ExternalMessageID string          `json:"externalMessageId"`
	Channel           Channel         `json:"channel,omitempty"`
	Status            ReceiptStatus   `json:"status"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	Value             decimal.Decimal `json:"value"`
	OccurredAt        time.Time       `json:"occurredAt"`
}

// ReceiptRequest is the raw webhook body.
type ReceiptRequest struct {
	ExternalMessageID string           `json:"externalMessageId"`
	Channel           string           `json:"channel"`
	Status            string           `json:"status"`
	ErrorMessage      string           `json:"errorMessage"`
	Value             *decimal.Decimal `json:"value"`
	Timestamp         *time.Time       `json:"timestamp"`
}

// Validate checks required fields and the status vocabulary.
func (r *ReceiptRequest) Validate() error {
	if strings.TrimSpace(r.ExternalMessageID) == "" {
		return ErrEmptyExternalMessageID
	}
	if _, ok := NormalizeReceiptStatus(r.Status); !ok {
		return ErrInvalidReceiptStatus
	}
	if r.Channel != "" && !Channel(strings.ToLower(r.Channel)).IsValid() {
		return ErrInvalidChannel
	}
	return nil
}

// ToReceipt normalizes a validated request.
func (r *ReceiptRequest) ToReceipt(tenantID string) *Receipt {
	status, _ := NormalizeReceiptStatus(r.Status)
	occurred := time.Now().UTC()
	if r.Timestamp != nil {
		occurred = r.Timestamp.UTC()
	}
	value := decimal.Zero
	if r.Value != nil {
		value = *r.Value
	}
	return &Receipt{
		TenantID:          tenantID,
		ExternalMessageID: strings.TrimSpace(r.ExternalMessageID),
		Channel:           Channel(strings.ToLower(r.Channel)),
		Status:            status,
		ErrorMessage:      r.ErrorMessage,
		Value:             value,
		OccurredAt:        occurred,
	}
}
