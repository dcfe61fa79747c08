// Package channel hands rendered messages to messaging providers.
// The stub sender logs the message and returns a generated provider ID;
// real provider adapters implement the same Sender interface.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald-go/internal/domain"
	"herald-go/internal/metrics"
)

var (
	// ErrUnsupportedChannel is returned for a channel no provider handles.
	ErrUnsupportedChannel = errors.New("unsupported channel")

	// ErrNoRecipientAddress is returned when the contact has no address on
	// the campaign's channel.
	ErrNoRecipientAddress = errors.New("contact has no address for channel")
)

// Message is one rendered outbound message.
type Message struct {
	TenantID    string
	CampaignID  string
	ExecutionID string
	Channel     domain.Channel
	To          string
	Content     domain.Content
}

// Sender delivers a message and returns the provider's message ID.
type Sender interface {
	Send(ctx context.Context, msg *Message) (externalID string, err error)
}

// StubSender logs messages instead of calling a provider.
type StubSender struct {
	logger *slog.Logger
}

// NewStubSender creates a new stub sender.
func NewStubSender(logger *slog.Logger) *StubSender {
	return &StubSender{logger: logger}
}

// Send validates the message, logs it and returns a random external ID.
func (s *StubSender) Send(ctx context.Context, msg *Message) (string, error) {
	start := time.Now()

	if !msg.Channel.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	if msg.To == "" {
		return "", fmt.Errorf("%w %s", ErrNoRecipientAddress, msg.Channel)
	}

	externalID := uuid.NewString()

	s.logger.Info("STUB: would send message",
		"channel", msg.Channel,
		"to", msg.To,
		"campaign_id", msg.CampaignID,
		"execution_id", msg.ExecutionID,
		"template", msg.Content.TemplateName,
		"subject", msg.Content.Subject,
		"external_message_id", externalID,
	)

	metrics.DeliveryLatency.WithLabelValues(string(msg.Channel)).Observe(time.Since(start).Seconds())
	return externalID, nil
}
