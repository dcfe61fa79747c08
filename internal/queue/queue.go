// Package queue defines the stream abstraction that carries delivery
// receipts from channel webhooks to the receipt processor. Kafka backs it in
// storage mode and a buffered channel backs it in memory mode.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"herald-go/internal/domain"
)

// HeaderTenantID carries the tenant of a receipt message.
const HeaderTenantID = "tenant_id"

// Message represents a message in the queue.
type Message struct {
	// Key is the partition key. Receipts are keyed by external message ID so
	// the updates for one message are processed in order.
	Key []byte

	// Value is the message payload.
	Value []byte

	// Headers contains optional metadata.
	Headers map[string]string
}

// Producer publishes messages. Implementations must be safe for concurrent use.
type Producer interface {
	Publish(ctx context.Context, msg *Message) error
	Close() error
}

// MessageHandler processes one consumed message. A returned error leaves the
// message uncommitted where the backend supports it.
type MessageHandler func(ctx context.Context, msg *Message) error

// Consumer delivers messages to a handler.
type Consumer interface {
	// Start blocks until ctx is canceled or the consumer is closed.
	Start(ctx context.Context, handler MessageHandler) error
	Close() error
}

// EncodeReceipt wraps a receipt in a message keyed by its external message ID.
func EncodeReceipt(r *domain.Receipt) (*Message, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return &Message{
		Key:     []byte(r.ExternalMessageID),
		Value:   data,
		Headers: map[string]string{HeaderTenantID: r.TenantID},
	}, nil
}

// DecodeReceipt reverses EncodeReceipt. The tenant header wins over the body.
func DecodeReceipt(msg *Message) (*domain.Receipt, error) {
	var r domain.Receipt
	if err := json.Unmarshal(msg.Value, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	if tenant := msg.Headers[HeaderTenantID]; tenant != "" {
		r.TenantID = tenant
	}
	return &r, nil
}
