// Package memory provides a channel-backed receipt stream for memory mode
// and tests.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"herald-go/internal/queue"
)

// Queue implements both queue.Producer and queue.Consumer over a buffered
// channel. It is safe for concurrent use.
type Queue struct {
	messages chan *queue.Message
	logger   *slog.Logger
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewQueue creates a queue holding up to bufferSize unconsumed messages.
func NewQueue(bufferSize int, logger *slog.Logger) *Queue {
	return &Queue{
		messages: make(chan *queue.Message, bufferSize),
		logger:   logger,
	}
}

// Publish blocks while the buffer is full until ctx is done.
func (q *Queue) Publish(ctx context.Context, msg *queue.Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start hands messages to handler until ctx is canceled or the queue closes.
// Handler errors are logged and the message is dropped.
func (q *Queue) Start(ctx context.Context, handler queue.MessageHandler) error {
	q.wg.Add(1)
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q.messages:
			if !ok {
				return nil
			}
			if err := handler(ctx, msg); err != nil {
				q.logger.Warn("dropping receipt after handler error",
					"external_message_id", string(msg.Key),
					"error", err,
				)
			}
		}
	}
}

// Close stops all consumers after the buffered messages drain.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.messages)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len returns the number of buffered messages.
func (q *Queue) Len() int {
	return len(q.messages)
}
