// Package jobqueue defines the delayed job queue that drives campaign start
// and per-recipient delivery. Delivery is at-least-once: a job whose handler
// fails is retried with linear backoff until MaxAttempts is reached, so
// handlers must be idempotent.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"herald-go/internal/config"
	"herald-go/internal/metrics"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("job queue is closed")

// Job is a unit of deferred work.
type Job struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
	RunAt    time.Time       `json:"runAt"`
}

// NewJob builds a job that becomes due after delay.
func NewJob(name string, payload any, delay time.Duration) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
	}
	if delay < 0 {
		delay = 0
	}
	return &Job{
		ID:      uuid.NewString(),
		Name:    name,
		Payload: data,
		RunAt:   time.Now().Add(delay),
	}, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", j.Name, err)
	}
	return nil
}

// Handler processes a job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Queue is a delayed job queue.
type Queue interface {
	// Enqueue schedules a job named name to run after delay.
	Enqueue(ctx context.Context, name string, payload any, delay time.Duration) error

	// Start runs workers that call handler for due jobs. It blocks until ctx
	// is canceled.
	Start(ctx context.Context, handler Handler) error

	// Close stops accepting jobs.
	Close() error
}

// Options tune worker behaviour.
type Options struct {
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	RetryBackoff      time.Duration
	MaxAttempts       int
	Workers           int
}

// OptionsFromConfig maps the scheduler section to queue options.
func OptionsFromConfig(cfg *config.SchedulerConfig) Options {
	return Options{
		PollInterval:      cfg.PollInterval,
		VisibilityTimeout: cfg.VisibilityTimeout,
		RetryBackoff:      cfg.RetryBackoff,
		MaxAttempts:       cfg.MaxAttempts,
		Workers:           cfg.Workers,
	}
}

// Backoff returns the delay before the next attempt of a job that has
// already run attempts times.
func (o Options) Backoff(attempts int) time.Duration {
	return o.RetryBackoff * time.Duration(attempts)
}

// Outcome is the result of running a handler once.
type Outcome int

const (
	// Done means the job succeeded and can be removed.
	Done Outcome = iota
	// Retry means the job failed and should run again after Backoff.
	Retry
	// Dead means the job failed on its last attempt and is discarded.
	Dead
)

// Run invokes handler for job and decides what happens next. It increments
// job.Attempts, recovers handler panics, logs failures and records metrics.
// Backends call it from their worker loops.
func Run(ctx context.Context, handler Handler, job *Job, opts Options, logger *slog.Logger) Outcome {
	metrics.JobLatency.WithLabelValues(job.Name).Observe(time.Since(job.RunAt).Seconds())

	job.Attempts++
	err := safeCall(ctx, handler, job)
	if err == nil {
		metrics.JobsProcessedTotal.WithLabelValues(job.Name, "success").Inc()
		return Done
	}

	if job.Attempts >= opts.MaxAttempts {
		metrics.JobsProcessedTotal.WithLabelValues(job.Name, "dead").Inc()
		logger.Error("job failed permanently",
			"job_id", job.ID,
			"job", job.Name,
			"attempts", job.Attempts,
			"error", err,
		)
		return Dead
	}

	metrics.JobsProcessedTotal.WithLabelValues(job.Name, "retry").Inc()
	logger.Warn("job failed, will retry",
		"job_id", job.ID,
		"job", job.Name,
		"attempts", job.Attempts,
		"retry_in", opts.Backoff(job.Attempts),
		"error", err,
	)
	return Retry
}

func safeCall(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}
