// Package redis provides a Redis-backed delayed job queue.
//
// Due times live in a sorted set. Claiming a job moves its ID to a
// processing set scored by a visibility deadline; jobs whose worker dies
// before acknowledging are moved back to the ready set once the deadline
// passes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"herald-go/internal/jobqueue"
	"herald-go/internal/metrics"
)

// Key suffixes under the configured prefix.
const (
	keyReady      = "jobs:ready"
	keyProcessing = "jobs:processing"
	keyData       = "jobs:data"
)

// claimScript pops the earliest due job ID into the processing set and
// returns its body.
var claimScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 1)
if #ids == 0 then
	return false
end
redis.call("ZREM", KEYS[1], ids[1])
local body = redis.call("HGET", KEYS[3], ids[1])
if not body then
	return false
end
redis.call("ZADD", KEYS[2], ARGV[2], ids[1])
return body
`)

// reapScript returns expired processing entries to the ready set.
var reapScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
	redis.call("ZREM", KEYS[1], id)
	redis.call("ZADD", KEYS[2], ARGV[1], id)
end
return #ids
`)

// Queue implements jobqueue.Queue on Redis.
type Queue struct {
	client *redis.Client
	prefix string
	opts   jobqueue.Options
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue whose keys start with keyPrefix.
func NewQueue(client *redis.Client, keyPrefix string, opts jobqueue.Options, logger *slog.Logger) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 2 * time.Minute
	}
	return &Queue{
		client: client,
		prefix: keyPrefix,
		opts:   opts,
		logger: logger,
	}
}

func (q *Queue) key(suffix string) string {
	return q.prefix + suffix
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Enqueue stores the job body and schedules its ID.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, delay time.Duration) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return jobqueue.ErrQueueClosed
	}

	job, err := jobqueue.NewJob(name, payload, delay)
	if err != nil {
		return err
	}

	start := time.Now()
	err = q.schedule(ctx, job, false)
	metrics.ObserveStorage("redis", "job_enqueue", start, err)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", name, err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(name).Inc()
	return nil
}

// schedule writes the body and adds the job to the ready set, optionally
// taking it out of the processing set in the same transaction.
func (q *Queue) schedule(ctx context.Context, job *jobqueue.Job, fromProcessing bool) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.key(keyData), job.ID, body)
		if fromProcessing {
			pipe.ZRem(ctx, q.key(keyProcessing), job.ID)
		}
		pipe.ZAdd(ctx, q.key(keyReady), redis.Z{Score: score(job.RunAt), Member: job.ID})
		return nil
	})
	return err
}

// Start runs workers until ctx is canceled.
func (q *Queue) Start(ctx context.Context, handler jobqueue.Handler) error {
	q.logger.Info("starting redis job queue",
		"workers", q.opts.Workers,
		"visibility_timeout", q.opts.VisibilityTimeout,
	)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.reapLoop(ctx)
	}()

	for i := 0; i < q.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}

	wg.Wait()
	return ctx.Err()
}

func (q *Queue) work(ctx context.Context, handler jobqueue.Handler) {
	for {
		job, err := q.claim(ctx)
		if err != nil && ctx.Err() == nil {
			q.logger.Error("failed to claim job", "error", err)
		}

		if job != nil {
			q.process(ctx, handler, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(q.opts.PollInterval):
		}
	}
}

// claim returns the next due job, or nil if none is due.
func (q *Queue) claim(ctx context.Context) (*jobqueue.Job, error) {
	now := time.Now()
	body, err := claimScript.Run(ctx, q.client,
		[]string{q.key(keyReady), q.key(keyProcessing), q.key(keyData)},
		strconv.FormatInt(now.UnixMilli(), 10),
		strconv.FormatInt(now.Add(q.opts.VisibilityTimeout).UnixMilli(), 10),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var job jobqueue.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *Queue) process(ctx context.Context, handler jobqueue.Handler, job *jobqueue.Job) {
	outcome := jobqueue.Run(ctx, handler, job, q.opts, q.logger)

	// Acknowledge even if ctx was canceled while the handler ran.
	ackCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch outcome {
	case jobqueue.Retry:
		job.RunAt = time.Now().Add(q.opts.Backoff(job.Attempts))
		err = q.schedule(ackCtx, job, true)
	default:
		_, err = q.client.TxPipelined(ackCtx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ackCtx, q.key(keyProcessing), job.ID)
			pipe.HDel(ackCtx, q.key(keyData), job.ID)
			return nil
		})
	}
	if err != nil {
		q.logger.Error("failed to acknowledge job, it will be redelivered",
			"job_id", job.ID,
			"job", job.Name,
			"error", err,
		)
	}
}

func (q *Queue) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(q.opts.VisibilityTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.reap(ctx, time.Now())
			if err != nil {
				if ctx.Err() == nil {
					q.logger.Error("failed to requeue expired jobs", "error", err)
				}
				continue
			}
			if n > 0 {
				q.logger.Warn("requeued jobs past their visibility timeout", "count", n)
			}
		}
	}
}

// reap moves jobs whose visibility deadline is before now back to ready.
func (q *Queue) reap(ctx context.Context, now time.Time) (int, error) {
	return reapScript.Run(ctx, q.client,
		[]string{q.key(keyProcessing), q.key(keyReady)},
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int()
}

// Len returns the number of scheduled jobs, due or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.key(keyReady)).Result()
}

// Close stops accepting jobs. The client is owned by the caller.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
