// Package memory provides an in-process delayed job queue ordered by due
// time. Jobs are lost on restart.
package memory

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"herald-go/internal/jobqueue"
	"herald-go/internal/metrics"
)

// jobHeap orders jobs by RunAt, then by insertion sequence.
type jobHeap []*entry

type entry struct {
	job *jobqueue.Job
	seq uint64
}

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].job.RunAt.Equal(h[j].job.RunAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].job.RunAt.Before(h[j].job.RunAt)
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue implements jobqueue.Queue in memory.
type Queue struct {
	mu     sync.Mutex
	jobs   jobHeap
	seq    uint64
	closed bool

	// wake is signalled when a job is added so idle workers re-check the heap.
	wake chan struct{}

	// running counts jobs currently held by a worker.
	running int

	opts   jobqueue.Options
	logger *slog.Logger
}

// NewQueue creates an empty in-memory queue.
func NewQueue(opts jobqueue.Options, logger *slog.Logger) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Queue{
		wake:   make(chan struct{}, 1),
		opts:   opts,
		logger: logger,
	}
}

// Enqueue schedules a job.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, delay time.Duration) error {
	job, err := jobqueue.NewJob(name, payload, delay)
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return jobqueue.ErrQueueClosed
	}
	q.push(job)
	q.mu.Unlock()

	metrics.JobsEnqueuedTotal.WithLabelValues(name).Inc()
	q.signal()
	return nil
}

// push adds a job. Callers must hold mu.
func (q *Queue) push(job *jobqueue.Job) {
	q.seq++
	heap.Push(&q.jobs, &entry{job: job, seq: q.seq})
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Start runs the configured number of workers until ctx is canceled.
func (q *Queue) Start(ctx context.Context, handler jobqueue.Handler) error {
	q.logger.Info("starting memory job queue", "workers", q.opts.Workers)

	var wg sync.WaitGroup
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
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		for {
			job := q.claim(time.Now())
			if job == nil {
				break
			}
			q.process(ctx, handler, job)
			if ctx.Err() != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
			// pass the signal on so other idle workers also re-check
			q.signal()
		case <-ticker.C:
		}
	}
}

// claim pops the earliest job if it is due.
func (q *Queue) claim(now time.Time) *jobqueue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 || q.jobs[0].job.RunAt.After(now) {
		return nil
	}
	q.running++
	return heap.Pop(&q.jobs).(*entry).job
}

func (q *Queue) process(ctx context.Context, handler jobqueue.Handler, job *jobqueue.Job) {
	outcome := jobqueue.Run(ctx, handler, job, q.opts, q.logger)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.running--
	if outcome == jobqueue.Retry && !q.closed {
		job.RunAt = time.Now().Add(q.opts.Backoff(job.Attempts))
		q.push(job)
	}
}

// Len returns the number of jobs waiting, due or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Wait blocks until no worker holds a job and nothing is due within
// horizon, or until ctx is done. Tests use it to drain the queue.
func (q *Queue) Wait(ctx context.Context, horizon time.Duration) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		idle := q.running == 0 && (len(q.jobs) == 0 || q.jobs[0].job.RunAt.After(time.Now().Add(horizon)))
		q.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting new jobs. Pending jobs are dropped.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.jobs = nil
	return nil
}
