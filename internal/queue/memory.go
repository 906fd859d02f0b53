package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"filecrate/internal/models"
)

const memoryQueueBuffer = 128

// MemoryQueue delivers jobs through in-process channels. It honours the same
// retry and dead-letter semantics as the Redis queue and is intended for
// tests and single-process development.
type MemoryQueue struct {
	policy RetryPolicy
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	queues   map[string]chan Job
	handlers map[string]Handler
	dead     map[string][]Job
}

// NewMemoryQueue constructs an in-memory queue with the provided retry
// policy.
func NewMemoryQueue(policy RetryPolicy, logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		policy:   policy,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queues:   make(map[string]chan Job),
		handlers: make(map[string]Handler),
		dead:     make(map[string][]Job),
	}
}

// Enqueue accepts a job for the named queue.
func (q *MemoryQueue) Enqueue(ctx context.Context, queueName string, payload map[string]string) error {
	if queueName == "" {
		return fmt.Errorf("queue name is required")
	}
	job := Job{
		ID:         uuid.NewString(),
		Queue:      queueName,
		Payload:    clonePayload(payload),
		Attempt:    1,
		Status:     models.JobStatusPending,
		EnqueuedAt: time.Now().UTC(),
	}
	return q.push(ctx, job)
}

func (q *MemoryQueue) push(ctx context.Context, job Job) error {
	ch := q.channel(job.Queue)
	select {
	case ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return fmt.Errorf("queue is shut down")
	}
}

func (q *MemoryQueue) channel(queueName string) chan Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[queueName]
	if !ok {
		ch = make(chan Job, memoryQueueBuffer)
		q.queues[queueName] = ch
	}
	return ch
}

// Process registers the handler for queueName and starts a delivery worker.
func (q *MemoryQueue) Process(queueName string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	q.mu.Lock()
	if _, exists := q.handlers[queueName]; exists {
		q.mu.Unlock()
		return ErrHandlerRegistered
	}
	q.handlers[queueName] = handler
	q.mu.Unlock()

	ch := q.channel(queueName)
	q.wg.Add(1)
	go q.worker(queueName, ch, handler)
	return nil
}

func (q *MemoryQueue) worker(queueName string, ch chan Job, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-ch:
			job.Status = models.JobStatusActive
			err := safeInvoke(q.ctx, handler, job)
			if err == nil {
				q.logger.Debug("job succeeded",
					"queue", queueName,
					"job_id", job.ID,
					"status", models.JobStatusSucceeded,
				)
				continue
			}
			q.logger.Warn("job failed",
				"queue", queueName,
				"job_id", job.ID,
				"attempt", job.Attempt,
				"error", err,
			)
			if IsNonRetryable(err) || job.Attempt >= q.policy.maxAttempts() {
				q.deadLetter(job)
				continue
			}
			if q.policy.Backoff > 0 {
				select {
				case <-q.ctx.Done():
					return
				case <-time.After(q.policy.Backoff):
				}
			}
			retry := job
			retry.Attempt++
			retry.Status = models.JobStatusPending
			if pushErr := q.push(q.ctx, retry); pushErr != nil {
				q.deadLetter(retry)
			}
		}
	}
}

func (q *MemoryQueue) deadLetter(job Job) {
	job.Status = models.JobStatusFailed
	q.mu.Lock()
	q.dead[job.Queue] = append(q.dead[job.Queue], job)
	q.mu.Unlock()
	q.logger.Error("job dead-lettered", "queue", job.Queue, "job_id", job.ID, "attempt", job.Attempt)
}

// DeadLetters returns the jobs moved to the terminal failed state for the
// named queue.
func (q *MemoryQueue) DeadLetters(queueName string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]Job, len(q.dead[queueName]))
	copy(jobs, q.dead[queueName])
	return jobs
}

// Shutdown stops delivery and waits for in-flight handlers.
func (q *MemoryQueue) Shutdown(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clonePayload(payload map[string]string) map[string]string {
	if len(payload) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(payload))
	for key, value := range payload {
		out[key] = value
	}
	return out
}
