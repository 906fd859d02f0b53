// Package queue provides a named, durable, at-least-once job queue with
// asynchronous producers and per-queue consumer workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Queue names accepted by Enqueue. The queue never interprets payloads; it
// only routes them to the handler registered for the name.
const (
	QueueThumbnail = "thumbnail-generation"
	QueueEmail     = "email-sending"
)

// Job is a unit of deferred work owned by the queue from enqueue until a
// terminal state. Status tracks the lifecycle using the models.JobStatus
// constants: pending while queued, active while a handler holds it, failed
// on the dead-letter envelope.
type Job struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	Payload    map[string]string `json:"payload"`
	Attempt    int               `json:"attempt"`
	Status     string            `json:"status"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

// Handler processes a delivered job. A nil return marks the job succeeded; a
// non-nil return triggers redelivery per the retry policy unless the error
// is marked non-retriable.
type Handler func(ctx context.Context, job Job) error

// Queue accepts jobs for asynchronous processing and delivers them to
// registered handlers.
type Queue interface {
	// Enqueue durably accepts a job. The caller only awaits acceptance,
	// never processing.
	Enqueue(ctx context.Context, queueName string, payload map[string]string) error
	// Process registers the handler for queueName and starts delivering
	// jobs to it. At most one handler may be registered per queue name.
	Process(queueName string, handler Handler) error
	// Shutdown stops delivery and waits for in-flight handlers, bounded by
	// the context.
	Shutdown(ctx context.Context) error
}

// RetryPolicy bounds redelivery of failed jobs. A job that fails
// MaxAttempts times is dead-lettered.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy is applied when a queue is constructed without one.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: time.Second}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultRetryPolicy.MaxAttempts
	}
	return p.MaxAttempts
}

// ErrHandlerRegistered is returned when Process is called twice for the same
// queue name.
var ErrHandlerRegistered = errors.New("handler already registered for queue")

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string {
	return e.err.Error()
}

func (e *nonRetryableError) Unwrap() error {
	return e.err
}

// NonRetryable marks an error as permanent: the failed job is dead-lettered
// immediately instead of being redelivered. Validation failures use this,
// since they fail identically on every attempt.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether err carries the non-retriable marker.
func IsNonRetryable(err error) bool {
	var marker *nonRetryableError
	return errors.As(err, &marker)
}

// safeInvoke runs handler and converts a panic into an ordinary retriable
// error, so a faulting handler follows the same retry and dead-letter path
// as one that reports failure, instead of killing the consumer worker.
func safeInvoke(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler fault: %v", r)
		}
	}()
	return handler(ctx, job)
}
