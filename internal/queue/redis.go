package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"filecrate/internal/models"
	"filecrate/internal/redisutil"
)

// RedisQueueConfig configures the Redis Streams queue implementation.
type RedisQueueConfig struct {
	Redis        redisutil.ClientConfig
	Client       redis.UniversalClient
	StreamPrefix string
	Group        string
	BlockTimeout time.Duration
	// ClaimInterval sets how often each consumer sweeps the group's pending
	// entries for jobs abandoned by a crashed worker.
	ClaimInterval time.Duration
	// PendingIdle is the minimum time a delivered-but-unacked entry must sit
	// idle before another consumer may claim it.
	PendingIdle time.Duration
	Policy      RetryPolicy
	Logger      *slog.Logger
}

const (
	defaultStreamPrefix  = "filecrate:jobs"
	defaultGroup         = "workers"
	deadStreamSuffix     = ":dead"
	defaultClaimInterval = 30 * time.Second
	defaultPendingIdle   = time.Minute
)

// RedisQueue is a durable multi-producer multi-consumer queue backed by
// Redis Streams consumer groups. Failed jobs are re-added with an
// incremented attempt counter until the retry policy dead-letters them.
type RedisQueue struct {
	client       redis.UniversalClient
	ownsClient   bool
	streamPrefix  string
	group         string
	blockTimeout  time.Duration
	claimInterval time.Duration
	pendingIdle   time.Duration
	policy        RetryPolicy
	logger        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	groupMu     sync.Mutex
	groupsReady map[string]*atomic.Bool

	handlerMu sync.Mutex
	handlers  map[string]Handler
}

// NewRedisQueue initialises a queue backed by Redis Streams. The caller is
// responsible for ensuring the Redis instance is reachable.
func NewRedisQueue(cfg RedisQueueConfig) (*RedisQueue, error) {
	client := cfg.Client
	ownsClient := false
	if client == nil {
		created, err := redisutil.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		client = created
		ownsClient = true
	}
	streamPrefix := strings.TrimSpace(cfg.StreamPrefix)
	if streamPrefix == "" {
		streamPrefix = defaultStreamPrefix
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = defaultGroup
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = 2 * time.Second
	}
	claimInterval := cfg.ClaimInterval
	if claimInterval <= 0 {
		claimInterval = defaultClaimInterval
	}
	pendingIdle := cfg.PendingIdle
	if pendingIdle <= 0 {
		pendingIdle = defaultPendingIdle
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client:        client,
		ownsClient:    ownsClient,
		streamPrefix:  streamPrefix,
		group:         group,
		blockTimeout:  blockTimeout,
		claimInterval: claimInterval,
		pendingIdle:   pendingIdle,
		policy:        cfg.Policy,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		groupsReady:   make(map[string]*atomic.Bool),
		handlers:      make(map[string]Handler),
	}, nil
}

func (q *RedisQueue) stream(queueName string) string {
	return q.streamPrefix + ":" + queueName
}

// Enqueue durably appends a job to the named queue's stream.
func (q *RedisQueue) Enqueue(ctx context.Context, queueName string, payload map[string]string) error {
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
	return q.append(ctx, q.stream(queueName), job)
}

func (q *RedisQueue) append(ctx context.Context, stream string, job Job) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.ensureGroup(ctx, stream); err != nil {
		return err
	}
	if _, err := q.client.Do(ctx, "XADD", stream, "*", "job", string(envelope)).Result(); err != nil {
		return fmt.Errorf("append job: %w", err)
	}
	return nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	q.groupMu.Lock()
	ready, ok := q.groupsReady[stream]
	if !ok {
		ready = &atomic.Bool{}
		q.groupsReady[stream] = ready
	}
	q.groupMu.Unlock()
	if ready.Load() {
		return nil
	}
	_, err := q.client.Do(ctx, "XGROUP", "CREATE", stream, q.group, "0", "MKSTREAM").Result()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	ready.Store(true)
	return nil
}

// Process registers the handler for queueName and starts a consumer worker
// reading from the shared consumer group.
func (q *RedisQueue) Process(queueName string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	q.handlerMu.Lock()
	if _, exists := q.handlers[queueName]; exists {
		q.handlerMu.Unlock()
		return ErrHandlerRegistered
	}
	q.handlers[queueName] = handler
	q.handlerMu.Unlock()

	q.wg.Add(1)
	go q.consume(queueName, handler)
	return nil
}

func (q *RedisQueue) consume(queueName string, handler Handler) {
	defer q.wg.Done()
	stream := q.stream(queueName)
	consumer := randomConsumerID()
	// The first claim pass runs immediately so a restarted worker picks up
	// entries its predecessor left pending.
	nextClaim := time.Now()
	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}
		if err := q.ensureGroup(q.ctx, stream); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Warn("queue group ensure failed", "stream", stream, "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if !time.Now().Before(nextClaim) {
			claimed, err := q.claim(q.ctx, stream, consumer)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				q.logger.Warn("queue claim failed", "stream", stream, "error", err)
			}
			for _, entry := range claimed {
				q.deliver(queueName, stream, entry, handler)
			}
			nextClaim = time.Now().Add(q.claimInterval)
		}
		entries, err := q.read(q.ctx, stream, consumer)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			q.logger.Warn("queue read failed", "stream", stream, "error", err)
			time.Sleep(200 * time.Millisecond)
			continue
		}
		for _, entry := range entries {
			q.deliver(queueName, stream, entry, handler)
		}
	}
}

func (q *RedisQueue) deliver(queueName, stream string, entry streamEntry, handler Handler) {
	var job Job
	if err := json.Unmarshal(entry.payload, &job); err != nil {
		q.logger.Error("queue decode failed", "stream", stream, "error", err)
		q.ack(stream, entry.id)
		return
	}
	job.Status = models.JobStatusActive
	err := safeInvoke(q.ctx, handler, job)
	if err == nil {
		q.ack(stream, entry.id)
		q.logger.Debug("job succeeded",
			"queue", queueName,
			"job_id", job.ID,
			"status", models.JobStatusSucceeded,
		)
		return
	}
	q.logger.Warn("job failed",
		"queue", queueName,
		"job_id", job.ID,
		"attempt", job.Attempt,
		"error", err,
	)
	if IsNonRetryable(err) || job.Attempt >= q.policy.maxAttempts() {
		q.deadLetter(stream, job)
		q.ack(stream, entry.id)
		return
	}
	if q.policy.Backoff > 0 {
		select {
		case <-q.ctx.Done():
		case <-time.After(q.policy.Backoff):
		}
	}
	retry := job
	retry.Attempt++
	retry.Status = models.JobStatusPending
	requeueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if requeueErr := q.append(requeueCtx, stream, retry); requeueErr != nil {
		q.logger.Error("job requeue failed", "queue", queueName, "job_id", job.ID, "error", requeueErr)
		return
	}
	q.ack(stream, entry.id)
}

func (q *RedisQueue) deadLetter(stream string, job Job) {
	job.Status = models.JobStatusFailed
	envelope, err := json.Marshal(job)
	if err != nil {
		q.logger.Error("dead-letter marshal failed", "job_id", job.ID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.client.Do(ctx, "XADD", stream+deadStreamSuffix, "*", "job", string(envelope)).Result(); err != nil {
		q.logger.Error("dead-letter append failed", "job_id", job.ID, "error", err)
		return
	}
	q.logger.Error("job dead-lettered", "queue", job.Queue, "job_id", job.ID, "attempt", job.Attempt)
}

func (q *RedisQueue) ack(stream, id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.client.Do(ctx, "XACK", stream, q.group, id).Result(); err != nil {
		q.logger.Warn("queue ack failed", "stream", stream, "id", id, "error", err)
	}
}

type streamEntry struct {
	id      string
	payload []byte
}

func (q *RedisQueue) read(ctx context.Context, stream, consumer string) ([]streamEntry, error) {
	blockMs := int(math.Max(float64(q.blockTimeout.Milliseconds()), 1))
	reply, err := q.client.Do(
		ctx,
		"XREADGROUP",
		"GROUP",
		q.group,
		consumer,
		"COUNT",
		"16",
		"BLOCK",
		strconv.Itoa(blockMs),
		"STREAMS",
		stream,
		">",
	).Result()
	if err != nil {
		if err == redis.Nil || isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	streams, ok := reply.([]interface{})
	if !ok || len(streams) == 0 {
		return nil, nil
	}
	var entries []streamEntry
	for _, streamReply := range streams {
		parts, ok := streamReply.([]interface{})
		if !ok || len(parts) != 2 {
			continue
		}
		records, _ := parts[1].([]interface{})
		entries = append(entries, parseEntries(records)...)
	}
	return entries, nil
}

// claim takes over pending entries whose consumer stopped acking, so a job
// abandoned by a crashed worker is redelivered instead of sitting in the
// group's pending list forever.
func (q *RedisQueue) claim(ctx context.Context, stream, consumer string) ([]streamEntry, error) {
	reply, err := q.client.Do(
		ctx,
		"XAUTOCLAIM",
		stream,
		q.group,
		consumer,
		strconv.FormatInt(q.pendingIdle.Milliseconds(), 10),
		"0-0",
		"COUNT",
		"16",
	).Result()
	if err != nil {
		if err == redis.Nil || isNilReply(err) {
			return nil, nil
		}
		return nil, err
	}
	// Reply is [next-cursor, entries] (plus a deleted-id list on Redis 7).
	parts, ok := reply.([]interface{})
	if !ok || len(parts) < 2 {
		return nil, nil
	}
	records, _ := parts[1].([]interface{})
	return parseEntries(records), nil
}

func parseEntries(records []interface{}) []streamEntry {
	var entries []streamEntry
	for _, record := range records {
		tuple, ok := record.([]interface{})
		if !ok || len(tuple) != 2 {
			continue
		}
		id, _ := asString(tuple[0])
		fields, _ := tuple[1].([]interface{})
		payload := extractField(fields, "job")
		if id == "" || len(payload) == 0 {
			continue
		}
		entries = append(entries, streamEntry{id: id, payload: payload})
	}
	return entries
}

// Shutdown stops the consumer workers and waits for in-flight handlers.
func (q *RedisQueue) Shutdown(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if q.ownsClient {
		return q.client.Close()
	}
	return nil
}

func extractField(fields []interface{}, name string) []byte {
	for i := 0; i < len(fields); i += 2 {
		key, _ := asString(fields[i])
		if strings.EqualFold(key, name) && i+1 < len(fields) {
			value, _ := asString(fields[i+1])
			if value != "" {
				return []byte(value)
			}
		}
	}
	return nil
}

func asString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	default:
		return "", false
	}
}

func isBusyGroup(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "busygroup")
}

func isNilReply(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nil reply") || strings.Contains(msg, "timeout")
}

func randomConsumerID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("consumer-%s", hex.EncodeToString(buf))
}
