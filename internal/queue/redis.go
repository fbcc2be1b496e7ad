// Package queue provides the durable Redis-backed work queue for rank-check
// jobs: at-least-once delivery, a fixed retry policy with exponential
// backoff, purge-on-complete, and retention of exhausted jobs for operator
// inspection. Jobs survive process restarts; anything left in-flight by a
// dead process is recovered back onto the pending list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/rank"
)

// Defaults mirror the queue contract: three attempts with exponential
// backoff starting at five seconds.
const (
	DefaultName         = "rank-check"
	DefaultMaxAttempts  = 3
	DefaultBackoffDelay = 5 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	defaultPromoteBatch = 100
	defaultKeyPrefix    = "rankwatch:queue"
)

// RedisConfig controls RedisQueue behavior.
type RedisConfig struct {
	// Name is the job type name (default "rank-check").
	Name string
	// KeyPrefix namespaces the queue keys in Redis.
	KeyPrefix string
	// MaxAttempts is the total delivery budget per job (default 3).
	MaxAttempts int
	// BackoffDelay is the base retry delay; attempt n waits
	// BackoffDelay * 2^(n-1) (default 5 s).
	BackoffDelay time.Duration
	// PollInterval is how often Dequeue re-checks an empty queue.
	PollInterval time.Duration
}

// envelope is the serialized queue payload. The exact bytes are carried
// through the delivery so the in-flight entry can be removed by value.
type envelope struct {
	ProjectID string    `json:"project_id"`
	Keyword   string    `json:"keyword"`
	BatchID   uuid.UUID `json:"batch_id"`
	Attempt   int       `json:"attempt"`
}

// RedisQueue implements rank.Queue on Redis lists plus a delayed zset.
type RedisQueue struct {
	client *redis.Client
	cfg    RedisConfig
	clock  rank.Clock
	logger *zap.Logger
}

// NewRedis constructs a RedisQueue, applying contract defaults.
func NewRedis(client *redis.Client, cfg RedisConfig, clock rank.Clock, logger *zap.Logger) *RedisQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffDelay <= 0 {
		cfg.BackoffDelay = DefaultBackoffDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &RedisQueue{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("%s:%s:%s", q.cfg.KeyPrefix, q.cfg.Name, suffix)
}

func (q *RedisQueue) pendingKey() string    { return q.key("pending") }
func (q *RedisQueue) processingKey() string { return q.key("processing") }
func (q *RedisQueue) delayedKey() string    { return q.key("delayed") }
func (q *RedisQueue) deadKey() string       { return q.key("dead") }

// Enqueue pushes one job onto the pending list at attempt 1.
func (q *RedisQueue) Enqueue(ctx context.Context, job rank.Job) error {
	payload, err := json.Marshal(envelope{
		ProjectID: job.ProjectID,
		Keyword:   job.Keyword,
		BatchID:   job.BatchID,
		Attempt:   1,
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue moves the next job from pending onto the processing list and
// returns it. It blocks, polling and promoting due retries, until a job
// arrives or the context finishes.
func (q *RedisQueue) Dequeue(ctx context.Context) (rank.Delivery, error) {
	for {
		payload, err := q.client.LMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT").Result()
		switch {
		case err == nil:
			return q.decode(payload)
		case errors.Is(err, redis.Nil):
			// Empty queue: promote any due retries, then wait a beat.
			if promoteErr := q.promoteDue(ctx); promoteErr != nil {
				q.logger.Warn("promote delayed jobs failed", zap.Error(promoteErr))
			}
			timer := time.NewTimer(q.cfg.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return rank.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
			case <-timer.C:
			}
		default:
			return rank.Delivery{}, fmt.Errorf("dequeue job: %w", err)
		}
	}
}

// Ack discards a completed delivery from the processing list
// (removeOnComplete semantics).
func (q *RedisQueue) Ack(ctx context.Context, d rank.Delivery) error {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.Payload).Err(); err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Nack reports a failed delivery. While attempts remain the job is scheduled
// for redelivery after an exponential backoff and Nack returns true. Once the
// attempt budget is spent the payload is parked on the dead list — retained,
// not purged — and Nack returns false.
func (q *RedisQueue) Nack(ctx context.Context, d rank.Delivery, cause error) (bool, error) {
	if err := q.client.LRem(ctx, q.processingKey(), 1, d.Payload).Err(); err != nil {
		return false, fmt.Errorf("nack remove in-flight: %w", err)
	}

	if d.Attempt >= q.cfg.MaxAttempts {
		if err := q.client.LPush(ctx, q.deadKey(), d.Payload).Err(); err != nil {
			return false, fmt.Errorf("nack park exhausted job: %w", err)
		}
		q.logger.Warn("job exhausted all attempts",
			zap.String("project_id", d.Job.ProjectID),
			zap.String("keyword", d.Job.Keyword),
			zap.Int("attempts", d.Attempt),
			zap.Error(cause),
		)
		return false, nil
	}

	payload, err := json.Marshal(envelope{
		ProjectID: d.Job.ProjectID,
		Keyword:   d.Job.Keyword,
		BatchID:   d.Job.BatchID,
		Attempt:   d.Attempt + 1,
	})
	if err != nil {
		return false, fmt.Errorf("marshal retry payload: %w", err)
	}
	readyAt := q.clock.Now().Add(q.backoff(d.Attempt))
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: payload,
	}).Err(); err != nil {
		return false, fmt.Errorf("nack schedule retry: %w", err)
	}
	q.logger.Info("job scheduled for retry",
		zap.String("project_id", d.Job.ProjectID),
		zap.String("keyword", d.Job.Keyword),
		zap.Int("next_attempt", d.Attempt+1),
		zap.Time("ready_at", readyAt),
		zap.Error(cause),
	)
	return true, nil
}

// backoff returns the wait before redelivering a job that just failed its
// n-th attempt: BackoffDelay * 2^(n-1).
func (q *RedisQueue) backoff(attempt int) time.Duration {
	d := q.cfg.BackoffDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// promoteDue moves delayed jobs whose backoff has elapsed back onto the
// pending list. The ZRem guard keeps concurrent consumers from promoting the
// same member twice.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := q.clock.Now().UnixMilli()
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now),
		Count: defaultPromoteBatch,
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed jobs: %w", err)
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return fmt.Errorf("remove delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.pendingKey(), member).Err(); err != nil {
			return fmt.Errorf("promote delayed job: %w", err)
		}
	}
	return nil
}

// Recover requeues every job left on the processing list by a previous
// process that died mid-job. Call once at startup, before workers begin:
// combined with idempotent merges this is what makes delivery at-least-once
// rather than at-most-once.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	recovered := 0
	for {
		_, err := q.client.LMove(ctx, q.processingKey(), q.pendingKey(), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return recovered, nil
		}
		if err != nil {
			return recovered, fmt.Errorf("recover in-flight job: %w", err)
		}
		recovered++
	}
}

// DeadJobs returns the jobs that exhausted every attempt, newest first, for
// operator inspection.
func (q *RedisQueue) DeadJobs(ctx context.Context) ([]rank.Job, error) {
	payloads, err := q.client.LRange(ctx, q.deadKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead jobs: %w", err)
	}
	jobs := make([]rank.Job, 0, len(payloads))
	for _, payload := range payloads {
		d, err := q.decode(payload)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, d.Job)
	}
	return jobs, nil
}

func (q *RedisQueue) decode(payload string) (rank.Delivery, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return rank.Delivery{}, fmt.Errorf("decode job payload: %w", err)
	}
	return rank.Delivery{
		Job: rank.Job{
			ProjectID: env.ProjectID,
			Keyword:   env.Keyword,
			BatchID:   env.BatchID,
		},
		Attempt: env.Attempt,
		Payload: payload,
	}, nil
}
