package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"price-aggregator/internal/config"
	"price-aggregator/internal/models"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("job not found")
	// ErrNotOwner is returned when a caller transitions a job it does not hold.
	ErrNotOwner = errors.New("job is not owned by caller")
	// ErrTerminal is returned when a transition targets a completed or failed job.
	ErrTerminal = errors.New("job already in terminal state")
	// ErrUnavailable wraps backing-store failures.
	ErrUnavailable = errors.New("queue unavailable")
	// ErrInvalidJob is returned by Enqueue for empty location or query.
	ErrInvalidJob = errors.New("location and query are required")
)

// RedisQueue keeps the FIFO ready list, in-flight leases and per-job state hashes in Redis.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	deadKey       string
	jobPrefix     string
	visibilityTTL time.Duration
	pollInterval  time.Duration
	maxAttempts   int
	jobTTL        time.Duration
}

// NewClient builds the process-wide Redis client shared by the queue and rate limiter.
func NewClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue builds a queue on an injected client.
func NewRedisQueue(client *redis.Client, cfg config.Config) *RedisQueue {
	prefix := strings.TrimSuffix(strings.TrimSpace(cfg.QueuePrefix), ":")
	if prefix == "" {
		prefix = "agg"
	}
	visibility := cfg.VisibilityTimeout
	if visibility <= 0 {
		visibility = 2 * time.Minute
	}
	poll := cfg.WorkerPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &RedisQueue{
		client:        client,
		readyKey:      prefix + ":queue:ready",
		inflightKey:   prefix + ":queue:inflight",
		deadKey:       prefix + ":queue:dead",
		jobPrefix:     prefix + ":job:",
		visibilityTTL: visibility,
		pollInterval:  poll,
		maxAttempts:   attempts,
		jobTTL:        cfg.JobTTL,
	}
}

// NewOwnerToken returns a unique claim token for a worker instance.
func NewOwnerToken(workerID string) string {
	if workerID == "" {
		workerID = "worker"
	}
	return workerID + ":" + uuid.NewString()
}

func (q *RedisQueue) jobKey(jobID string) string {
	return q.jobPrefix + jobID
}

// VisibilityTimeout is the lease length granted on claim.
func (q *RedisQueue) VisibilityTimeout() time.Duration {
	return q.visibilityTTL
}

// Enqueue stores a new waiting job and appends it to the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, location, query string) (models.Job, error) {
	location = strings.TrimSpace(location)
	query = strings.TrimSpace(query)
	if location == "" || query == "" {
		return models.Job{}, ErrInvalidJob
	}

	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.NewString(),
		Location:    location,
		Query:       query,
		SubmittedAt: now,
		State:       models.StateWaiting,
		UpdatedAt:   now,
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID),
		"id", job.ID,
		"location", job.Location,
		"query", job.Query,
		"submitted_at", now.UnixMilli(),
		"state", string(job.State),
		"progress", 0,
		"attempts", 0,
		"owner", "",
		"error", "",
		"updated_at", now.UnixMilli(),
	)
	pipe.RPush(ctx, q.readyKey, job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Job{}, fmt.Errorf("%w: enqueue: %v", ErrUnavailable, err)
	}
	return job, nil
}

// GetJob fetches the full job record.
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return models.Job{}, fmt.Errorf("%w: get job: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return models.Job{}, ErrNotFound
	}
	return jobFromHash(fields), nil
}

// GetState returns the pollable view of a job.
func (q *RedisQueue) GetState(ctx context.Context, jobID string) (models.JobStateView, error) {
	job, err := q.GetJob(ctx, jobID)
	if err != nil {
		return models.JobStateView{}, err
	}
	return job.View(), nil
}

// Claim pops the oldest waiting job and leases it to owner. It returns "" when nothing is ready.
func (q *RedisQueue) Claim(ctx context.Context, owner string) (string, error) {
	now := time.Now()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		q.jobPrefix, owner, now.Add(q.visibilityTTL).UnixMilli(), now.UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: claim: %v", ErrUnavailable, err)
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from claim script: %T", res)
	}
	return jobID, nil
}

// DequeueNext blocks until a job is claimed for owner or ctx is done.
func (q *RedisQueue) DequeueNext(ctx context.Context, owner string) (models.Job, error) {
	for {
		jobID, err := q.Claim(ctx, owner)
		if err != nil {
			return models.Job{}, err
		}
		if jobID != "" {
			return q.GetJob(ctx, jobID)
		}
		select {
		case <-ctx.Done():
			return models.Job{}, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// SetProgress records progress for an active job held by owner. Lower values than the stored one are ignored.
func (q *RedisQueue) SetProgress(ctx context.Context, jobID, owner string, progress int) error {
	code, err := progressScript.Run(ctx, q.client, []string{q.jobKey(jobID)},
		owner, progress, time.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: set progress: %v", ErrUnavailable, err)
	}
	return transitionErr(code)
}

// Complete marks an active job completed with progress 100.
func (q *RedisQueue) Complete(ctx context.Context, jobID, owner string) error {
	return q.finish(ctx, jobID, owner, models.StateCompleted, models.ProgressDone, "")
}

// Fail marks an active job failed and records it on the dead list.
func (q *RedisQueue) Fail(ctx context.Context, jobID, owner, reason string) error {
	return q.finish(ctx, jobID, owner, models.StateFailed, -1, reason)
}

func (q *RedisQueue) finish(ctx context.Context, jobID, owner string, state models.JobState, progress int, reason string) error {
	p := ""
	if progress >= 0 {
		p = strconv.Itoa(progress)
	}
	code, err := finishScript.Run(ctx, q.client,
		[]string{q.jobKey(jobID), q.inflightKey, q.deadKey},
		owner, string(state), p, reason, time.Now().UnixMilli(), jobID, int64(q.jobTTL/time.Second),
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: finish job: %v", ErrUnavailable, err)
	}
	return transitionErr(code)
}

// ExtendLease pushes the visibility deadline forward for a job still held by owner.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID, owner string, extension time.Duration) error {
	code, err := leaseScript.Run(ctx, q.client,
		[]string{q.jobKey(jobID), q.inflightKey},
		owner, time.Now().Add(extension).UnixMilli(), jobID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: extend lease: %v", ErrUnavailable, err)
	}
	return transitionErr(code)
}

// RequeueExpired reclaims leases that timed out. Jobs under the attempt limit return to the
// ready list; the rest are failed and dead-lettered.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (requeued, failed []string, err error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now.UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: scan leases: %v", ErrUnavailable, err)
	}
	for _, id := range ids {
		code, err := reclaimScript.Run(ctx, q.client,
			[]string{q.jobKey(id), q.inflightKey, q.readyKey, q.deadKey},
			id, q.maxAttempts, now.UnixMilli(), int64(q.jobTTL/time.Second),
		).Int64()
		if err != nil {
			return requeued, failed, fmt.Errorf("%w: reclaim %s: %v", ErrUnavailable, id, err)
		}
		switch code {
		case 1:
			requeued = append(requeued, id)
		case 2:
			failed = append(failed, id)
		}
	}
	return requeued, failed, nil
}

// Depth returns the number of waiting jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: depth: %v", ErrUnavailable, err)
	}
	return n, nil
}

// InFlight returns the number of leased jobs.
func (q *RedisQueue) InFlight(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.inflightKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: in-flight: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeadPeek reads the oldest dead-lettered job ids.
func (q *RedisQueue) DeadPeek(ctx context.Context, count int64) ([]string, error) {
	ids, err := q.client.LRange(ctx, q.deadKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: dead list: %v", ErrUnavailable, err)
	}
	return ids, nil
}

// Ping checks the backing store.
func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func transitionErr(code int64) error {
	switch code {
	case 1:
		return nil
	case -1:
		return ErrNotFound
	case -2:
		return ErrTerminal
	default:
		return ErrNotOwner
	}
}

func jobFromHash(f map[string]string) models.Job {
	progress, _ := strconv.Atoi(f["progress"])
	attempts, _ := strconv.Atoi(f["attempts"])
	return models.Job{
		ID:          f["id"],
		Location:    f["location"],
		Query:       f["query"],
		SubmittedAt: msToTime(f["submitted_at"]),
		State:       models.JobState(f["state"]),
		Progress:    progress,
		Attempts:    attempts,
		Owner:       f["owner"],
		Error:       f["error"],
		UpdatedAt:   msToTime(f["updated_at"]),
	}
}

func msToTime(v string) time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
