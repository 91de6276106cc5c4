package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookstore/internal/util"
)

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusFailed     = "failed"
)

// ResolveJob asks a worker to resolve one book's file ahead of its first
// download.
type ResolveJob struct {
	ID           string    `json:"id"`
	BookID       string    `json:"bookId"`
	OrderID      string    `json:"orderId,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Handler processes one job. A returned error schedules a retry until the
// attempt budget is spent.
type Handler func(context.Context, ResolveJob) error

type RedisJobQueue struct {
	client       redis.UniversalClient
	stream       string
	group        string
	consumerBase string
	jobTTL       time.Duration
	maxRetries   int
	block        time.Duration
	claimIdle    time.Duration
	retryDelay   time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	once         sync.Once
}

type RedisQueueConfig struct {
	Stream     string
	Group      string
	Consumer   string
	JobTTL     time.Duration
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
}

func NewRedisJobQueue(client redis.UniversalClient, cfg RedisQueueConfig) (*RedisJobQueue, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "resolvers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	q := &RedisJobQueue{
		client:       client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		jobTTL:       durationOr(cfg.JobTTL, 24*time.Hour),
		maxRetries:   cfg.MaxRetries,
		block:        durationOr(cfg.Block, 5*time.Second),
		claimIdle:    durationOr(cfg.ClaimIdle, 30*time.Second),
		retryDelay:   durationOr(cfg.RetryDelay, 2*time.Second),
		maxLen:       cfg.MaxLen,
		readCount:    cfg.ReadCount,
		claimCount:   cfg.ClaimCount,
	}
	if q.maxRetries <= 0 {
		q.maxRetries = 3
	}
	if q.maxLen <= 0 {
		q.maxLen = 10000
	}
	if q.readCount <= 0 {
		q.readCount = 10
	}
	if q.claimCount <= 0 {
		q.claimCount = 10
	}
	return q, nil
}

// Enqueue schedules resolution of bookID. While a job for the same book is
// queued or running, the existing job is returned and created is false.
func (q *RedisJobQueue) Enqueue(ctx context.Context, bookID, orderID string) (job ResolveJob, created bool, err error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return ResolveJob{}, false, errors.New("bookId required")
	}
	now := time.Now().UTC()
	job = ResolveJob{
		ID:        util.NewID(),
		BookID:    bookID,
		OrderID:   strings.TrimSpace(orderID),
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	claimed, err := q.client.SetNX(ctx, q.pendingKey(bookID), job.ID, q.jobTTL).Result()
	if err != nil {
		return ResolveJob{}, false, fmt.Errorf("claim book %s: %w", bookID, err)
	}
	if !claimed {
		existingID, err := q.client.Get(ctx, q.pendingKey(bookID)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return ResolveJob{}, false, err
		}
		if existing, ok, err := q.GetJob(ctx, existingID); err == nil && ok {
			return existing, false, nil
		}
		return ResolveJob{ID: existingID, BookID: bookID, Status: StatusQueued}, false, nil
	}
	if err := q.writeStatus(ctx, job); err != nil {
		_ = q.client.Del(ctx, q.pendingKey(bookID)).Err()
		return ResolveJob{}, false, err
	}
	if err := q.client.XAdd(ctx, q.addArgs(job.ID, job.BookID)).Err(); err != nil {
		_ = q.client.Del(ctx, q.pendingKey(bookID)).Err()
		return ResolveJob{}, false, err
	}
	return job, true, nil
}

func (q *RedisJobQueue) GetJob(ctx context.Context, jobID string) (ResolveJob, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ResolveJob{}, false, nil
	}
	data, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return ResolveJob{}, false, err
	}
	if len(data) == 0 {
		return ResolveJob{}, false, nil
	}
	return decodeJob(jobID, data), true, nil
}

// Run consumes jobs with concurrency consumers and blocks until ctx is done.
func (q *RedisJobQueue) Run(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
}

func (q *RedisJobQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		// Start at 0 so jobs enqueued before the first worker are not skipped.
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			util.LoggerFromContext(ctx).Warn("queue group create failed", "stream", q.stream, "err", err)
		}
	})
}

func (q *RedisJobQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	logger := util.LoggerFromContext(ctx).With("consumer", consumer)
	for ctx.Err() == nil {
		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, logger, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				logger.Warn("queue read failed", "err", err)
				sleepCtx(ctx, q.retryDelay)
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, logger, msg, handler)
			}
		}
	}
}

func (q *RedisJobQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return res, err
}

func (q *RedisJobQueue) handleMessage(ctx context.Context, logger *slog.Logger, msg redis.XMessage, handler Handler) {
	jobID, _ := msg.Values["job_id"].(string)
	bookID, _ := msg.Values["book_id"].(string)
	if jobID == "" || bookID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	job, err := q.markProcessing(ctx, jobID, bookID)
	if err != nil {
		logger.Warn("queue job status update failed", "job_id", jobID, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}
	logger = logger.With("job_id", jobID, "book_id", bookID, "attempt", job.Attempts)

	handleErr := handler(ctx, job)
	if handleErr == nil {
		_ = q.finish(ctx, job, StatusDone, "")
		q.ackAndDel(ctx, msg.ID)
		logger.Info("resolve job done")
		return
	}
	if job.Attempts >= q.maxRetries {
		_ = q.finish(ctx, job, StatusFailed, handleErr.Error())
		q.ackAndDel(ctx, msg.ID)
		logger.Error("resolve job failed", "err", handleErr)
		return
	}
	logger.Warn("resolve job will retry", "err", handleErr)
	_ = q.markQueued(ctx, job, handleErr.Error())
	if !sleepCtx(ctx, q.backoff(job.Attempts)) {
		return
	}
	if err := q.requeueAndAck(ctx, msg.ID, jobID, bookID); err != nil {
		logger.Warn("resolve job requeue failed", "err", err)
	}
}

// backoff doubles the retry delay per attempt.
func (q *RedisJobQueue) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return q.retryDelay << (attempt - 1)
}

func (q *RedisJobQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func (q *RedisJobQueue) requeueAndAck(ctx context.Context, msgID, jobID, bookID string) error {
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, q.addArgs(jobID, bookID))
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisJobQueue) addArgs(jobID, bookID string) *redis.XAddArgs {
	return &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job_id":  jobID,
			"book_id": bookID,
		},
	}
}

func (q *RedisJobQueue) markProcessing(ctx context.Context, jobID, bookID string) (ResolveJob, error) {
	job, _, err := q.GetJob(ctx, jobID)
	if err != nil {
		return ResolveJob{}, err
	}
	if job.ID == "" {
		job = ResolveJob{ID: jobID}
	}
	job.BookID = bookID
	job.Attempts++
	job.Status = StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = job.UpdatedAt
	}
	if err := q.writeStatus(ctx, job); err != nil {
		return ResolveJob{}, err
	}
	return job, nil
}

func (q *RedisJobQueue) markQueued(ctx context.Context, job ResolveJob, errMsg string) error {
	job.Status = StatusQueued
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	return q.writeStatus(ctx, job)
}

// finish records a terminal status and releases the per-book guard.
func (q *RedisJobQueue) finish(ctx context.Context, job ResolveJob, status, errMsg string) error {
	job.Status = status
	job.ErrorMessage = errMsg
	job.UpdatedAt = time.Now().UTC()
	if err := q.writeStatus(ctx, job); err != nil {
		return err
	}
	return q.client.Del(ctx, q.pendingKey(job.BookID)).Err()
}

func (q *RedisJobQueue) writeStatus(ctx context.Context, job ResolveJob) error {
	key := q.jobKey(job.ID)
	payload := map[string]any{
		"id":        job.ID,
		"bookId":    job.BookID,
		"orderId":   job.OrderID,
		"status":    job.Status,
		"error":     job.ErrorMessage,
		"attempts":  strconv.Itoa(job.Attempts),
		"createdAt": job.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := q.client.HSet(ctx, key, payload).Err(); err != nil {
		return err
	}
	_ = q.client.Expire(ctx, key, q.jobTTL).Err()
	return nil
}

func (q *RedisJobQueue) jobKey(jobID string) string {
	return fmt.Sprintf("job:%s:%s", q.stream, jobID)
}

func (q *RedisJobQueue) pendingKey(bookID string) string {
	return fmt.Sprintf("job:%s:book:%s", q.stream, bookID)
}

func decodeJob(jobID string, data map[string]string) ResolveJob {
	job := ResolveJob{
		ID:           jobID,
		BookID:       data["bookId"],
		OrderID:      data["orderId"],
		Status:       data["status"],
		ErrorMessage: data["error"],
	}
	if n, err := strconv.Atoi(data["attempts"]); err == nil {
		job.Attempts = n
	}
	if t, err := time.Parse(time.RFC3339Nano, data["createdAt"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, data["updatedAt"]); err == nil {
		job.UpdatedAt = t
	}
	return job
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// sleepCtx waits d and reports false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
