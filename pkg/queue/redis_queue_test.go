package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, cfg RedisQueueConfig) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if cfg.Stream == "" {
		cfg.Stream = "test:queue"
	}
	if cfg.Group == "" {
		cfg.Group = "test-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	q, err := NewRedisJobQueue(client, cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, bookID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, bookID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["book_id"] != bookID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, bookID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, bookID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func TestRedisJobQueueEnqueueDeduplicatesPerBook(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, "book-1", "order-1")
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	second, created, err := q.Enqueue(ctx, "book-1", "order-2")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing job %s, got %s created=%v", first.ID, second.ID, created)
	}
	if second.OrderID != "order-1" {
		t.Fatalf("existing job should keep its order, got %q", second.OrderID)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 1 {
		t.Fatalf("expected one stream entry, got %d", n)
	}
	if _, _, err := q.Enqueue(ctx, " ", ""); err == nil {
		t.Fatalf("expected empty book id to fail")
	}
}

func TestRedisJobQueueRunRetriesThenCompletes(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		ClaimIdle:  time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, _, err := q.Enqueue(ctx, "book-1", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 1, func(_ context.Context, j ResolveJob) error {
			if calls.Add(1) == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	got := waitForStatus(t, q, job.ID, StatusDone)
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}
	cancel()
	<-done

	if _, created, err := q.Enqueue(context.Background(), "book-1", ""); err != nil || !created {
		t.Fatalf("guard should be released after completion: created=%v err=%v", created, err)
	}
}

func TestRedisJobQueueRunGivesUpAfterMaxRetries(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		ClaimIdle:  time.Hour,
		MaxRetries: 2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	job, _, err := q.Enqueue(ctx, "book-2", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 1, func(context.Context, ResolveJob) error { return errors.New("permanent") })
	}()

	got := waitForStatus(t, q, job.ID, StatusFailed)
	if got.Attempts != 2 || got.ErrorMessage != "permanent" {
		t.Fatalf("unexpected failed job: %+v", got)
	}
	cancel()
	<-done
}

func TestBackoffDoubles(t *testing.T) {
	q := &RedisJobQueue{retryDelay: time.Second}
	if q.backoff(1) != time.Second || q.backoff(3) != 4*time.Second {
		t.Fatalf("unexpected backoff: %s %s", q.backoff(1), q.backoff(3))
	}
}

func waitForStatus(t *testing.T, q *RedisJobQueue, jobID, status string) ResolveJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok, err := q.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && job.Status == status {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, status)
	return ResolveJob{}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string, string) {
	t.Helper()
	q := newTestQueue(t, RedisQueueConfig{RetryDelay: time.Millisecond})
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, _, err := q.Enqueue(ctx, "book-1", "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, job.ID, job.BookID
}
