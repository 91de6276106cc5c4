package worker

import (
	"context"
	"errors"
	"time"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/queue"
	"bookstore/pkg/resolver"
)

// Resolver is the file resolution engine.
type Resolver interface {
	Resolve(ctx context.Context, bookID string) (resolver.Outcome, error)
}

// Handler returns a queue handler that resolves each job's book. Missing
// books and exhausted resolutions finish the job; other errors are retried
// by the queue.
func Handler(r Resolver, timeout time.Duration) queue.Handler {
	return func(ctx context.Context, job queue.ResolveJob) error {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		logger := util.LoggerFromContext(ctx).With("job_id", job.ID, "book_id", job.BookID, "order_id", job.OrderID)
		started := time.Now()
		out, err := r.Resolve(ctx, job.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("prefetch skipped, book missing")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info("prefetch resolved",
			"state", out.Final.String(),
			"kind", string(out.Ref.Kind),
			"exhausted", out.Exhausted(),
			"duration_ms", time.Since(started).Milliseconds(),
		)
		return nil
	}
}
