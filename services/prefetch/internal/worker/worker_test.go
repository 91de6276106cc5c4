package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/pkg/domain"
	"bookstore/pkg/queue"
	"bookstore/pkg/resolver"
)

type resolverFunc func(ctx context.Context, bookID string) (resolver.Outcome, error)

func (f resolverFunc) Resolve(ctx context.Context, bookID string) (resolver.Outcome, error) {
	return f(ctx, bookID)
}

func TestHandlerOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		out     resolver.Outcome
		err     error
		wantErr bool
	}{
		{name: "cached", out: resolver.Outcome{Final: resolver.StateCached, Ref: domain.DownloadRef("https://cdn/x.pdf")}},
		{name: "exhausted", out: resolver.Outcome{Final: resolver.StateExhausted}},
		{name: "missing book", err: domain.ErrNotFound},
		{name: "upload failure", err: errors.New("minio unavailable"), wantErr: true},
	}
	for _, tc := range tests {
		h := Handler(resolverFunc(func(context.Context, string) (resolver.Outcome, error) {
			return tc.out, tc.err
		}), 0)
		err := h(context.Background(), queue.ResolveJob{ID: "job-1", BookID: "book-1"})
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestHandlerAppliesTimeout(t *testing.T) {
	h := Handler(resolverFunc(func(ctx context.Context, _ string) (resolver.Outcome, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected a deadline on the resolve context")
		}
		<-ctx.Done()
		return resolver.Outcome{}, ctx.Err()
	}), 20*time.Millisecond)
	err := h(context.Background(), queue.ResolveJob{ID: "job-2", BookID: "book-2"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
