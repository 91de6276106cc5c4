//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bookstore"),
		postgres.WithUsername("bookstore"),
		postgres.WithPassword("bookstore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "connection string")
	return dsn
}

func TestGormStoreContract(t *testing.T) {
	dsn := setupPostgres(t)
	runStoreContract(t, func(t *testing.T) Store {
		s, err := NewGormStore(dsn)
		require.NoError(t, err)
		// Each subtest starts from empty tables.
		require.NoError(t, s.db.Exec(`TRUNCATE
			collection_item_models, collection_models,
			order_item_models, order_models,
			cart_item_models, cart_models,
			book_authors, book_categories,
			book_models, author_models, category_models, user_models
			CASCADE`).Error)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestGormStoreMigrationIsRepeatable(t *testing.T) {
	dsn := setupPostgres(t)
	first, err := NewGormStore(dsn)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewGormStore(dsn)
	require.NoError(t, err, "second migration run should be a no-op")
	require.NoError(t, second.Close())
}
