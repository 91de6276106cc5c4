package app

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bookstore/pkg/catalog"
	"bookstore/pkg/payment"
	"bookstore/pkg/queue"
	"bookstore/pkg/resolver"
	"bookstore/pkg/storage"
	"bookstore/pkg/store"
)

// Catalog is the external metadata provider.
type Catalog interface {
	Search(ctx context.Context, query string) (catalog.SearchResult, error)
	FetchVolume(ctx context.Context, volumeID string) (catalog.Volume, error)
	LookupISBN(ctx context.Context, isbn string) (catalog.Volume, error)
}

// Resolver guarantees a book has a content reference.
type Resolver interface {
	Resolve(ctx context.Context, bookID string) (resolver.Outcome, error)
}

// Prefetcher schedules resolution ahead of the first download.
type Prefetcher interface {
	Enqueue(ctx context.Context, bookID, orderID string) (queue.ResolveJob, bool, error)
}

// Config holds runtime dependencies for the storefront core.
type Config struct {
	Store    store.Store
	Blobs    storage.BlobStore
	Resolver Resolver
	Payments payment.Provider
	// Catalog may be nil to serve search and imports from the database only.
	Catalog Catalog
	// Prefetch is optional.
	Prefetch Prefetcher
	// HTTPClient fetches resolved files for streaming.
	HTTPClient       *http.Client
	PublicBaseURL    string
	ImportPriceCents int64
}

// App is the storefront application service.
type App struct {
	store         store.Store
	blobs         storage.BlobStore
	resolver      Resolver
	payments      payment.Provider
	catalog       Catalog
	prefetch      Prefetcher
	http          *http.Client
	publicBaseURL string
	importPrice   int64
}

// New validates dependencies and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob store required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("resolver required")
	}
	if cfg.Payments == nil {
		return nil, errors.New("payment provider required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		return nil, errors.New("public base URL required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	price := cfg.ImportPriceCents
	if price <= 0 {
		price = 1999
	}
	return &App{
		store:         cfg.Store,
		blobs:         cfg.Blobs,
		resolver:      cfg.Resolver,
		payments:      cfg.Payments,
		catalog:       cfg.Catalog,
		prefetch:      cfg.Prefetch,
		http:          httpClient,
		publicBaseURL: base,
		importPrice:   price,
	}, nil
}

// CatalogEnabled reports whether an external catalog is configured.
func (a *App) CatalogEnabled() bool { return a.catalog != nil }
