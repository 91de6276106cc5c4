package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookstore/internal/util"
	"bookstore/pkg/catalog"
	"bookstore/pkg/domain"
	"bookstore/pkg/store"
)

const (
	minQueryRunes      = 2
	maxQueryRunes      = 100
	fallbackQueryRunes = 50
	fallbackLimit      = 10
	dbSearchLimit      = 20
	defaultInventory   = 100
)

// Search result sources.
const (
	SourceDB         = "db"
	SourceExternal   = "external"
	SourceDBFallback = "db-fallback"
)

// SearchItem is one search hit. ID is set when the book is persisted.
type SearchItem struct {
	ID               string   `json:"id,omitempty"`
	ExternalVolumeID string   `json:"externalVolumeId,omitempty"`
	Title            string   `json:"title"`
	Subtitle         string   `json:"subtitle,omitempty"`
	Description      string   `json:"description,omitempty"`
	Authors          []string `json:"authors"`
	Categories       []string `json:"categories"`
	CoverURL         string   `json:"coverUrl,omitempty"`
	PriceCents       int64    `json:"priceCents"`
	Currency         string   `json:"currency"`
	InDB             bool     `json:"inDb"`
}

// SearchResponse tells callers whether items are persisted or transient.
type SearchResponse struct {
	Items        []SearchItem `json:"items"`
	Source       string       `json:"source"`
	DBCount      int          `json:"dbCount"`
	TotalResults int          `json:"totalResults"`
	Notice       string       `json:"notice,omitempty"`
}

// ValidateQuery trims q and enforces the 2..100 character bounds.
func ValidateQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", domain.ValidationError("query parameter 'q' is required")
	}
	n := utf8.RuneCountInString(q)
	if n < minQueryRunes {
		return "", domain.ValidationError("query must be at least %d characters long", minQueryRunes)
	}
	if n > maxQueryRunes {
		return "", domain.ValidationError("query too long (max %d characters)", maxQueryRunes)
	}
	return q, nil
}

// SearchBooks queries the external catalog and marks hits already in the
// database. When the catalog fails, a narrowed database search is served
// instead; dbOnly skips the catalog entirely.
func (a *App) SearchBooks(ctx context.Context, rawQuery string, dbOnly bool) (SearchResponse, error) {
	q, err := ValidateQuery(rawQuery)
	if err != nil {
		return SearchResponse{}, err
	}
	if dbOnly || a.catalog == nil {
		books, err := a.store.SearchBooksByTitle(ctx, q, dbSearchLimit)
		if err != nil {
			return SearchResponse{}, fmt.Errorf("search books: %w", err)
		}
		return dbResponse(books, SourceDB, ""), nil
	}

	res, err := a.catalog.Search(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return SearchResponse{}, ctx.Err()
		}
		util.LoggerFromContext(ctx).Warn("catalog search failed, serving local results", "err", err)
		return a.fallbackSearch(ctx, q)
	}

	ids := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		ids = append(ids, item.ExternalVolumeID)
	}
	known, err := a.store.FindBooksByVolumeIDs(ctx, ids)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("lookup persisted volumes failed", "err", err)
		known = nil
	}
	out := SearchResponse{Items: make([]SearchItem, 0, len(res.Items)), Source: SourceExternal}
	for _, ext := range res.Items {
		item := itemFromExternal(ext)
		if b, ok := known[ext.ExternalVolumeID]; ok {
			item.ID = b.ID
			item.InDB = true
			if names := b.AuthorNames(); len(names) > 0 {
				item.Authors = names
			}
			out.DBCount++
		}
		out.Items = append(out.Items, item)
	}
	out.TotalResults = len(out.Items)
	return out, nil
}

func (a *App) fallbackSearch(ctx context.Context, q string) (SearchResponse, error) {
	narrowed := q
	if runes := []rune(q); len(runes) > fallbackQueryRunes {
		narrowed = string(runes[:fallbackQueryRunes])
	}
	books, err := a.store.SearchBooksByTitle(ctx, narrowed, fallbackLimit)
	if err != nil {
		util.LoggerFromContext(ctx).Error("local search fallback failed", "err", err)
		return SearchResponse{}, fmt.Errorf("%w: search", domain.ErrServiceUnavailable)
	}
	return dbResponse(books, SourceDBFallback, "external search failed, showing local results only"), nil
}

func dbResponse(books []domain.Book, source, notice string) SearchResponse {
	out := SearchResponse{Items: make([]SearchItem, 0, len(books)), Source: source, Notice: notice}
	for _, b := range books {
		out.Items = append(out.Items, itemFromBook(b))
	}
	out.DBCount = len(out.Items)
	out.TotalResults = len(out.Items)
	return out
}

func itemFromExternal(b domain.ExternalBook) SearchItem {
	return SearchItem{
		ExternalVolumeID: b.ExternalVolumeID,
		Title:            b.Title,
		Subtitle:         b.Subtitle,
		Description:      b.Description,
		Authors:          b.Authors,
		Categories:       b.Categories,
		CoverURL:         b.CoverURL,
		PriceCents:       b.PriceCents,
		Currency:         b.Currency,
	}
}

func itemFromBook(b domain.Book) SearchItem {
	categories := make([]string, 0, len(b.Categories))
	for _, c := range b.Categories {
		categories = append(categories, c.Name)
	}
	return SearchItem{
		ID:               b.ID,
		ExternalVolumeID: b.ExternalVolumeID,
		Title:            b.Title,
		Subtitle:         b.Subtitle,
		Description:      b.Description,
		Authors:          b.AuthorNames(),
		Categories:       categories,
		CoverURL:         b.CoverURL,
		PriceCents:       b.PriceCents,
		Currency:         b.Currency,
		InDB:             true,
	}
}

// ListBooks pages through the catalog, newest first.
func (a *App) ListBooks(ctx context.Context, q store.BookQuery) ([]domain.Book, int64, error) {
	return a.store.ListBooks(ctx, q)
}

// GetBook loads one book with authors and categories.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, domain.ErrNotFound
	}
	return book, nil
}

// LookupVolume returns the raw catalog document for a volume id or ISBN.
func (a *App) LookupVolume(ctx context.Context, volumeID, isbn string) (json.RawMessage, error) {
	volumeID = strings.TrimSpace(volumeID)
	isbn = strings.TrimSpace(isbn)
	if volumeID == "" && isbn == "" {
		return nil, domain.ValidationError("missing volumeId or isbn")
	}
	if a.catalog == nil {
		return nil, fmt.Errorf("%w: catalog disabled", domain.ErrServiceUnavailable)
	}
	var (
		v   catalog.Volume
		err error
	)
	if volumeID != "" {
		v, err = a.catalog.FetchVolume(ctx, volumeID)
	} else {
		v, err = a.catalog.LookupISBN(ctx, isbn)
	}
	if err != nil {
		return nil, err
	}
	return v.Raw, nil
}

// ImportVolume persists a catalog volume, returning the existing book when the
// volume was imported before.
func (a *App) ImportVolume(ctx context.Context, volumeID string) (domain.Book, bool, error) {
	volumeID = strings.TrimSpace(volumeID)
	if volumeID == "" {
		return domain.Book{}, false, domain.ValidationError("volumeId required")
	}
	if existing, err := a.store.FindBooksByVolumeIDs(ctx, []string{volumeID}); err == nil {
		if b, ok := existing[volumeID]; ok {
			return b, false, nil
		}
	}
	if a.catalog == nil {
		return domain.Book{}, false, fmt.Errorf("%w: catalog disabled", domain.ErrServiceUnavailable)
	}
	v, err := a.catalog.FetchVolume(ctx, volumeID)
	if err != nil {
		return domain.Book{}, false, err
	}
	book := catalog.ToBook(catalog.Normalize(v, a.importPrice), defaultInventory)
	saved, created, err := a.store.UpsertBookByVolumeID(ctx, book)
	if err != nil {
		return domain.Book{}, false, fmt.Errorf("save imported book: %w", err)
	}
	if created {
		util.LoggerFromContext(ctx).Info("book imported", "book_id", saved.ID, "volume_id", volumeID)
	}
	return saved, created, nil
}
