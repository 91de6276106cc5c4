package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookstore/pkg/domain"
)

const maxSlugAttempts = 50

// ListCollections returns the user's collections, newest first.
func (a *App) ListCollections(ctx context.Context, userID string) ([]domain.Collection, error) {
	if userID == "" {
		return nil, domain.ErrUnauthorized
	}
	return a.store.ListCollections(ctx, userID)
}

// CreateCollection names a new collection, suffixing the slug with -1, -2, ...
// until it is unique for the user.
func (a *App) CreateCollection(ctx context.Context, userID, name string) (domain.Collection, error) {
	if userID == "" {
		return domain.Collection{}, domain.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Collection{}, domain.ValidationError("name required")
	}
	base := slugBase(name)
	for i := 0; i < maxSlugAttempts; i++ {
		c, err := a.store.CreateCollection(ctx, domain.Collection{UserID: userID, Name: name, Slug: slugCandidate(base, i)})
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		return c, err
	}
	return domain.Collection{}, fmt.Errorf("%w: no free slug for %q", domain.ErrConflict, base)
}

// RenameCollection renames an owned collection and re-derives its slug.
func (a *App) RenameCollection(ctx context.Context, userID, id, name string) (domain.Collection, error) {
	if _, err := a.ownCollection(ctx, userID, id); err != nil {
		return domain.Collection{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Collection{}, domain.ValidationError("name required")
	}
	base := slugBase(name)
	for i := 0; i < maxSlugAttempts; i++ {
		c, err := a.store.RenameCollection(ctx, id, name, slugCandidate(base, i))
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		return c, err
	}
	return domain.Collection{}, fmt.Errorf("%w: no free slug for %q", domain.ErrConflict, base)
}

// DeleteCollection removes an owned collection and its items.
func (a *App) DeleteCollection(ctx context.Context, userID, id string) error {
	if _, err := a.ownCollection(ctx, userID, id); err != nil {
		return err
	}
	return a.store.DeleteCollection(ctx, id)
}

// CollectionItemInput names a persisted book or a catalog volume to import.
type CollectionItemInput struct {
	BookID   string
	VolumeID string
	Notes    string
}

// AddCollectionItem adds or updates a book in an owned collection. A catalog
// volume is imported first when no book id is given.
func (a *App) AddCollectionItem(ctx context.Context, userID, collectionID string, in CollectionItemInput) (domain.CollectionItem, error) {
	if _, err := a.ownCollection(ctx, userID, collectionID); err != nil {
		return domain.CollectionItem{}, err
	}
	bookID := strings.TrimSpace(in.BookID)
	if bookID == "" {
		if strings.TrimSpace(in.VolumeID) == "" {
			return domain.CollectionItem{}, domain.ValidationError("bookId or external book required")
		}
		book, _, err := a.ImportVolume(ctx, in.VolumeID)
		if err != nil {
			return domain.CollectionItem{}, err
		}
		bookID = book.ID
	}
	return a.store.UpsertCollectionItem(ctx, collectionID, bookID, strings.TrimSpace(in.Notes))
}

// RemoveCollectionItem drops a book from an owned collection.
func (a *App) RemoveCollectionItem(ctx context.Context, userID, collectionID, bookID string) error {
	if _, err := a.ownCollection(ctx, userID, collectionID); err != nil {
		return err
	}
	return a.store.RemoveCollectionItem(ctx, collectionID, bookID)
}

// ownCollection hides other users' collections as not found.
func (a *App) ownCollection(ctx context.Context, userID, id string) (domain.Collection, error) {
	if userID == "" {
		return domain.Collection{}, domain.ErrUnauthorized
	}
	c, ok, err := a.store.GetCollection(ctx, id)
	if err != nil {
		return domain.Collection{}, err
	}
	if !ok || c.UserID != userID {
		return domain.Collection{}, domain.ErrNotFound
	}
	return c, nil
}

func slugBase(name string) string {
	if s := domain.Slugify(name); s != "" {
		return s
	}
	return "collection"
}

func slugCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt)
}
