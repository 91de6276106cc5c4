package store

import (
	"context"

	"bookstore/pkg/domain"
)

// BookQuery filters catalog listings.
type BookQuery struct {
	Title  string
	Limit  int
	Offset int
}

// Store defines persistence for the catalog, commerce and collections.
// Getters return (value, found, error); a missing row is not an error.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)

	// books
	CreateBook(ctx context.Context, b domain.Book) (domain.Book, error)
	UpsertBookByVolumeID(ctx context.Context, b domain.Book) (domain.Book, bool, error)
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	ListBooks(ctx context.Context, q BookQuery) ([]domain.Book, int64, error)
	SearchBooksByTitle(ctx context.Context, title string, limit int) ([]domain.Book, error)
	FindBooksByVolumeIDs(ctx context.Context, volumeIDs []string) (map[string]domain.Book, error)
	// SetBookFileIfEmpty stores ref only when the book has no file yet and
	// returns whichever reference is stored afterwards.
	SetBookFileIfEmpty(ctx context.Context, bookID string, ref domain.FileRef) (domain.FileRef, error)

	// ownership
	HasPaidOrderItem(ctx context.Context, userID, bookID string) (bool, error)

	// carts
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	AddCartItem(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error)
	SetCartItemQuantity(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error)
	RemoveCartItem(ctx context.Context, userID, bookID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error

	// orders
	CreateOrder(ctx context.Context, o domain.Order) (domain.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (domain.Order, bool, error)
	// MarkOrderPaid moves a PENDING order to PAID. The bool reports whether
	// this call performed the transition.
	MarkOrderPaid(ctx context.Context, sessionID string) (domain.Order, bool, error)

	// collections
	ListCollections(ctx context.Context, userID string) ([]domain.Collection, error)
	CreateCollection(ctx context.Context, c domain.Collection) (domain.Collection, error)
	GetCollection(ctx context.Context, id string) (domain.Collection, bool, error)
	RenameCollection(ctx context.Context, id, name, slug string) (domain.Collection, error)
	DeleteCollection(ctx context.Context, id string) error
	UpsertCollectionItem(ctx context.Context, collectionID, bookID, notes string) (domain.CollectionItem, error)
	RemoveCollectionItem(ctx context.Context, collectionID, bookID string) error
}
