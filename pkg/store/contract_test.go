package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bookstore/pkg/domain"
)

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("file reference first writer wins", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		book := mustCreateBook(t, s, domain.Book{Title: "Dune", PriceCents: 1999})

		got, err := s.SetBookFileIfEmpty(ctx, book.ID, domain.DownloadRef("https://cdn.example/a.pdf"))
		if err != nil {
			t.Fatalf("first set: %v", err)
		}
		if got.URL != "https://cdn.example/a.pdf" {
			t.Fatalf("first set url = %q", got.URL)
		}
		got, err = s.SetBookFileIfEmpty(ctx, book.ID, domain.PreviewRef("https://books.example/preview"))
		if err != nil {
			t.Fatalf("second set: %v", err)
		}
		if got.Kind != domain.FileDownload || got.URL != "https://cdn.example/a.pdf" {
			t.Fatalf("second set should return stored ref, got %+v", got)
		}
		stored, ok, err := s.GetBook(ctx, book.ID)
		if err != nil || !ok {
			t.Fatalf("get book: ok=%v err=%v", ok, err)
		}
		if stored.File != got {
			t.Fatalf("stored file = %+v, want %+v", stored.File, got)
		}
	})

	t.Run("concurrent file writers converge", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		book := mustCreateBook(t, s, domain.Book{Title: "Emma", PriceCents: 999})

		urls := []string{"https://cdn.example/1.pdf", "https://cdn.example/2.pdf", "https://cdn.example/3.pdf", "https://cdn.example/4.pdf"}
		results := make([]domain.FileRef, len(urls))
		var wg sync.WaitGroup
		for i, url := range urls {
			wg.Add(1)
			go func(i int, url string) {
				defer wg.Done()
				ref, err := s.SetBookFileIfEmpty(ctx, book.ID, domain.DownloadRef(url))
				if err != nil {
					t.Errorf("set %d: %v", i, err)
				}
				results[i] = ref
			}(i, url)
		}
		wg.Wait()
		for i := 1; i < len(results); i++ {
			if results[i] != results[0] {
				t.Fatalf("writers disagree: %+v vs %+v", results[0], results[i])
			}
		}
	})

	t.Run("file reference on unknown book", func(t *testing.T) {
		s := newStore(t)
		_, err := s.SetBookFileIfEmpty(context.Background(), "missing", domain.DownloadRef("https://cdn.example/x.pdf"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("upsert by volume id is idempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		in := domain.Book{
			Title:            "Neuromancer",
			ExternalVolumeID: "vol-1",
			PriceCents:       1999,
			Authors:          []domain.Author{{Name: "William Gibson"}},
			Categories:       []domain.Category{{Name: "Fiction"}},
		}
		first, created, err := s.UpsertBookByVolumeID(ctx, in)
		if err != nil || !created {
			t.Fatalf("first upsert: created=%v err=%v", created, err)
		}
		second, created, err := s.UpsertBookByVolumeID(ctx, in)
		if err != nil || created {
			t.Fatalf("second upsert: created=%v err=%v", created, err)
		}
		if first.ID != second.ID {
			t.Fatalf("upsert created a second row: %s vs %s", first.ID, second.ID)
		}
		if len(second.Authors) != 1 || second.Authors[0].Name != "William Gibson" {
			t.Fatalf("authors not connected: %+v", second.Authors)
		}
		byVolume, err := s.FindBooksByVolumeIDs(ctx, []string{"vol-1", "vol-unknown"})
		if err != nil {
			t.Fatalf("find by volume ids: %v", err)
		}
		if len(byVolume) != 1 || byVolume["vol-1"].ID != first.ID {
			t.Fatalf("unexpected volume lookup: %+v", byVolume)
		}
	})

	t.Run("title search is case insensitive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreateBook(t, s, domain.Book{Title: "The Go Programming Language"})
		mustCreateBook(t, s, domain.Book{Title: "Rust in Action"})
		got, err := s.SearchBooksByTitle(ctx, "go prog", 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if len(got) != 1 || got[0].Title != "The Go Programming Language" {
			t.Fatalf("unexpected search result: %+v", got)
		}
		page, total, err := s.ListBooks(ctx, BookQuery{Limit: 1})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 2 || len(page) != 1 {
			t.Fatalf("list total=%d len=%d", total, len(page))
		}
	})

	t.Run("cart lines increment and ownership follows paid orders", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		book := mustCreateBook(t, s, domain.Book{Title: "Ulysses", PriceCents: 1500})

		if _, err := s.AddCartItem(ctx, "user-1", book.ID, 1); err != nil {
			t.Fatalf("add: %v", err)
		}
		cart, err := s.AddCartItem(ctx, "user-1", book.ID, 2)
		if err != nil {
			t.Fatalf("add again: %v", err)
		}
		if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
			t.Fatalf("expected single line with qty 3, got %+v", cart.Items)
		}
		if cart.Items[0].Book == nil || cart.Items[0].Book.Title != "Ulysses" {
			t.Fatalf("cart line missing book")
		}
		if _, err := s.AddCartItem(ctx, "user-1", "missing", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown book, got %v", err)
		}
		if _, err := s.SetCartItemQuantity(ctx, "user-1", "missing", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown line, got %v", err)
		}

		order, err := s.CreateOrder(ctx, domain.Order{
			UserID:           "user-1",
			Status:           domain.OrderPending,
			TotalCents:       4500,
			Currency:         "USD",
			PaymentSessionID: "cs_test_1",
			Items:            []domain.OrderItem{{BookID: book.ID, Quantity: 3, UnitCents: 1500}},
			Lines:            []domain.CheckoutLine{{BookID: book.ID, Title: "Ulysses", UnitCents: 1500, Quantity: 3}},
		})
		if err != nil {
			t.Fatalf("create order: %v", err)
		}
		if order.Status != domain.OrderPending {
			t.Fatalf("order status = %s", order.Status)
		}
		owned, err := s.HasPaidOrderItem(ctx, "user-1", book.ID)
		if err != nil || owned {
			t.Fatalf("pending order must not grant ownership: owned=%v err=%v", owned, err)
		}

		paid, transitioned, err := s.MarkOrderPaid(ctx, "cs_test_1")
		if err != nil || !transitioned || paid.Status != domain.OrderPaid {
			t.Fatalf("mark paid: transitioned=%v status=%s err=%v", transitioned, paid.Status, err)
		}
		_, transitioned, err = s.MarkOrderPaid(ctx, "cs_test_1")
		if err != nil || transitioned {
			t.Fatalf("second mark paid should be a no-op: transitioned=%v err=%v", transitioned, err)
		}
		owned, err = s.HasPaidOrderItem(ctx, "user-1", book.ID)
		if err != nil || !owned {
			t.Fatalf("paid order should grant ownership: owned=%v err=%v", owned, err)
		}
		other, err := s.HasPaidOrderItem(ctx, "user-2", book.ID)
		if err != nil || other {
			t.Fatalf("ownership leaked to another user")
		}
		if _, _, err := s.MarkOrderPaid(ctx, "cs_unknown"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown session, got %v", err)
		}

		if err := s.ClearCart(ctx, "user-1"); err != nil {
			t.Fatalf("clear cart: %v", err)
		}
		cart, err = s.GetCart(ctx, "user-1")
		if err != nil || len(cart.Items) != 0 {
			t.Fatalf("cart should be empty: %+v err=%v", cart.Items, err)
		}
	})

	t.Run("collections enforce unique slug per user", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		book := mustCreateBook(t, s, domain.Book{Title: "Beloved"})

		c, err := s.CreateCollection(ctx, domain.Collection{UserID: "user-1", Name: "Summer", Slug: "summer"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.CreateCollection(ctx, domain.Collection{UserID: "user-1", Name: "Summer!", Slug: "summer"}); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if _, err := s.CreateCollection(ctx, domain.Collection{UserID: "user-2", Name: "Summer", Slug: "summer"}); err != nil {
			t.Fatalf("other user may reuse slug: %v", err)
		}

		if _, err := s.UpsertCollectionItem(ctx, c.ID, book.ID, "first"); err != nil {
			t.Fatalf("add item: %v", err)
		}
		item, err := s.UpsertCollectionItem(ctx, c.ID, book.ID, "second")
		if err != nil {
			t.Fatalf("update item: %v", err)
		}
		if item.Notes != "second" {
			t.Fatalf("notes = %q, want second", item.Notes)
		}
		got, ok, err := s.GetCollection(ctx, c.ID)
		if err != nil || !ok || len(got.Items) != 1 {
			t.Fatalf("get collection: ok=%v items=%d err=%v", ok, len(got.Items), err)
		}

		renamed, err := s.RenameCollection(ctx, c.ID, "Winter", "winter")
		if err != nil || renamed.Slug != "winter" {
			t.Fatalf("rename: slug=%q err=%v", renamed.Slug, err)
		}
		if err := s.RemoveCollectionItem(ctx, c.ID, book.ID); err != nil {
			t.Fatalf("remove item: %v", err)
		}
		if err := s.RemoveCollectionItem(ctx, c.ID, book.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound on second remove, got %v", err)
		}
		if err := s.DeleteCollection(ctx, c.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		list, err := s.ListCollections(ctx, "user-1")
		if err != nil || len(list) != 0 {
			t.Fatalf("expected no collections, got %d err=%v", len(list), err)
		}
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		u := domain.User{ID: "u1", Email: "Reader@Example.com", PasswordHash: "x", Role: domain.RoleCustomer}
		if err := s.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		u.ID = "u2"
		if err := s.CreateUser(ctx, u); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, ok, err := s.GetUserByEmail(ctx, "reader@example.com")
		if err != nil || !ok || got.ID != "u1" {
			t.Fatalf("lookup by email: ok=%v id=%q err=%v", ok, got.ID, err)
		}
	})
}

func mustCreateBook(t *testing.T, s Store, b domain.Book) domain.Book {
	t.Helper()
	created, err := s.CreateBook(context.Background(), b)
	if err != nil {
		t.Fatalf("create book %q: %v", b.Title, err)
	}
	return created
}
