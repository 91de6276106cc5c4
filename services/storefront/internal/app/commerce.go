package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/domain"
	"bookstore/pkg/payment"
)

const defaultCurrency = "USD"

// GetCart returns the user's cart with books loaded.
func (a *App) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUnauthorized
	}
	return a.store.GetCart(ctx, userID)
}

// AddToCart adds qty copies of a book, incrementing an existing line.
func (a *App) AddToCart(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(bookID) == "" {
		return domain.Cart{}, domain.ValidationError("bookId required")
	}
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return domain.Cart{}, domain.ValidationError("qty must be positive")
	}
	return a.store.AddCartItem(ctx, userID, bookID, qty)
}

// UpdateCartItem sets the quantity of an existing line.
func (a *App) UpdateCartItem(ctx context.Context, userID, bookID string, qty int) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(bookID) == "" {
		return domain.Cart{}, domain.ValidationError("bookId required")
	}
	if qty < 1 {
		return domain.Cart{}, domain.ValidationError("qty must be at least 1")
	}
	return a.store.SetCartItemQuantity(ctx, userID, bookID, qty)
}

// RemoveFromCart deletes a line.
func (a *App) RemoveFromCart(ctx context.Context, userID, bookID string) (domain.Cart, error) {
	if userID == "" {
		return domain.Cart{}, domain.ErrUnauthorized
	}
	if strings.TrimSpace(bookID) == "" {
		return domain.Cart{}, domain.ValidationError("bookId required")
	}
	return a.store.RemoveCartItem(ctx, userID, bookID)
}

// CheckoutResult is the pending order and the provider page to redirect to.
type CheckoutResult struct {
	OrderID string `json:"id"`
	URL     string `json:"url"`
}

// Checkout opens a hosted payment session for the cart and records a
// pending order with the prices charged.
func (a *App) Checkout(ctx context.Context, user domain.User) (CheckoutResult, error) {
	if user.ID == "" {
		return CheckoutResult{}, domain.ErrUnauthorized
	}
	cart, err := a.store.GetCart(ctx, user.ID)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("load cart: %w", err)
	}
	currency := ""
	req := payment.CheckoutRequest{
		CustomerEmail:   user.Email,
		SuccessURL:      a.publicBaseURL + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:       a.publicBaseURL + "/checkout/cancel",
		ClientReference: user.ID,
	}
	var (
		lines []domain.CheckoutLine
		items []domain.OrderItem
		total int64
	)
	for _, item := range cart.Items {
		if item.Book == nil || item.Quantity < 1 {
			continue
		}
		book := item.Book
		if currency == "" {
			currency = strings.ToUpper(book.Currency)
		}
		req.Items = append(req.Items, payment.LineItem{
			Name:      book.Title,
			ImageURL:  book.CoverURL,
			UnitCents: book.PriceCents,
			Currency:  currencyOr(book.Currency),
			Quantity:  item.Quantity,
		})
		lines = append(lines, domain.CheckoutLine{
			BookID:    book.ID,
			Title:     book.Title,
			ImageURL:  book.CoverURL,
			UnitCents: book.PriceCents,
			Quantity:  item.Quantity,
		})
		items = append(items, domain.OrderItem{BookID: book.ID, Quantity: item.Quantity, UnitCents: book.PriceCents})
		total += book.PriceCents * int64(item.Quantity)
	}
	if len(req.Items) == 0 {
		return CheckoutResult{}, domain.ValidationError("cart empty")
	}

	session, err := a.payments.CreateCheckout(ctx, req)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("%w: create checkout: %v", domain.ErrUpstream, err)
	}
	order, err := a.store.CreateOrder(ctx, domain.Order{
		UserID:           user.ID,
		Status:           domain.OrderPending,
		TotalCents:       total,
		Currency:         currencyOr(currency),
		PaymentSessionID: session.ID,
		Items:            items,
		Lines:            lines,
	})
	if err != nil {
		logger := util.LoggerFromContext(ctx)
		if expErr := a.payments.ExpireCheckout(context.WithoutCancel(ctx), session.ID); expErr != nil {
			logger.Error("orphaned checkout session", "session_id", session.ID, "user_id", user.ID, "err", expErr)
		} else {
			logger.Warn("checkout session expired after order insert failed", "session_id", session.ID, "user_id", user.ID)
		}
		return CheckoutResult{}, fmt.Errorf("create order: %w", err)
	}
	util.LoggerFromContext(ctx).Info("checkout created", "order_id", order.ID, "user_id", user.ID, "total_cents", total)
	return CheckoutResult{OrderID: order.ID, URL: session.URL}, nil
}

// PurchasedBook is the minimal book view returned after payment.
type PurchasedBook struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	FileURL string `json:"fileUrl,omitempty"`
}

// PurchasedItem is one paid line.
type PurchasedItem struct {
	ID   string        `json:"id"`
	Book PurchasedBook `json:"book"`
}

// VerifyResult reports whether the session was paid.
type VerifyResult struct {
	OK    bool            `json:"ok"`
	Items []PurchasedItem `json:"items,omitempty"`
}

// VerifyCheckout asks the provider for the session status and marks the
// order paid. Repeated calls for a paid session are no-ops beyond returning
// the items; the cart is cleared and prefetch queued only on the transition.
func (a *App) VerifyCheckout(ctx context.Context, sessionID string) (VerifyResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return VerifyResult{}, domain.ValidationError("session_id required")
	}
	session, err := a.payments.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			return VerifyResult{}, domain.ErrNotFound
		}
		return VerifyResult{}, fmt.Errorf("%w: get session: %v", domain.ErrUpstream, err)
	}
	if !session.Paid {
		return VerifyResult{OK: false}, nil
	}
	order, transitioned, err := a.store.MarkOrderPaid(ctx, sessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	log := util.LoggerFromContext(ctx).With("order_id", order.ID, "user_id", order.UserID)
	if transitioned {
		log.Info("order paid")
		if err := a.store.ClearCart(ctx, order.UserID); err != nil {
			log.Warn("clear cart after payment failed", "err", err)
		}
		a.schedulePrefetch(ctx, order)
	}

	out := VerifyResult{OK: true, Items: make([]PurchasedItem, 0, len(order.Items))}
	for _, item := range order.Items {
		pi := PurchasedItem{ID: item.ID, Book: PurchasedBook{ID: item.BookID}}
		if item.Book != nil {
			pi.Book.Title = item.Book.Title
			if item.Book.File.Kind == domain.FileDownload {
				pi.Book.FileURL = item.Book.File.URL
			}
		}
		out.Items = append(out.Items, pi)
	}
	return out, nil
}

func (a *App) schedulePrefetch(ctx context.Context, order domain.Order) {
	if a.prefetch == nil {
		return
	}
	log := util.LoggerFromContext(ctx)
	for _, item := range order.Items {
		if item.Book != nil && item.Book.File.IsSet() {
			continue
		}
		job, created, err := a.prefetch.Enqueue(ctx, item.BookID, order.ID)
		if err != nil {
			log.Warn("enqueue prefetch failed", "book_id", item.BookID, "err", err)
			continue
		}
		if created {
			log.Info("prefetch queued", "book_id", item.BookID, "job_id", job.ID)
		}
	}
}

func currencyOr(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return defaultCurrency
	}
	return c
}
