package payment

import (
	"context"
	"errors"
	"strings"
)

// LineItem is one priced cart line sent to the payment provider.
type LineItem struct {
	Name      string
	ImageURL  string
	UnitCents int64
	Currency  string
	Quantity  int
}

// CheckoutRequest describes a hosted checkout for one cart.
type CheckoutRequest struct {
	Items         []LineItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	// ClientReference ties the session back to the storefront user.
	ClientReference string
}

// Session is the provider's view of a checkout.
type Session struct {
	ID     string
	URL    string
	Paid   bool
	Status string
}

// Provider creates and inspects hosted checkout sessions.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// ExpireCheckout closes an unpaid session so it can no longer be paid.
	ExpireCheckout(ctx context.Context, sessionID string) error
}

// ErrSessionNotFound is returned when the provider does not know a session.
var ErrSessionNotFound = errors.New("payment session not found")

func validateRequest(req CheckoutRequest) error {
	if len(req.Items) == 0 {
		return errors.New("checkout requires at least one item")
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" || item.UnitCents < 0 || item.Quantity < 1 {
			return errors.New("checkout item requires name, price and quantity")
		}
	}
	if strings.TrimSpace(req.SuccessURL) == "" || strings.TrimSpace(req.CancelURL) == "" {
		return errors.New("checkout requires success and cancel urls")
	}
	return nil
}
