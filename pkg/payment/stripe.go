package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeConfig configures the Stripe provider. BackendURL overrides the API
// host and is only set by tests.
type StripeConfig struct {
	SecretKey  string
	BackendURL string
	HTTPClient *http.Client
}

// StripeProvider implements Provider with Stripe Checkout.
type StripeProvider struct {
	api *client.API
}

func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		return nil, errors.New("stripe secret key required")
	}
	var backends *stripe.Backends
	if cfg.BackendURL != "" || cfg.HTTPClient != nil {
		backendCfg := &stripe.BackendConfig{HTTPClient: cfg.HTTPClient}
		if cfg.BackendURL != "" {
			backendCfg.URL = stripe.String(cfg.BackendURL)
		}
		backends = &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}
	}
	return &StripeProvider{api: client.New(key, backends)}, nil
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (Session, error) {
	if err := validateRequest(req); err != nil {
		return Session{}, err
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	if email := strings.TrimSpace(req.CustomerEmail); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if ref := strings.TrimSpace(req.ClientReference); ref != "" {
		params.ClientReferenceID = stripe.String(ref)
	}
	for _, item := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.ImageURL != "" {
			product.Images = stripe.StringSlice([]string{item.ImageURL})
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(item.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(firstNonEmpty(item.Currency, "usd"))),
				UnitAmount:  stripe.Int64(item.UnitCents),
				ProductData: product,
			},
		})
	}
	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return Session{}, fmt.Errorf("stripe create session: %w", err)
	}
	return fromStripe(s), nil
}

func (p *StripeProvider) GetSession(ctx context.Context, sessionID string) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return Session{}, ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("stripe get session: %w", err)
	}
	return fromStripe(s), nil
}

func (p *StripeProvider) ExpireCheckout(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ErrSessionNotFound
	}
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := p.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("stripe expire session: %w", err)
	}
	return nil
}

func fromStripe(s *stripe.CheckoutSession) Session {
	return Session{
		ID:     s.ID,
		URL:    s.URL,
		Paid:   s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Status: string(s.Status),
	}
}

func firstNonEmpty(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}
