package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newStripeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			if err := r.ParseForm(); err != nil {
				t.Errorf("parse form: %v", err)
			}
			want := map[string]string{
				"mode":                                   "payment",
				"customer_email":                         "reader@example.com",
				"line_items[0][quantity]":                "2",
				"line_items[0][price_data][currency]":    "usd",
				"line_items[0][price_data][unit_amount]": "1999",
				"line_items[0][price_data][product_data][name]": "Dune",
			}
			for k, v := range want {
				if got := r.PostForm.Get(k); got != v {
					t.Errorf("form %s = %q, want %q", k, got, v)
				}
			}
			fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","url":"https://pay.example/cs_1","payment_status":"unpaid","status":"open"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions/cs_1/expire":
			fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","payment_status":"unpaid","status":"expired"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_1":
			fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","payment_status":"paid","status":"complete"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStripeProviderCreateAndGet(t *testing.T) {
	srv := newStripeBackend(t)
	p, err := NewStripeProvider(StripeConfig{SecretKey: "sk_test_x", BackendURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	s, err := p.CreateCheckout(ctx, CheckoutRequest{
		Items:         []LineItem{{Name: "Dune", UnitCents: 1999, Currency: "USD", Quantity: 2}},
		CustomerEmail: "reader@example.com",
		SuccessURL:    "https://shop.example/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://shop.example/checkout/cancel",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if s.ID != "cs_1" || s.URL != "https://pay.example/cs_1" || s.Paid {
		t.Fatalf("unexpected session: %+v", s)
	}

	got, err := p.GetSession(ctx, "cs_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Paid || got.Status != "complete" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := p.GetSession(ctx, "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if err := p.ExpireCheckout(ctx, "cs_1"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if err := p.ExpireCheckout(ctx, "cs_missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on expire, got %v", err)
	}
}

func TestStripeProviderValidates(t *testing.T) {
	if _, err := NewStripeProvider(StripeConfig{}); err == nil {
		t.Fatalf("expected missing key to fail")
	}
	p, err := NewStripeProvider(StripeConfig{SecretKey: "sk_test_x", BackendURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.CreateCheckout(context.Background(), CheckoutRequest{SuccessURL: "a", CancelURL: "b"}); err == nil {
		t.Fatalf("expected empty checkout to fail")
	}
}

func TestFakeProviderLifecycle(t *testing.T) {
	f := NewFakeProvider("https://pay.local")
	s, err := f.CreateCheckout(context.Background(), CheckoutRequest{
		Items:      []LineItem{{Name: "Dune", UnitCents: 100, Quantity: 1}},
		SuccessURL: "a",
		CancelURL:  "b",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, _ := f.GetSession(context.Background(), s.ID); got.Paid {
		t.Fatalf("new session should be unpaid")
	}
	f.MarkPaid(s.ID)
	if got, _ := f.GetSession(context.Background(), s.ID); !got.Paid {
		t.Fatalf("session should be paid")
	}
	if _, err := f.GetSession(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := f.ExpireCheckout(context.Background(), s.ID); err == nil {
		t.Fatalf("paid session must not expire")
	}

	open, err := f.CreateCheckout(context.Background(), CheckoutRequest{
		Items:      []LineItem{{Name: "Emma", UnitCents: 100, Quantity: 1}},
		SuccessURL: "a",
		CancelURL:  "b",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := f.ExpireCheckout(context.Background(), open.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if got, _ := f.GetSession(context.Background(), open.ID); got.Status != "expired" {
		t.Fatalf("expected expired status, got %q", got.Status)
	}
}
