package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// FakeProvider is an in-memory Provider for local runs and tests. Sessions
// start unpaid until MarkPaid is called.
type FakeProvider struct {
	BaseURL string

	mu       sync.Mutex
	next     int
	sessions map[string]Session
	requests map[string]CheckoutRequest
}

func NewFakeProvider(baseURL string) *FakeProvider {
	return &FakeProvider{
		BaseURL:  baseURL,
		sessions: make(map[string]Session),
		requests: make(map[string]CheckoutRequest),
	}
}

func (f *FakeProvider) CreateCheckout(_ context.Context, req CheckoutRequest) (Session, error) {
	if err := validateRequest(req); err != nil {
		return Session{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("cs_test_%d", f.next)
	s := Session{ID: id, URL: f.BaseURL + "/pay/" + id, Status: "open"}
	f.sessions[id] = s
	f.requests[id] = req
	return s, nil
}

func (f *FakeProvider) GetSession(_ context.Context, sessionID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (f *FakeProvider) ExpireCheckout(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Paid {
		return errors.New("paid sessions cannot be expired")
	}
	s.Status = "expired"
	f.sessions[sessionID] = s
	return nil
}

// MarkPaid completes a session as if the customer paid.
func (f *FakeProvider) MarkPaid(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.Paid = true
		s.Status = "complete"
		f.sessions[sessionID] = s
	}
}

// Request returns what was sent for a session.
func (f *FakeProvider) Request(sessionID string) (CheckoutRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[sessionID]
	return req, ok
}
