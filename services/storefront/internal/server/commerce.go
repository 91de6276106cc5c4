package server

import (
	"net/http"

	"bookstore/pkg/domain"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	user, err := s.app.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		s.audit(r, "signup", "failure", "reason", err.Error())
		writeAppError(w, r, err, "not found")
		return
	}
	s.audit(r, "signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type cartRequest struct {
	BookID string `json:"bookId"`
	Qty    int    `json:"qty"`
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method == http.MethodGet {
		cart, err := s.app.GetCart(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
		writeJSON(w, http.StatusOK, cart)
		return
	}

	var req cartRequest
	switch r.Method {
	case http.MethodPost, http.MethodPatch, http.MethodDelete:
		if err := decodeJSON(r, &req); err != nil {
			writeAppError(w, r, err, "not found")
			return
		}
	default:
		methodNotAllowed(w)
		return
	}

	var (
		cart domain.Cart
		err  error
	)
	switch r.Method {
	case http.MethodPost:
		cart, err = s.app.AddToCart(r.Context(), user.ID, req.BookID, req.Qty)
	case http.MethodPatch:
		cart, err = s.app.UpdateCartItem(r.Context(), user.ID, req.BookID, req.Qty)
	case http.MethodDelete:
		cart, err = s.app.RemoveFromCart(r.Context(), user.ID, req.BookID)
	}
	if err != nil {
		msg := "cart item not found"
		if r.Method == http.MethodPost {
			msg = "book not found"
		}
		writeAppError(w, r, err, msg)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.app.Checkout(r.Context(), user)
	if err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, r, err, "not found")
		return
	}
	res, err := s.app.VerifyCheckout(r.Context(), req.SessionID)
	if err != nil {
		writeAppError(w, r, err, "order not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}
