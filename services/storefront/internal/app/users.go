package app

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"bookstore/internal/util"
	"bookstore/pkg/auth"
	"bookstore/pkg/domain"
)

// SignUp registers a customer account with a hashed password.
func (a *App) SignUp(ctx context.Context, name, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return domain.User{}, domain.ValidationError("email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, domain.ValidationError("invalid email")
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, err
	}
	if _, exists, err := a.store.GetUserByEmail(ctx, email); err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	} else if exists {
		return domain.User{}, domain.ValidationError("email is already in use")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           util.NewID(),
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleCustomer,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.User{}, domain.ValidationError("email is already in use")
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user signed up", "user_id", user.ID)
	return user, nil
}
