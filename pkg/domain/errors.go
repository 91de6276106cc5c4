package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUpstreamTimeout    = errors.New("upstream timeout")
	ErrUpstream           = errors.New("upstream error")
	ErrDownloadFailed     = errors.New("download failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrConflict           = errors.New("conflict")
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// ValidationError returns an error carrying a user-facing message that
// matches ErrValidation.
func ValidationError(format string, args ...any) error {
	return &validationError{msg: fmt.Sprintf(format, args...)}
}

// UpstreamError describes a non-success reply from an external service.
type UpstreamError struct {
	Service string
	Status  int
	Body    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Service, e.Status)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }
