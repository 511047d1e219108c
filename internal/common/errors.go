package common

import (
	"errors"
	"net/http"
)

// Error kinds. Every error returned by services unwraps to exactly one of these.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("resource not found")
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("conflict")
	ErrTransient       = errors.New("temporarily unavailable")
	ErrRateLimited     = errors.New("rate limited")

	// Auth errors
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Error attaches a user-facing message to an error kind
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// ErrLastAdmin is returned when removing the only admin of an active group
var ErrLastAdmin = &Error{Kind: ErrValidation, Message: "cannot remove the last admin of a group"}

func Unauthenticated(msg string) error { return &Error{Kind: ErrUnauthenticated, Message: msg} }
func Forbidden(msg string) error       { return &Error{Kind: ErrForbidden, Message: msg} }
func NotFound(msg string) error        { return &Error{Kind: ErrNotFound, Message: msg} }
func Validation(msg string) error      { return &Error{Kind: ErrValidation, Message: msg} }

// Transient wraps a storage or collaborator failure
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrTransient, Err: err}
}

// Code returns the wire error code for err
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrExpiredToken):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_FAILED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	default:
		return "TRANSIENT"
	}
}

// HTTPStatus maps an error kind to a response status
func HTTPStatus(err error) int {
	switch Code(err) {
	case "UNAUTHENTICATED":
		return http.StatusUnauthorized
	case "FORBIDDEN":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "VALIDATION_FAILED":
		return http.StatusBadRequest
	case "CONFLICT":
		return http.StatusConflict
	case "RATE_LIMITED":
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// PublicMessage returns the message safe to show a client
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	if Code(err) == "TRANSIENT" {
		return ErrTransient.Error()
	}
	return err.Error()
}
