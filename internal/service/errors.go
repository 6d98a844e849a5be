package service

import (
	"errors"
	"fmt"
	"time"

	"lumen.app/studio/internal/store"
)

var (
	// ErrNotFound is store.ErrNotFound, so either can be matched with errors.Is.
	ErrNotFound = store.ErrNotFound

	ErrValidation        = errors.New("validation failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInFlightLimit     = errors.New("too many generations in progress")
	ErrInvalidTransition = errors.New("generation is not in a state that allows this action")
	ErrRetryLimit        = errors.New("retry limit reached")
	ErrNotRetryable      = errors.New("generation cannot be retried")
	ErrUnavailable       = errors.New("feature not configured")
	ErrUnauthorized      = errors.New("unauthorized")
)

// ValidationError names the offending field. Message is fixed text and never echoes input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
