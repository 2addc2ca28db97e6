package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrUnauthorized           = errors.New("cannot access this booking")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrIncompleteConfirmation = errors.New("incomplete confirmation")
	ErrNotEligible            = errors.New("not eligible to review this booking")
	ErrConflict               = errors.New("booking was modified concurrently, please retry")
	ErrUnavailable            = errors.New("a dependent service is unavailable")
	ErrRateLimited            = errors.New("too many attempts")

	// ErrAccessCodeTaken is returned by Store.Create when the generated code collides.
	ErrAccessCodeTaken = errors.New("access code already in use")
	// ErrAlreadyReviewed is returned by Store.CreateReview on a duplicate (booking, requester).
	ErrAlreadyReviewed = errors.New("booking already reviewed")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move booking from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type IncompleteConfirmationError struct {
	Missing []string
}

func (e *IncompleteConfirmationError) Error() string {
	return "confirmed option is missing " + strings.Join(e.Missing, ", ")
}

func (e *IncompleteConfirmationError) Is(target error) bool { return target == ErrIncompleteConfirmation }

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
