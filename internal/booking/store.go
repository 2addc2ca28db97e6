package booking

import (
	"context"

	"github.com/google/uuid"

	"clinicbooking/internal/events"
	"clinicbooking/internal/review"
)

// Store persists bookings. Writes are compare-and-swap on BookingRequest.Version.
type Store interface {
	// Create inserts a new booking with its first history entry.
	// Returns ErrAccessCodeTaken when the guest access code collides.
	Create(ctx context.Context, b *BookingRequest, ev events.Event) error
	// Get returns ErrBookingNotFound for unknown ids.
	Get(ctx context.Context, id uuid.UUID) (*BookingRequest, error)
	ListByUser(ctx context.Context, userID string, f Filter) ([]BookingRequest, int, error)
	// ListByGuestEmail matches guest bookings by email, case-insensitively.
	ListByGuestEmail(ctx context.Context, email string) ([]BookingRequest, error)
	// List returns all bookings oldest first.
	List(ctx context.Context, f Filter) ([]BookingRequest, int, error)
	StatusCounts(ctx context.Context) (map[Status]int, error)

	// ApplyTransition stores next, whose last history entry is the new one, provided the
	// stored version still equals expectedVersion. Otherwise it returns ErrConflict.
	ApplyTransition(ctx context.Context, next *BookingRequest, expectedVersion int, ev events.Event) error

	HasReview(ctx context.Context, bookingID uuid.UUID, requesterKey string) (bool, error)
	// CreateReview inserts rv and bumps the booking version, provided the booking is still
	// confirmed at expectedVersion (ErrConflict otherwise). A second review by the same
	// requester returns ErrAlreadyReviewed.
	CreateReview(ctx context.Context, rv review.Review, expectedVersion int, ev events.Event) error

	ListEvents(ctx context.Context, bookingID uuid.UUID) ([]events.Event, error)
}
