package booking

import "strings"

// Principal is the caller's proof of ownership. A nil Principal is an anonymous caller.
type Principal interface {
	isPrincipal()
}

// GuestCode proves ownership of a guest booking by its access code.
// Email is only used by the guest listing.
type GuestCode struct {
	Email string
	Code  string
}

// UserSession proves ownership of bookings created while signed in.
type UserSession struct {
	UserID string
	Email  string
}

func (GuestCode) isPrincipal()   {}
func (UserSession) isPrincipal() {}

// owns reports whether p is the original requester of b.
func owns(b *BookingRequest, p Principal) bool {
	switch p := p.(type) {
	case GuestCode:
		return b.Requester.Kind == RequesterGuest && codesEqual(p.Code, b.Requester.AccessCode)
	case UserSession:
		return b.Requester.Kind == RequesterAuthenticated && p.UserID != "" && b.Requester.UserID == p.UserID
	default:
		return false
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
