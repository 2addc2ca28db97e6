package booking

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"clinicbooking/internal/events"
	"clinicbooking/internal/review"
)

// memStore is an in-memory Store with the same compare-and-swap rules as PgStore.
type memStore struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*BookingRequest
	codes    map[string]uuid.UUID
	reviews  map[string]review.Review
	events   map[uuid.UUID][]events.Event

	// onGet runs after every Get has read its copy, outside the lock.
	onGet func()
	// beforeApply runs under the lock at the start of ApplyTransition.
	beforeApply func(m *memStore, id uuid.UUID)
}

func newMemStore() *memStore {
	return &memStore{
		bookings: map[uuid.UUID]*BookingRequest{},
		codes:    map[string]uuid.UUID{},
		reviews:  map[string]review.Review{},
		events:   map[uuid.UUID][]events.Event{},
	}
}

func (m *memStore) Create(_ context.Context, b *BookingRequest, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if code := b.Requester.AccessCode; code != "" {
		if _, taken := m.codes[code]; taken {
			return ErrAccessCodeTaken
		}
		m.codes[code] = b.ID
	}
	m.bookings[b.ID] = b.clone()
	m.events[b.ID] = append(m.events[b.ID], ev)
	return nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (*BookingRequest, error) {
	m.mu.Lock()
	b, ok := m.bookings[id]
	var out *BookingRequest
	if ok {
		out = b.clone()
	}
	m.mu.Unlock()

	if m.onGet != nil {
		m.onGet()
	}
	if !ok {
		return nil, ErrBookingNotFound
	}
	return out, nil
}

func (m *memStore) all(keep func(*BookingRequest) bool) []BookingRequest {
	var out []BookingRequest
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, *b.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func paginate(items []BookingRequest, f Filter) ([]BookingRequest, int) {
	total := len(items)
	start := min(f.Offset(), total)
	end := min(start+f.Limit, total)
	return items[start:end], total
}

func (m *memStore) ListByUser(_ context.Context, userID string, f Filter) ([]BookingRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.all(func(b *BookingRequest) bool {
		return b.Requester.Kind == RequesterAuthenticated && b.Requester.UserID == userID &&
			(f.Status == "" || b.Status == f.Status)
	})
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	page, total := paginate(items, f)
	return page, total, nil
}

func (m *memStore) ListByGuestEmail(_ context.Context, email string) ([]BookingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.all(func(b *BookingRequest) bool {
		return b.Requester.Kind == RequesterGuest && normalizeEmail(b.Requester.Email) == normalizeEmail(email)
	}), nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]BookingRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.all(func(b *BookingRequest) bool { return f.Status == "" || b.Status == f.Status })
	page, total := paginate(items, f)
	return page, total, nil
}

func (m *memStore) StatusCounts(context.Context) (map[Status]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[Status]int{}
	for _, b := range m.bookings {
		out[b.Status]++
	}
	return out, nil
}

func (m *memStore) ApplyTransition(_ context.Context, next *BookingRequest, expectedVersion int, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.beforeApply != nil {
		m.beforeApply(m, next.ID)
	}
	cur, ok := m.bookings[next.ID]
	if !ok {
		return ErrBookingNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	stored := next.clone()
	stored.Version = expectedVersion + 1
	m.bookings[next.ID] = stored
	m.events[next.ID] = append(m.events[next.ID], ev)
	return nil
}

func reviewKey(id uuid.UUID, requester string) string { return id.String() + "|" + requester }

func (m *memStore) HasReview(_ context.Context, id uuid.UUID, requester string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reviews[reviewKey(id, requester)]
	return ok, nil
}

func (m *memStore) CreateReview(_ context.Context, rv review.Review, expectedVersion int, ev events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[rv.BookingID]
	if !ok || b.Version != expectedVersion || b.Status != StatusConfirmed {
		return ErrConflict
	}
	k := reviewKey(rv.BookingID, rv.RequesterKey)
	if _, dup := m.reviews[k]; dup {
		return ErrAlreadyReviewed
	}
	m.reviews[k] = rv
	b.Version++
	m.events[rv.BookingID] = append(m.events[rv.BookingID], ev)
	return nil
}

func (m *memStore) ListEvents(_ context.Context, id uuid.UUID) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event{}, m.events[id]...), nil
}

var _ Store = (*memStore)(nil)
var _ Store = (*PgStore)(nil)
