package booking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"clinicbooking/internal/clinic"
	"clinicbooking/internal/events"
	"clinicbooking/internal/guard"
	"clinicbooking/internal/review"
)

const testClinicID = "clinic-gangnam-1"

type fakeDirectory struct {
	err error
}

func (d fakeDirectory) Get(_ context.Context, id string) (*clinic.Clinic, error) {
	if d.err != nil {
		return nil, d.err
	}
	if id != testClinicID {
		return nil, clinic.ErrNotFound
	}
	return &clinic.Clinic{
		ID:    testClinicID,
		Name:  clinic.LocalizedString{En: "Gangnam Smile Clinic", Ja: "江南スマイルクリニック", Zh: "江南微笑诊所"},
		City:  "seoul",
		Phone: "+82-2-555-0100",
	}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	store *memStore
	clock *clock
	dir   *fakeDirectory
}

// Monday 2025-06-02 10:00 in Seoul.
var monday10KST = time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		clock: &clock{t: monday10KST},
		dir:   &fakeDirectory{},
	}
	g := guard.NewMemoryGuard(guard.Policy{MaxAttempts: 5, Window: 15 * time.Minute, BaseLockout: time.Minute, MaxLockout: time.Hour}).
		WithClock(f.clock.Now)
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	f.svc = NewService(f.store, directoryFunc(func(ctx context.Context, id string) (*clinic.Clinic, error) {
		return f.dir.Get(ctx, id)
	}), g, DefaultSLAPolicy(), zap.NewNop(), opts...)
	return f
}

type directoryFunc func(ctx context.Context, id string) (*clinic.Clinic, error)

func (fn directoryFunc) Get(ctx context.Context, id string) (*clinic.Clinic, error) { return fn(ctx, id) }

func (f *fixture) createGuest(t *testing.T, email string) *BookingRequest {
	t.Helper()
	b, err := f.svc.CreateBookingRequest(context.Background(), nil, CreateInput{
		ClinicID:      testClinicID,
		Procedure:     "Rhinoplasty (Nose)",
		PreferredDate: "2025-06-01",
		GuestEmail:    email,
	})
	require.NoError(t, err)
	return b
}

func (f *fixture) transition(t *testing.T, id uuid.UUID, in TransitionInput) *BookingRequest {
	t.Helper()
	f.clock.Advance(time.Minute)
	b, err := f.svc.TransitionStatus(context.Background(), id, in, Actor{ID: "ops:1"})
	require.NoError(t, err)
	return b
}

func price(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func morning() *ConfirmedOption {
	return &ConfirmedOption{Date: "2025-06-03", TimeSlot: "Morning", Price: price(500000)}
}

func (f *fixture) toProposed(t *testing.T, id uuid.UUID) {
	t.Helper()
	f.transition(t, id, TransitionInput{Status: StatusContactingHospital})
	f.transition(t, id, TransitionInput{
		Status:          StatusProposedOptions,
		ProposedOptions: []ProposedOption{{Date: "2025-06-03", TimeSlot: "Morning", Price: price(500000)}},
	})
}

func TestLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.createGuest(t, "a@x.com")
	assert.Equal(t, StatusReceived, b.Status)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{8}$`), b.Requester.AccessCode)
	require.Len(t, b.StatusHistory, 1)
	assert.Equal(t, StatusReceived, b.StatusHistory[0].Status)
	guest := GuestCode{Code: b.Requester.AccessCode}

	b = f.transition(t, b.ID, TransitionInput{
		Status:          StatusProposedOptions,
		ProposedOptions: []ProposedOption{{Date: "2025-06-03", TimeSlot: "Morning", Price: price(500000)}},
	})
	assert.Equal(t, StatusProposedOptions, b.Status)
	assert.Len(t, b.StatusHistory, 2)

	b = f.transition(t, b.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: morning()})
	assert.Equal(t, StatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedOption)
	assert.True(t, b.ConfirmedOption.Price.Equal(price(500000)))

	can, err := f.svc.CanReviewBooking(ctx, b.ID, guest)
	require.NoError(t, err)
	assert.True(t, can)

	rv, err := f.svc.CreateReview(ctx, b.ID, guest, review.Input{Rating: 5, Title: "Great", Content: "Loved it"})
	require.NoError(t, err)
	assert.Equal(t, testClinicID, rv.ClinicID)
	assert.True(t, rv.IsVerified)

	can, err = f.svc.CanReviewBooking(ctx, b.ID, guest)
	require.NoError(t, err)
	assert.False(t, can)

	_, err = f.svc.CreateReview(ctx, b.ID, guest, review.Input{Rating: 5, Title: "Great", Content: "Loved it"})
	assert.ErrorIs(t, err, ErrNotEligible)

	evs, err := f.svc.Events(ctx, b.ID)
	require.NoError(t, err)
	var types []string
	for _, e := range evs {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{events.TypeCreated, events.TypeTransition, events.TypeTransition, events.TypeReviewed}, types)
}

func TestTransitionStatus_HistoryIsMonotonic(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())

	f.transition(t, b.ID, TransitionInput{Status: StatusContactingHospital})
	// A clock that steps backwards must not reorder the ledger.
	f.clock.Advance(-time.Hour)
	got, err := f.svc.TransitionStatus(context.Background(), b.ID, TransitionInput{Status: StatusNeedsMoreInfo, Note: "need photos"}, Actor{ID: "ops:1"})
	require.NoError(t, err)

	require.Len(t, got.StatusHistory, 3)
	for i := 1; i < len(got.StatusHistory); i++ {
		assert.False(t, got.StatusHistory[i].ChangedAt.Before(got.StatusHistory[i-1].ChangedAt))
	}
	assert.Equal(t, StatusReceived, got.StatusHistory[0].Status)
	assert.Equal(t, "need photos", got.StatusHistory[2].Note)
	assert.Equal(t, got.StatusHistory[2].ChangedAt, got.UpdatedAt)
}

func TestTransitionStatus_ConfirmationCompleteness(t *testing.T) {
	cases := []struct {
		name    string
		option  *ConfirmedOption
		missing []string
	}{
		{"no option", nil, []string{"date", "timeSlot", "price"}},
		{"no date", &ConfirmedOption{TimeSlot: "Morning", Price: price(1)}, []string{"date"}},
		{"no slot", &ConfirmedOption{Date: "2025-06-03", Price: price(1)}, []string{"timeSlot"}},
		{"zero price", &ConfirmedOption{Date: "2025-06-03", TimeSlot: "Morning"}, []string{"price"}},
		{"negative price", &ConfirmedOption{Date: "2025-06-03", TimeSlot: "Morning", Price: price(-5)}, []string{"price"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			b := f.createGuest(t, gofakeit.Email())
			f.toProposed(t, b.ID)

			_, err := f.svc.TransitionStatus(context.Background(), b.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: tc.option}, Actor{ID: "ops:1"})
			require.ErrorIs(t, err, ErrIncompleteConfirmation)
			var ic *IncompleteConfirmationError
			require.ErrorAs(t, err, &ic)
			assert.Equal(t, tc.missing, ic.Missing)

			stored, err := f.store.Get(context.Background(), b.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusProposedOptions, stored.Status)
			assert.Len(t, stored.StatusHistory, 3)
			assert.Nil(t, stored.ConfirmedOption)
		})
	}
}

func TestTransitionStatus_RejectsIllegalEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())

	_, err := f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: morning()}, Actor{ID: "ops:1"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusReceived, te.From)
	assert.Equal(t, StatusConfirmed, te.To)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusReceived}, Actor{ID: "ops:1", CanForce: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: "archived"}, Actor{ID: "ops:1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.TransitionStatus(ctx, uuid.New(), TransitionInput{Status: StatusCancelled}, Actor{ID: "ops:1"})
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestTransitionStatus_OptionPayloadMustMatchTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())
	actor := Actor{ID: "ops:1"}

	_, err := f.svc.TransitionStatus(ctx, b.ID, TransitionInput{
		Status:          StatusContactingHospital,
		ProposedOptions: []ProposedOption{{Date: "2025-06-03", TimeSlot: "AM", Price: price(1)}},
	}, actor)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusCancelled, ConfirmedOption: morning()}, actor)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusProposedOptions}, actor)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "proposedOptions", ve.Field)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{
		Status:          StatusProposedOptions,
		ProposedOptions: []ProposedOption{{Date: "2025-06-03", TimeSlot: "AM", Price: price(0)}},
	}, actor)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "proposedOptions[0].price", ve.Field)
}

func TestTransitionStatus_ProposalsRetainedUntilSuperseded(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())
	f.toProposed(t, b.ID)

	got := f.transition(t, b.ID, TransitionInput{Status: StatusNeedsMoreInfo})
	require.Len(t, got.ProposedOptions, 1)

	f.transition(t, b.ID, TransitionInput{Status: StatusContactingHospital})
	got = f.transition(t, b.ID, TransitionInput{
		Status: StatusProposedOptions,
		ProposedOptions: []ProposedOption{
			{Date: "2025-06-10", TimeSlot: "Afternoon", Price: price(450000)},
			{Date: "2025-06-11", TimeSlot: "Morning", Price: price(470000), Note: "senior surgeon"},
		},
	})
	require.Len(t, got.ProposedOptions, 2)
	assert.Equal(t, "2025-06-10", got.ProposedOptions[0].Date)
}

func TestTransitionStatus_ConfirmedOptionSurvivesCancellation(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())
	f.toProposed(t, b.ID)
	f.transition(t, b.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: morning()})

	got := f.transition(t, b.ID, TransitionInput{Status: StatusCancelled, Note: "patient cancelled"})
	assert.Equal(t, StatusCancelled, got.Status)
	require.NotNil(t, got.ConfirmedOption)
	assert.Equal(t, "Morning", got.ConfirmedOption.TimeSlot)
}

func TestTransitionStatus_Force(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())
	f.transition(t, b.ID, TransitionInput{Status: StatusCancelled})

	_, err := f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusContactingHospital}, Actor{ID: "ops:2", CanForce: true})
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusContactingHospital, Force: true}, Actor{ID: "ops:1"})
	require.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusContactingHospital, Note: "patient called back", Force: true}, Actor{ID: "ops:admin", CanForce: true})
	require.NoError(t, err)
	last := got.StatusHistory[len(got.StatusHistory)-1]
	assert.True(t, last.Forced)
	assert.Equal(t, "forced override: patient called back", last.Note)

	evs, err := f.svc.Events(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, events.TypeForced, evs[len(evs)-1].EventType)
	assert.Equal(t, "ops:admin", evs[len(evs)-1].Actor)

	// Force on a legal edge is an ordinary transition.
	got, err = f.svc.TransitionStatus(ctx, b.ID, TransitionInput{Status: StatusNeedsMoreInfo, Force: true}, Actor{ID: "ops:admin", CanForce: true})
	require.NoError(t, err)
	assert.False(t, got.StatusHistory[len(got.StatusHistory)-1].Forced)
}

func TestTransitionStatus_ConcurrentTransitionsOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())
	f.toProposed(t, b.ID)
	before, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)

	// Hold the first read until the second arrives so both act on the same version.
	var gets int32
	ready := make(chan struct{})
	f.store.onGet = func() {
		switch atomic.AddInt32(&gets, 1) {
		case 1:
			<-ready
		case 2:
			close(ready)
		}
	}

	inputs := []TransitionInput{
		{Status: StatusConfirmed, ConfirmedOption: morning()},
		{Status: StatusCancelled},
	}
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in TransitionInput) {
			defer wg.Done()
			_, errs[i] = f.svc.TransitionStatus(ctx, b.ID, in, Actor{ID: fmt.Sprintf("ops:%d", i)})
		}(i, in)
	}
	wg.Wait()
	f.store.onGet = nil

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	after, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, after.StatusHistory, len(before.StatusHistory)+1)
	assert.Equal(t, before.Version+1, after.Version)
}

func TestTransitionStatus_RetriesWhenOnlyVersionMoved(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())

	bumped := false
	f.store.beforeApply = func(m *memStore, id uuid.UUID) {
		if !bumped {
			bumped = true
			m.bookings[id].Version++
		}
	}
	got, err := f.svc.TransitionStatus(context.Background(), b.ID, TransitionInput{Status: StatusContactingHospital}, Actor{ID: "ops:1"})
	require.NoError(t, err)
	assert.Equal(t, StatusContactingHospital, got.Status)
	assert.Len(t, got.StatusHistory, 2)
}

func TestTransitionStatus_SecondCollisionIsConflict(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())

	f.store.beforeApply = func(m *memStore, id uuid.UUID) { m.bookings[id].Version++ }
	_, err := f.svc.TransitionStatus(context.Background(), b.ID, TransitionInput{Status: StatusContactingHospital}, Actor{ID: "ops:1"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGetBookingRequest_AccessCodeIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createGuest(t, gofakeit.Email())
	b := f.createGuest(t, gofakeit.Email())

	_, err := f.svc.GetBookingRequest(ctx, a.ID, GuestCode{Code: b.Requester.AccessCode})
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := f.svc.GetBookingRequest(ctx, a.ID, GuestCode{Code: a.Requester.AccessCode})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	// A signed-in user does not own a guest booking.
	_, err = f.svc.GetBookingRequest(ctx, a.ID, UserSession{UserID: "u1"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetBookingRequest_NotFoundOnlyWithoutCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())

	_, err := f.svc.GetBookingRequest(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrBookingNotFound)

	_, err = f.svc.GetBookingRequest(ctx, b.ID, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.GetBookingRequest(ctx, uuid.New(), GuestCode{Code: "ABCDEFGH"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetBookingRequest_LocksOutAfterRepeatedMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, gofakeit.Email())

	for i := 0; i < 5; i++ {
		_, err := f.svc.GetBookingRequest(ctx, b.ID, GuestCode{Code: "WRONG000"})
		require.ErrorIs(t, err, ErrUnauthorized)
	}

	_, err := f.svc.GetBookingRequest(ctx, b.ID, GuestCode{Code: b.Requester.AccessCode})
	require.ErrorIs(t, err, ErrRateLimited)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, time.Minute, rl.RetryAfter)

	f.clock.Advance(time.Minute + time.Second)
	_, err = f.svc.GetBookingRequest(ctx, b.ID, GuestCode{Code: b.Requester.AccessCode})
	require.NoError(t, err)
}

func TestGetBookingRequest_ConcurrentGuessesAreChargedBeforeCompare(t *testing.T) {
	f := newFixture(t)
	b := f.createGuest(t, gofakeit.Email())

	var compared atomic.Int64
	f.store.onGet = func() { compared.Add(1) }

	var (
		wg      sync.WaitGroup
		limited atomic.Int64
		start   = make(chan struct{})
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.svc.GetBookingRequest(context.Background(), b.ID, GuestCode{Code: fmt.Sprintf("WRONG%03d", i)})
			if errors.Is(err, ErrRateLimited) {
				limited.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(5), compared.Load())
	assert.Equal(t, int64(35), limited.Load())
}

func TestListMyBookingRequests_OwnCodeDoesNotClearMissesOnSharedEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	victim := f.createGuest(t, "victim@example.com")
	attacker := f.createGuest(t, "victim@example.com")

	evaluated := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < 4; i++ {
			_, err := f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "victim@example.com", Code: fmt.Sprintf("GUESS%03d", round*4+i)}, Filter{})
			if !errors.Is(err, ErrRateLimited) {
				require.ErrorIs(t, err, ErrUnauthorized)
				evaluated++
			}
		}
		_, _ = f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "victim@example.com", Code: attacker.Requester.AccessCode}, Filter{})
	}
	assert.LessOrEqual(t, evaluated, 5)

	_, err := f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "victim@example.com", Code: victim.Requester.AccessCode}, Filter{})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestListMyBookingRequests_RepeatedValidLookupsStayOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.createGuest(t, "repeat@example.com")

	for i := 0; i < 12; i++ {
		page, err := f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "repeat@example.com", Code: b.Requester.AccessCode}, Filter{})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
	}
}

func TestListMyBookingRequests_Guest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createGuest(t, "Mina@Example.com")
	f.clock.Advance(time.Minute)
	b := f.createGuest(t, "mina@example.com")
	f.createGuest(t, "other@example.com")

	page, err := f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "MINA@example.com ", Code: b.Requester.AccessCode}, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, b.ID, page.Items[0].ID)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.Limit)
	assert.Equal(t, 1, page.TotalPages)

	_, err = f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "other@example.com", Code: a.Requester.AccessCode}, Filter{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.ListMyBookingRequests(ctx, GuestCode{Email: "mina@example.com"}, Filter{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ListMyBookingRequests(ctx, nil, Filter{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestListMyBookingRequests_Session(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := UserSession{UserID: "user-42", Email: "yuki@example.jp"}

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Minute)
		b, err := f.svc.CreateBookingRequest(ctx, user, CreateInput{
			ClinicID:      testClinicID,
			Procedure:     "Double eyelid",
			PreferredDate: "2025-07-01",
			Locale:        "ja",
		})
		require.NoError(t, err)
		assert.Equal(t, RequesterAuthenticated, b.Requester.Kind)
		assert.Empty(t, b.Requester.AccessCode)
	}
	f.createGuest(t, "yuki@example.jp")

	page, err := f.svc.ListMyBookingRequests(ctx, user, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))
}

func TestCreateBookingRequest_Validation(t *testing.T) {
	neg := decimal.NewFromInt(-1)
	lo, hi := decimal.NewFromInt(900000), decimal.NewFromInt(100000)
	valid := CreateInput{ClinicID: testClinicID, Procedure: "Botox", PreferredDate: "2025-06-01", GuestEmail: "a@x.com"}

	cases := []struct {
		name  string
		edit  func(*CreateInput)
		field string
	}{
		{"missing clinic", func(in *CreateInput) { in.ClinicID = "" }, "clinicId"},
		{"unknown clinic", func(in *CreateInput) { in.ClinicID = "nope" }, "clinicId"},
		{"missing procedure", func(in *CreateInput) { in.Procedure = "  " }, "procedure"},
		{"missing date", func(in *CreateInput) { in.PreferredDate = "" }, "preferredDate"},
		{"bad date", func(in *CreateInput) { in.PreferredDate = "2025-13-01" }, "preferredDate"},
		{"missing guest email", func(in *CreateInput) { in.GuestEmail = "" }, "guestEmail"},
		{"bad guest email", func(in *CreateInput) { in.GuestEmail = "not-an-email" }, "guestEmail"},
		{"bad locale", func(in *CreateInput) { in.Locale = "fr" }, "locale"},
		{"negative budget", func(in *CreateInput) { in.Budget = &Budget{Min: &neg} }, "budget.min"},
		{"inverted budget", func(in *CreateInput) { in.Budget = &Budget{Min: &lo, Max: &hi} }, "budget.max"},
		{"long notes", func(in *CreateInput) { in.Notes = strings.Repeat("n", 2001) }, "notes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in := valid
			tc.edit(&in)
			_, err := f.svc.CreateBookingRequest(context.Background(), nil, in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateBookingRequest_Defaults(t *testing.T) {
	f := newFixture(t)
	ceiling := decimal.NewFromInt(3000000)
	b, err := f.svc.CreateBookingRequest(context.Background(), nil, CreateInput{
		ClinicID:      testClinicID,
		Procedure:     "Botox",
		PreferredDate: "2025-06-01",
		GuestEmail:    "Guest@Example.com",
		Budget:        &Budget{Max: &ceiling},
	})
	require.NoError(t, err)
	assert.Equal(t, "en", b.Locale)
	assert.Equal(t, "KRW", b.Budget.Currency)
	assert.Equal(t, "guest@example.com", b.Requester.Email)
	assert.Equal(t, 1, b.Version)
}

func TestCreateBookingRequest_DirectoryUnavailable(t *testing.T) {
	f := newFixture(t)
	f.dir.err = fmt.Errorf("%w: connection refused", clinic.ErrUnavailable)

	_, err := f.svc.CreateBookingRequest(context.Background(), nil, CreateInput{
		ClinicID: testClinicID, Procedure: "Botox", PreferredDate: "2025-06-01", GuestEmail: "a@x.com",
	})
	require.ErrorIs(t, err, ErrUnavailable)

	page, err := f.svc.OpsQueue(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestCreateBookingRequest_RegeneratesCollidingCode(t *testing.T) {
	codes := []string{"AAAA1111", "AAAA1111", "AAAA1111", "BBBB2222"}
	var i int
	f := newFixture(t, WithCodeGenerator(func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}))

	a := f.createGuest(t, gofakeit.Email())
	b := f.createGuest(t, gofakeit.Email())
	assert.Equal(t, "AAAA1111", a.Requester.AccessCode)
	assert.Equal(t, "BBBB2222", b.Requester.AccessCode)
}

func TestCreateBookingRequest_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(func() (string, error) { return "SAMECODE", nil }))
	f.createGuest(t, gofakeit.Email())

	_, err := f.svc.CreateBookingRequest(context.Background(), nil, CreateInput{
		ClinicID: testClinicID, Procedure: "Botox", PreferredDate: "2025-06-01", GuestEmail: "a@x.com",
	})
	assert.ErrorIs(t, err, ErrAccessCodeTaken)
}

func TestCreateReview_GatedOnConfirmed(t *testing.T) {
	paths := map[Status][]TransitionInput{
		StatusReceived:           nil,
		StatusContactingHospital: {{Status: StatusContactingHospital}},
		StatusProposedOptions: {{
			Status:          StatusProposedOptions,
			ProposedOptions: []ProposedOption{{Date: "2025-06-03", TimeSlot: "Morning", Price: price(500000)}},
		}},
		StatusNeedsMoreInfo:      {{Status: StatusNeedsMoreInfo}},
		StatusCancelled:          {{Status: StatusCancelled}},
		StatusNoAvailability:     {{Status: StatusNoAvailability}},
	}
	for status, steps := range paths {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			b := f.createGuest(t, gofakeit.Email())
			for _, in := range steps {
				f.transition(t, b.ID, in)
			}
			_, err := f.svc.CreateReview(context.Background(), b.ID, GuestCode{Code: b.Requester.AccessCode},
				review.Input{Rating: 4, Title: "ok", Content: "fine"})
			assert.ErrorIs(t, err, ErrNotEligible)
		})
	}
}

func TestCreateReview_OwnerAndValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := UserSession{UserID: "user-7"}
	b, err := f.svc.CreateBookingRequest(ctx, user, CreateInput{ClinicID: testClinicID, Procedure: "Lifting", PreferredDate: "2025-06-05"})
	require.NoError(t, err)
	f.toProposed(t, b.ID)
	f.transition(t, b.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: morning()})

	_, err = f.svc.CreateReview(ctx, b.ID, UserSession{UserID: "someone-else"}, review.Input{Rating: 5, Title: "t", Content: "c"})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.svc.CreateReview(ctx, b.ID, user, review.Input{Rating: 9, Title: "t", Content: "c"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rating", ve.Field)

	rv, err := f.svc.CreateReview(ctx, b.ID, user, review.Input{Rating: 4, Title: "  Good  ", Content: "Smooth recovery"})
	require.NoError(t, err)
	assert.Equal(t, "Good", rv.Title)
	assert.Equal(t, "user:user-7", rv.RequesterKey)

	stored, err := f.store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Len(t, stored.StatusHistory, 4)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	confirmed := f.createGuest(t, gofakeit.Email())
	f.toProposed(t, confirmed.ID)
	f.transition(t, confirmed.ID, TransitionInput{Status: StatusConfirmed, ConfirmedOption: morning()})
	cancelled := f.createGuest(t, gofakeit.Email())
	f.transition(t, cancelled.ID, TransitionInput{Status: StatusCancelled})
	f.createGuest(t, gofakeit.Email())

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalRequests)
	assert.Equal(t, 33.3, st.ConversionRate)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.StatusCounts[StatusConfirmed])
	assert.Equal(t, 0, st.StatusCounts[StatusNoAvailability])
	assert.Len(t, st.StatusCounts, len(AllStatuses))
}

func TestOpsQueue_OldestFirstWithStatusFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createGuest(t, gofakeit.Email())
	f.clock.Advance(time.Hour)
	second := f.createGuest(t, gofakeit.Email())
	f.transition(t, second.ID, TransitionInput{Status: StatusContactingHospital})

	page, err := f.svc.OpsQueue(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, first.ID, page.Items[0].ID)

	page, err = f.svc.OpsQueue(ctx, Filter{Status: StatusContactingHospital})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, second.ID, page.Items[0].ID)
}
