package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicbooking/internal/clinic"
	"clinicbooking/internal/events"
	"clinicbooking/internal/guard"
	"clinicbooking/internal/review"
)

const maxCodeAttempts = 5

var supportedLocales = map[string]bool{"en": true, "ja": true, "zh": true}

// Service is the booking lifecycle engine.
type Service struct {
	store   Store
	clinics clinic.Directory
	guard   guard.Guard
	sla     SLAPolicy
	log     *zap.Logger

	now     func() time.Time
	newCode func() (string, error)
	newID   func() uuid.UUID
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newCode = fn }
}

func NewService(store Store, clinics clinic.Directory, g guard.Guard, sla SLAPolicy, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		clinics: clinics,
		guard:   g,
		sla:     sla,
		log:     log,
		now:     time.Now,
		newCode: NewAccessCode,
		newID:   uuid.New,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SLA projects the first-response budget for b at the current time.
func (s *Service) SLA(b *BookingRequest) SLA {
	return s.sla.Project(b, s.now())
}

type CreateInput struct {
	ClinicID          string
	Procedure         string
	PreferredDate     string
	PreferredTimeSlot string
	Budget            *Budget
	GuestEmail        string
	GuestPhone        string
	Notes             string
	Locale            string
	Photos            []string
}

// CreateBookingRequest registers a new request. A UserSession principal makes it an
// authenticated booking; otherwise it is a guest booking and receives an access code.
func (s *Service) CreateBookingRequest(ctx context.Context, p Principal, in CreateInput) (*BookingRequest, error) {
	in, err := normalizeCreate(in)
	if err != nil {
		return nil, err
	}

	var req Requester
	if us, ok := p.(UserSession); ok && us.UserID != "" {
		req = Requester{Kind: RequesterAuthenticated, UserID: us.UserID, Email: normalizeEmail(us.Email)}
	} else {
		if in.GuestEmail == "" {
			return nil, invalid("guestEmail", "is required when not signed in")
		}
		addr, err := mail.ParseAddress(in.GuestEmail)
		if err != nil || addr.Address != in.GuestEmail {
			return nil, invalid("guestEmail", "is not a valid email address")
		}
		req = Requester{Kind: RequesterGuest, Email: normalizeEmail(in.GuestEmail), Phone: in.GuestPhone}
	}

	if _, err := s.clinics.Get(ctx, in.ClinicID); err != nil {
		if errors.Is(err, clinic.ErrNotFound) {
			return nil, invalid("clinicId", "unknown clinic")
		}
		return nil, fmt.Errorf("%w: clinic directory: %v", ErrUnavailable, err)
	}

	now := s.now().UTC()
	b := &BookingRequest{
		ID:                s.newID(),
		ClinicID:          in.ClinicID,
		Requester:         req,
		Procedure:         in.Procedure,
		PreferredDate:     in.PreferredDate,
		PreferredTimeSlot: in.PreferredTimeSlot,
		Budget:            in.Budget,
		Notes:             in.Notes,
		Locale:            in.Locale,
		Photos:            in.Photos,
		Status:            StatusReceived,
		StatusHistory:     []HistoryEntry{{Status: StatusReceived, ChangedAt: now}},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	ev := events.Event{
		BookingID:  b.ID,
		EventType:  events.TypeCreated,
		Summary:    "Booking request received",
		Actor:      req.Key(),
		OccurredAt: now,
		Data:       map[string]any{"clinicId": b.ClinicID, "procedure": b.Procedure, "requester": string(req.Kind)},
	}

	if req.Kind == RequesterAuthenticated {
		if err := s.store.Create(ctx, b, ev); err != nil {
			return nil, fmt.Errorf("create booking: %w", err)
		}
		return b, nil
	}

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}
		b.Requester.AccessCode = code
		err = s.store.Create(ctx, b, ev)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrAccessCodeTaken) || attempt >= maxCodeAttempts {
			return nil, fmt.Errorf("create booking: %w", err)
		}
		s.log.Warn("access code collision, regenerating", zap.Int("attempt", attempt))
	}
}

func normalizeCreate(in CreateInput) (CreateInput, error) {
	in.ClinicID = strings.TrimSpace(in.ClinicID)
	in.Procedure = strings.TrimSpace(in.Procedure)
	in.PreferredDate = strings.TrimSpace(in.PreferredDate)
	in.PreferredTimeSlot = strings.TrimSpace(in.PreferredTimeSlot)
	in.GuestEmail = strings.TrimSpace(in.GuestEmail)
	in.GuestPhone = strings.TrimSpace(in.GuestPhone)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Locale = strings.ToLower(strings.TrimSpace(in.Locale))

	if in.ClinicID == "" {
		return in, invalid("clinicId", "is required")
	}
	if in.Procedure == "" {
		return in, invalid("procedure", "is required")
	}
	if utf8.RuneCountInString(in.Procedure) > 200 {
		return in, invalid("procedure", "must be at most 200 characters")
	}
	if in.PreferredDate == "" {
		return in, invalid("preferredDate", "is required")
	}
	if !isDate(in.PreferredDate) {
		return in, invalid("preferredDate", "must be YYYY-MM-DD")
	}
	if utf8.RuneCountInString(in.Notes) > 2000 {
		return in, invalid("notes", "must be at most 2000 characters")
	}
	if in.Locale == "" {
		in.Locale = "en"
	}
	if !supportedLocales[in.Locale] {
		return in, invalid("locale", "must be one of en, ja, zh")
	}
	if len(in.Photos) > 10 {
		return in, invalid("photos", "at most 10 photos are allowed")
	}
	for i, p := range in.Photos {
		if strings.TrimSpace(p) == "" {
			return in, invalid(fmt.Sprintf("photos[%d]", i), "must not be empty")
		}
	}

	if bu := in.Budget; bu != nil {
		if bu.Min != nil && bu.Min.IsNegative() {
			return in, invalid("budget.min", "must not be negative")
		}
		if bu.Max != nil && bu.Max.IsNegative() {
			return in, invalid("budget.max", "must not be negative")
		}
		if bu.Min != nil && bu.Max != nil && bu.Min.GreaterThan(*bu.Max) {
			return in, invalid("budget.max", "must not be less than budget.min")
		}
		bu.Currency = strings.ToUpper(strings.TrimSpace(bu.Currency))
		if bu.Currency == "" {
			bu.Currency = "KRW"
		}
		if bu.Min == nil && bu.Max == nil {
			in.Budget = nil
		}
	}
	return in, nil
}

func isDate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// GetBookingRequest returns the booking when p proves ownership. A wrong access code and an
// unknown id look the same to the caller; BookingNotFound is only reported to callers who
// offered no credential at all.
func (s *Service) GetBookingRequest(ctx context.Context, id uuid.UUID, p Principal) (*BookingRequest, error) {
	if p == nil {
		if _, err := s.store.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrUnauthorized
	}

	_, guest := p.(GuestCode)
	key := "booking:" + id.String()
	if guest {
		if err := s.chargeGuess(ctx, key); err != nil {
			return nil, err
		}
	}

	b, err := s.store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrBookingNotFound) {
		return nil, err
	}
	if err != nil || !owns(b, p) {
		return nil, ErrUnauthorized
	}
	if guest {
		// Only the holder of this booking's code gets here, so the whole counter goes.
		s.clearGuesses(ctx, key)
	}
	return b, nil
}

// GetForOps reads a booking without an ownership check; callers gate it by role.
func (s *Service) GetForOps(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	return s.store.Get(ctx, id)
}

// ListMyBookingRequests lists a signed-in user's bookings, or the guest bookings whose email
// and access code both match.
func (s *Service) ListMyBookingRequests(ctx context.Context, p Principal, f Filter) (Page, error) {
	f = f.normalized()

	switch p := p.(type) {
	case UserSession:
		if p.UserID == "" {
			return Page{}, ErrUnauthorized
		}
		items, total, err := s.store.ListByUser(ctx, p.UserID, f)
		if err != nil {
			return Page{}, err
		}
		return newPage(items, total, f), nil

	case GuestCode:
		email := normalizeEmail(p.Email)
		if email == "" {
			return Page{}, invalid("email", "is required")
		}
		if p.Code == "" {
			return Page{}, invalid("accessCode", "is required")
		}
		key := "email:" + email
		if err := s.chargeGuess(ctx, key); err != nil {
			return Page{}, err
		}

		all, err := s.store.ListByGuestEmail(ctx, email)
		if err != nil {
			return Page{}, err
		}
		var matched []BookingRequest
		for i := range all {
			if owns(&all[i], p) {
				matched = append(matched, all[i])
			}
		}
		if len(matched) == 0 {
			return Page{}, ErrUnauthorized
		}
		// Several guests can share an email, so a match refunds this guess only and
		// leaves misses made with other codes on the counter.
		s.refundGuess(ctx, key)

		var filtered []BookingRequest
		for _, b := range matched {
			if f.Status == "" || b.Status == f.Status {
				filtered = append(filtered, b)
			}
		}
		total := len(filtered)
		start := min(f.Offset(), total)
		end := min(start+f.Limit, total)
		return newPage(filtered[start:end], total, f), nil

	default:
		return Page{}, ErrUnauthorized
	}
}

// Actor is the operations user driving a transition.
type Actor struct {
	ID       string
	CanForce bool
}

type TransitionInput struct {
	Status          Status
	Note            string
	ProposedOptions []ProposedOption
	ConfirmedOption *ConfirmedOption
	Force           bool
}

// TransitionStatus moves a booking to in.Status. On a concurrent write the booking is re-read
// once: if its status is still the one acted on the write is retried, otherwise the caller
// gets ErrConflict.
func (s *Service) TransitionStatus(ctx context.Context, id uuid.UUID, in TransitionInput, actor Actor) (*BookingRequest, error) {
	if err := validateTransitionInput(&in); err != nil {
		return nil, err
	}
	if in.Force && !actor.CanForce {
		return nil, fmt.Errorf("%w: only admins may force a transition", ErrUnauthorized)
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		next, ev, err := s.nextState(cur, in, actor)
		if err != nil {
			return nil, err
		}

		err = s.store.ApplyTransition(ctx, next, cur.Version, ev)
		if err == nil {
			if ev.EventType == events.TypeForced {
				s.log.Warn("forced status transition",
					zap.String("booking_id", id.String()),
					zap.String("from", string(cur.Status)),
					zap.String("to", string(next.Status)),
					zap.String("actor", actor.ID))
			}
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("apply transition: %w", err)
		}

		if attempt > 0 {
			s.log.Warn("transition conflict after retry", zap.String("booking_id", id.String()))
			return nil, ErrConflict
		}
		fresh, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if fresh.Status != cur.Status {
			s.log.Warn("transition lost race",
				zap.String("booking_id", id.String()),
				zap.String("expected", string(cur.Status)),
				zap.String("found", string(fresh.Status)))
			return nil, ErrConflict
		}
		cur = fresh
	}
}

func validateTransitionInput(in *TransitionInput) error {
	to, err := ParseStatus(string(in.Status))
	if err != nil {
		return invalid("status", "must be one of the known statuses")
	}
	in.Note = strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(in.Note) > 1000 {
		return invalid("note", "must be at most 1000 characters")
	}

	if len(in.ProposedOptions) > 0 && to != StatusProposedOptions {
		return invalid("proposedOptions", "only allowed when moving to proposedOptions")
	}
	if in.ConfirmedOption != nil && to != StatusConfirmed {
		return invalid("confirmedOption", "only allowed when moving to confirmed")
	}

	switch to {
	case StatusProposedOptions:
		if len(in.ProposedOptions) == 0 {
			return invalid("proposedOptions", "at least one option is required")
		}
		for i := range in.ProposedOptions {
			o := &in.ProposedOptions[i]
			o.Date = strings.TrimSpace(o.Date)
			o.TimeSlot = strings.TrimSpace(o.TimeSlot)
			o.Note = strings.TrimSpace(o.Note)
			field := fmt.Sprintf("proposedOptions[%d]", i)
			if !isDate(o.Date) {
				return invalid(field+".date", "must be YYYY-MM-DD")
			}
			if o.TimeSlot == "" {
				return invalid(field+".timeSlot", "is required")
			}
			if !o.Price.IsPositive() {
				return invalid(field+".price", "must be greater than 0")
			}
		}

	case StatusConfirmed:
		co := in.ConfirmedOption
		if co == nil {
			return &IncompleteConfirmationError{Missing: []string{"date", "timeSlot", "price"}}
		}
		co.Date = strings.TrimSpace(co.Date)
		co.TimeSlot = strings.TrimSpace(co.TimeSlot)
		var missing []string
		if co.Date == "" {
			missing = append(missing, "date")
		}
		if co.TimeSlot == "" {
			missing = append(missing, "timeSlot")
		}
		if !co.Price.IsPositive() {
			missing = append(missing, "price")
		}
		if len(missing) > 0 {
			return &IncompleteConfirmationError{Missing: missing}
		}
		if !isDate(co.Date) {
			return invalid("confirmedOption.date", "must be YYYY-MM-DD")
		}
	}

	in.Status = to
	return nil
}

// nextState computes the booking after the transition without touching cur.
func (s *Service) nextState(cur *BookingRequest, in TransitionInput, actor Actor) (*BookingRequest, events.Event, error) {
	to := in.Status
	if cur.Status == to {
		return nil, events.Event{}, &TransitionError{From: cur.Status, To: to}
	}
	allowed := CanTransition(cur.Status, to)
	if !allowed && !in.Force {
		return nil, events.Event{}, &TransitionError{From: cur.Status, To: to}
	}
	forced := !allowed

	changedAt := s.now().UTC()
	if last := cur.lastChangedAt(); changedAt.Before(last) {
		changedAt = last
	}

	note := in.Note
	if forced {
		note = strings.TrimSuffix("forced override: "+note, ": ")
	}

	next := cur.clone()
	next.Status = to
	next.StatusHistory = append(next.StatusHistory, HistoryEntry{
		Status:    to,
		ChangedAt: changedAt,
		Note:      note,
		Forced:    forced,
	})
	switch to {
	case StatusProposedOptions:
		next.ProposedOptions = append([]ProposedOption(nil), in.ProposedOptions...)
	case StatusConfirmed:
		co := *in.ConfirmedOption
		next.ConfirmedOption = &co
	}
	next.UpdatedAt = changedAt
	next.Version = cur.Version + 1

	ev := events.Event{
		BookingID:  cur.ID,
		EventType:  events.TypeTransition,
		Summary:    fmt.Sprintf("Status changed from %s to %s", cur.Status, to),
		Actor:      actor.ID,
		OccurredAt: changedAt,
		Data:       map[string]any{"from": string(cur.Status), "to": string(to), "note": note},
	}
	if forced {
		ev.EventType = events.TypeForced
		ev.Summary = fmt.Sprintf("Status forced from %s to %s", cur.Status, to)
	}
	if to == StatusConfirmed {
		ev.Data["confirmedOption"] = next.ConfirmedOption
	}
	return next, ev, nil
}

// CanReviewBooking is recomputed on every call from the stored booking and reviews.
func (s *Service) CanReviewBooking(ctx context.Context, id uuid.UUID, p Principal) (bool, error) {
	_, err := s.eligibility(ctx, id, p)
	if errors.Is(err, ErrNotEligible) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) eligibility(ctx context.Context, id uuid.UUID, p Principal) (*BookingRequest, error) {
	b, err := s.GetBookingRequest(ctx, id, p)
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBookingNotFound) {
		return nil, fmt.Errorf("%w: not the requester of this booking", ErrNotEligible)
	}
	if err != nil {
		return nil, err
	}
	if b.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: booking is not confirmed", ErrNotEligible)
	}
	reviewed, err := s.store.HasReview(ctx, b.ID, b.Requester.Key())
	if err != nil {
		return nil, err
	}
	if reviewed {
		return nil, fmt.Errorf("%w: booking already reviewed", ErrNotEligible)
	}
	return b, nil
}

// CreateReview re-checks eligibility at write time. The store write is conditional on the
// booking version so a concurrent transition away from confirmed cannot slip in between.
func (s *Service) CreateReview(ctx context.Context, id uuid.UUID, p Principal, in review.Input) (*review.Review, error) {
	for attempt := 0; ; attempt++ {
		b, err := s.eligibility(ctx, id, p)
		if err != nil {
			return nil, err
		}

		in = in.Normalize()
		if err := in.Validate(); err != nil {
			var fe *review.FieldError
			if errors.As(err, &fe) {
				return nil, invalid(fe.Field, fe.Message)
			}
			return nil, invalid("", err.Error())
		}

		now := s.now().UTC()
		rv := review.Review{
			ID:           s.newID(),
			BookingID:    b.ID,
			ClinicID:     b.ClinicID,
			RequesterKey: b.Requester.Key(),
			Procedure:    b.Procedure,
			Rating:       in.Rating,
			Title:        in.Title,
			Content:      in.Content,
			VisitDate:    in.VisitDate,
			IsVerified:   true,
			CreatedAt:    now,
		}
		ev := events.Event{
			BookingID:  b.ID,
			EventType:  events.TypeReviewed,
			Summary:    "Review submitted",
			Actor:      rv.RequesterKey,
			OccurredAt: now,
			Data:       map[string]any{"reviewId": rv.ID.String(), "rating": rv.Rating},
		}

		err = s.store.CreateReview(ctx, rv, b.Version, ev)
		switch {
		case err == nil:
			return &rv, nil
		case errors.Is(err, ErrAlreadyReviewed):
			return nil, fmt.Errorf("%w: booking already reviewed", ErrNotEligible)
		case errors.Is(err, ErrConflict):
			if attempt > 0 {
				return nil, ErrConflict
			}
		default:
			return nil, fmt.Errorf("create review: %w", err)
		}
	}
}

// OpsQueue lists every booking oldest first.
func (s *Service) OpsQueue(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	items, total, err := s.store.List(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return newPage(items, total, f), nil
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	counts, err := s.store.StatusCounts(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{StatusCounts: make(map[Status]int, len(AllStatuses))}
	for _, status := range AllStatuses {
		n := counts[status]
		st.StatusCounts[status] = n
		st.TotalRequests += n
		if status.Pending() {
			st.Pending += n
		}
	}
	if st.TotalRequests > 0 {
		rate := float64(counts[StatusConfirmed]) / float64(st.TotalRequests) * 100
		st.ConversionRate = math.Round(rate*10) / 10
	}
	return st, nil
}

func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]events.Event, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

// chargeGuess books one guess against key before any code is compared.
func (s *Service) chargeGuess(ctx context.Context, key string) error {
	err := s.guard.Attempt(ctx, key)
	if err == nil {
		return nil
	}
	var locked *guard.LockedError
	if errors.As(err, &locked) {
		s.log.Warn("access code guard locked", zap.String("key", key), zap.Duration("retry_after", locked.RetryAfter))
		return &RateLimitedError{RetryAfter: locked.RetryAfter}
	}
	return fmt.Errorf("%w: access guard: %v", ErrUnavailable, err)
}

func (s *Service) refundGuess(ctx context.Context, key string) {
	if err := s.guard.Release(ctx, key); err != nil {
		s.log.Error("release access guard", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) clearGuesses(ctx context.Context, key string) {
	if err := s.guard.Reset(ctx, key); err != nil {
		s.log.Error("reset access guard", zap.String("key", key), zap.Error(err))
	}
}
