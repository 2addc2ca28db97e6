package booking

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicbooking/internal/api"
	"clinicbooking/internal/clinic"
	"clinicbooking/internal/review"
	"clinicbooking/pkg/session"
)

type Handlers struct {
	Service *Service
	Clinics clinic.Directory
	Log     *zap.Logger
}

type createRequest struct {
	ClinicID          string   `json:"clinicId"`
	Procedure         string   `json:"procedure"`
	PreferredDate     string   `json:"preferredDate"`
	PreferredTimeSlot string   `json:"preferredTimeSlot"`
	Budget            *Budget  `json:"budget"`
	GuestEmail        string   `json:"guestEmail"`
	GuestPhone        string   `json:"guestPhone"`
	Notes             string   `json:"notes"`
	Locale            string   `json:"locale"`
	Photos            []string `json:"photos"`
}

type createResponse struct {
	ID         uuid.UUID `json:"id"`
	AccessCode string    `json:"accessCode,omitempty"`
	Status     Status    `json:"status"`
	Message    string    `json:"message"`
}

func (h Handlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteFieldError(w, "", "invalid json")
		return
	}

	var p Principal
	if s := api.CustomerSession(r.Context()); s != nil {
		p = UserSession{UserID: s.UserID, Email: s.Email}
	}

	b, err := h.Service.CreateBookingRequest(r.Context(), p, CreateInput{
		ClinicID:          req.ClinicID,
		Procedure:         req.Procedure,
		PreferredDate:     req.PreferredDate,
		PreferredTimeSlot: req.PreferredTimeSlot,
		Budget:            req.Budget,
		GuestEmail:        req.GuestEmail,
		GuestPhone:        req.GuestPhone,
		Notes:             req.Notes,
		Locale:            req.Locale,
		Photos:            req.Photos,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, createResponse{
		ID:         b.ID,
		AccessCode: b.Requester.AccessCode,
		Status:     b.Status,
		Message:    "Booking request received. We will contact you within 8 business hours.",
	})
}

func (h Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.Service.GetBookingRequest(r.Context(), id, principalFrom(r, strings.TrimSpace(r.URL.Query().Get("accessCode"))))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, newViewer(h.Service, h.Clinics, h.Log).booking(r.Context(), b, ownerView))
}

func (h Handlers) MyRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f, ok := filterFrom(w, r)
	if !ok {
		return
	}

	var p Principal
	email, code := strings.TrimSpace(q.Get("email")), strings.TrimSpace(q.Get("accessCode"))
	switch s := api.CustomerSession(r.Context()); {
	case email != "" || code != "":
		p = GuestCode{Email: email, Code: strings.ToUpper(code)}
	case s != nil:
		p = UserSession{UserID: s.UserID, Email: s.Email}
	default:
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "sign in or provide email and access code")
		return
	}

	page, err := h.Service.ListMyBookingRequests(r.Context(), p, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, newViewer(h.Service, h.Clinics, h.Log).page(r.Context(), page, ownerView))
}

func (h Handlers) CanReview(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	can, err := h.Service.CanReviewBooking(r.Context(), id, principalFrom(r, strings.TrimSpace(r.URL.Query().Get("accessCode"))))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"canReview": can})
}

type createReviewRequest struct {
	BookingID  string `json:"bookingId"`
	AccessCode string `json:"accessCode"`
	Rating     int    `json:"rating"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	VisitDate  string `json:"visitDate"`
}

func (h Handlers) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteFieldError(w, "", "invalid json")
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(req.BookingID))
	if err != nil {
		api.WriteFieldError(w, "bookingId", "invalid booking id")
		return
	}

	rv, err := h.Service.CreateReview(r.Context(), id, principalFrom(r, strings.TrimSpace(req.AccessCode)), review.Input{
		Rating:    req.Rating,
		Title:     req.Title,
		Content:   req.Content,
		VisitDate: req.VisitDate,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, rv)
}

func (h Handlers) OpsQueue(w http.ResponseWriter, r *http.Request) {
	f, ok := filterFrom(w, r)
	if !ok {
		return
	}
	page, err := h.Service.OpsQueue(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, newViewer(h.Service, h.Clinics, h.Log).page(r.Context(), page, opsView))
}

func (h Handlers) OpsGet(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	b, err := h.Service.GetForOps(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, newViewer(h.Service, h.Clinics, h.Log).booking(r.Context(), b, opsView))
}

type transitionRequest struct {
	Status          string           `json:"status"`
	Note            string           `json:"note"`
	ProposedOptions []ProposedOption `json:"proposedOptions"`
	ConfirmedOption *ConfirmedOption `json:"confirmedOption"`
	Force           bool             `json:"force"`
}

func (h Handlers) Transition(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := api.DecodeJSON(r, &req); err != nil {
		api.WriteFieldError(w, "", "invalid json")
		return
	}

	s := api.SessionFromContext(r.Context())
	actor := Actor{ID: "ops:" + s.UserID, CanForce: s.Role == session.RoleAdmin}

	b, err := h.Service.TransitionStatus(r.Context(), id, TransitionInput{
		Status:          Status(req.Status),
		Note:            req.Note,
		ProposedOptions: req.ProposedOptions,
		ConfirmedOption: req.ConfirmedOption,
		Force:           req.Force,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"id":      b.ID,
		"status":  b.Status,
		"message": "Status updated to " + string(b.Status),
	})
}

func (h Handlers) Events(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	evs, err := h.Service.Events(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"items": evs})
}

func (h Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, st)
}

// principalFrom prefers an explicit access code over the session.
func principalFrom(r *http.Request, accessCode string) Principal {
	if accessCode != "" {
		return GuestCode{Code: strings.ToUpper(accessCode)}
	}
	if s := api.CustomerSession(r.Context()); s != nil {
		return UserSession{UserID: s.UserID, Email: s.Email}
	}
	return nil
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteFieldError(w, "id", "invalid booking id")
		return uuid.Nil, false
	}
	return id, true
}

func filterFrom(w http.ResponseWriter, r *http.Request) (Filter, bool) {
	q := r.URL.Query()
	var f Filter
	if raw := q.Get("status"); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			api.WriteFieldError(w, "status", "unknown status")
			return f, false
		}
		f.Status = st
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"limit", &f.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.WriteFieldError(w, p.name, "must be a positive integer")
			return f, false
		}
		*p.dst = n
	}
	return f.normalized(), true
}

func (h Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr  *ValidationError
		terr  *TransitionError
		cerr  *IncompleteConfirmationError
		rlerr *RateLimitedError
	)
	switch {
	case errors.As(err, &verr):
		api.WriteFieldError(w, verr.Field, verr.Message)
	case errors.As(err, &cerr):
		api.WriteEnvelope(w, http.StatusUnprocessableEntity, api.Envelope{
			Error: cerr.Error(),
			Code:  "INCOMPLETE_CONFIRMATION",
			Field: "confirmedOption",
		})
	case errors.As(err, &terr):
		api.WriteError(w, http.StatusConflict, "INVALID_TRANSITION", terr.Error())
	case errors.As(err, &rlerr):
		api.WriteRateLimited(w, rlerr.RetryAfter)
	case errors.Is(err, ErrBookingNotFound):
		api.WriteError(w, http.StatusNotFound, "NOT_FOUND", ErrBookingNotFound.Error())
	case errors.Is(err, ErrNotEligible):
		api.WriteError(w, http.StatusForbidden, "NOT_ELIGIBLE", err.Error())
	case errors.Is(err, ErrUnauthorized):
		api.WriteError(w, http.StatusForbidden, "UNAUTHORIZED", err.Error())
	case errors.Is(err, ErrConflict):
		api.WriteError(w, http.StatusConflict, "CONFLICT", ErrConflict.Error())
	case errors.Is(err, ErrUnavailable):
		h.Log.Error("dependency unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		api.WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable, please retry")
	default:
		h.Log.Error("booking request failed", zap.String("path", r.URL.Path), zap.String("request_id", api.RequestID(r.Context())), zap.Error(err))
		api.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
