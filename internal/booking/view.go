package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"clinicbooking/internal/clinic"
)

type clinicSummary struct {
	ID      string                 `json:"_id"`
	Name    clinic.LocalizedString `json:"name"`
	Address clinic.LocalizedString `json:"address"`
	Phone   string                 `json:"phone"`
	City    string                 `json:"city,omitempty"`
}

// bookingView is the JSON projection of a booking.
type bookingView struct {
	ID                uuid.UUID         `json:"_id"`
	ClinicID          string            `json:"clinicId"`
	Clinic            *clinicSummary    `json:"clinic,omitempty"`
	RequesterKind     RequesterKind     `json:"requesterKind"`
	GuestEmail        string            `json:"guestEmail,omitempty"`
	GuestPhone        string            `json:"guestPhone,omitempty"`
	AccessCode        string            `json:"accessCode,omitempty"`
	Procedure         string            `json:"procedure"`
	PreferredDate     string            `json:"preferredDate"`
	PreferredTimeSlot string            `json:"preferredTimeSlot,omitempty"`
	Budget            *Budget           `json:"budget,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	Locale            string            `json:"locale"`
	Photos            []string          `json:"photos"`
	Status            Status            `json:"status"`
	StatusHistory     []HistoryEntry    `json:"statusHistory"`
	ProposedOptions   []ProposedOption  `json:"proposedOptions"`
	ConfirmedOption   *ConfirmedOption  `json:"confirmedOption,omitempty"`
	SLA               *SLA              `json:"sla,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

type viewMode int

const (
	// ownerView shows the access code to the guest who already holds it.
	ownerView viewMode = iota
	// opsView adds contact details and the SLA projection, and hides the access code.
	opsView
)

type pageView struct {
	Items      []bookingView `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"totalPages"`
}

// viewer resolves clinic summaries once per request.
type viewer struct {
	svc     *Service
	clinics clinic.Directory
	log     *zap.Logger
	cache   map[string]*clinicSummary
}

func newViewer(svc *Service, clinics clinic.Directory, log *zap.Logger) *viewer {
	return &viewer{svc: svc, clinics: clinics, log: log, cache: map[string]*clinicSummary{}}
}

func (v *viewer) clinic(ctx context.Context, id string) *clinicSummary {
	if c, ok := v.cache[id]; ok {
		return c
	}
	var out *clinicSummary
	if v.clinics != nil {
		c, err := v.clinics.Get(ctx, id)
		if err != nil {
			v.log.Debug("clinic lookup for view", zap.String("clinic_id", id), zap.Error(err))
		} else {
			out = &clinicSummary{ID: c.ID, Name: c.Name, Address: c.Address, Phone: c.Phone, City: c.City}
		}
	}
	v.cache[id] = out
	return out
}

func (v *viewer) booking(ctx context.Context, b *BookingRequest, mode viewMode) bookingView {
	out := bookingView{
		ID:                b.ID,
		ClinicID:          b.ClinicID,
		Clinic:            v.clinic(ctx, b.ClinicID),
		RequesterKind:     b.Requester.Kind,
		Procedure:         b.Procedure,
		PreferredDate:     b.PreferredDate,
		PreferredTimeSlot: b.PreferredTimeSlot,
		Budget:            b.Budget,
		Notes:             b.Notes,
		Locale:            b.Locale,
		Photos:            b.Photos,
		Status:            b.Status,
		StatusHistory:     b.StatusHistory,
		ProposedOptions:   b.ProposedOptions,
		ConfirmedOption:   b.ConfirmedOption,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
	if out.Photos == nil {
		out.Photos = []string{}
	}
	if out.ProposedOptions == nil {
		out.ProposedOptions = []ProposedOption{}
	}

	switch mode {
	case ownerView:
		out.AccessCode = b.Requester.AccessCode
	case opsView:
		out.GuestEmail = b.Requester.Email
		out.GuestPhone = b.Requester.Phone
		sla := v.svc.SLA(b)
		out.SLA = &sla
	}
	return out
}

func (v *viewer) page(ctx context.Context, p Page, mode viewMode) pageView {
	items := make([]bookingView, 0, len(p.Items))
	for i := range p.Items {
		items = append(items, v.booking(ctx, &p.Items[i], mode))
	}
	return pageView{Items: items, Total: p.Total, Page: p.Page, Limit: p.Limit, TotalPages: p.TotalPages}
}
