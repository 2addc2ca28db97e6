package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RequesterKind string

const (
	RequesterGuest         RequesterKind = "guest"
	RequesterAuthenticated RequesterKind = "authenticated"
)

// Requester is fixed at creation. Guests carry contact details and an access code,
// authenticated requesters a user id.
type Requester struct {
	Kind       RequesterKind
	UserID     string
	Email      string
	Phone      string
	AccessCode string
}

// Key identifies the requester for review ownership.
func (r Requester) Key() string {
	if r.Kind == RequesterAuthenticated {
		return "user:" + r.UserID
	}
	return "guest:" + normalizeEmail(r.Email)
}

type Budget struct {
	Min      *decimal.Decimal `json:"min,omitempty"`
	Max      *decimal.Decimal `json:"max,omitempty"`
	Currency string           `json:"currency,omitempty"`
}

type HistoryEntry struct {
	Status    Status    `json:"status"`
	ChangedAt time.Time `json:"changedAt"`
	Note      string    `json:"note,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
}

type ProposedOption struct {
	Date     string          `json:"date"`
	TimeSlot string          `json:"timeSlot"`
	Price    decimal.Decimal `json:"price"`
	Note     string          `json:"note,omitempty"`
}

type ConfirmedOption struct {
	Date     string          `json:"date"`
	TimeSlot string          `json:"timeSlot"`
	Price    decimal.Decimal `json:"price"`
}

// BookingRequest is the aggregate root. Status, StatusHistory, ProposedOptions and
// ConfirmedOption change only through Service.TransitionStatus.
type BookingRequest struct {
	ID                uuid.UUID
	ClinicID          string
	Requester         Requester
	Procedure         string
	PreferredDate     string
	PreferredTimeSlot string
	Budget            *Budget
	Notes             string
	Locale            string
	Photos            []string

	Status          Status
	StatusHistory   []HistoryEntry
	ProposedOptions []ProposedOption
	ConfirmedOption *ConfirmedOption

	// Version increments on every committed write and guards optimistic updates.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (b *BookingRequest) lastChangedAt() time.Time {
	if n := len(b.StatusHistory); n > 0 {
		return b.StatusHistory[n-1].ChangedAt
	}
	return b.CreatedAt
}

// clone returns a copy that shares no slices with b.
func (b *BookingRequest) clone() *BookingRequest {
	c := *b
	c.StatusHistory = append([]HistoryEntry(nil), b.StatusHistory...)
	c.ProposedOptions = append([]ProposedOption(nil), b.ProposedOptions...)
	c.Photos = append([]string(nil), b.Photos...)
	if b.ConfirmedOption != nil {
		co := *b.ConfirmedOption
		c.ConfirmedOption = &co
	}
	if b.Budget != nil {
		bu := *b.Budget
		c.Budget = &bu
	}
	return &c
}

type Filter struct {
	Status Status
	Page   int
	Limit  int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f Filter) normalized() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	return f
}

func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

type Page struct {
	Items      []BookingRequest
	Total      int
	Page       int
	Limit      int
	TotalPages int
}

func newPage(items []BookingRequest, total int, f Filter) Page {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	if items == nil {
		items = []BookingRequest{}
	}
	return Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages}
}

type Stats struct {
	StatusCounts   map[Status]int `json:"statusCounts"`
	TotalRequests  int            `json:"totalRequests"`
	ConversionRate float64        `json:"conversionRate"`
	Pending        int            `json:"pending"`
}
