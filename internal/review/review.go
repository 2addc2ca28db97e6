package review

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("review not found")
	ErrInvalid  = errors.New("invalid review")
)

const (
	MaxTitleLength   = 100
	MaxContentLength = 2000
)

type Review struct {
	ID           uuid.UUID `json:"_id"`
	BookingID    uuid.UUID `json:"bookingId"`
	ClinicID     string    `json:"clinicId"`
	RequesterKey string    `json:"-"`
	Procedure    string    `json:"procedure,omitempty"`
	Rating       int       `json:"rating"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	VisitDate    string    `json:"visitDate,omitempty"`
	HelpfulCount int       `json:"helpfulCount"`
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FieldError names the offending input.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Message }

func (e *FieldError) Is(target error) bool { return target == ErrInvalid }

// Input is what a requester submits. Title and content are trimmed before checking.
type Input struct {
	Rating    int
	Title     string
	Content   string
	VisitDate string
}

func (in Input) Normalize() Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	in.VisitDate = strings.TrimSpace(in.VisitDate)
	return in
}

// Validate checks a normalized input. Lengths count characters, not bytes.
func (in Input) Validate() error {
	if in.Rating < 1 || in.Rating > 5 {
		return &FieldError{Field: "rating", Message: "must be between 1 and 5"}
	}
	if in.Title == "" {
		return &FieldError{Field: "title", Message: "is required"}
	}
	if utf8.RuneCountInString(in.Title) > MaxTitleLength {
		return &FieldError{Field: "title", Message: "must be at most 100 characters"}
	}
	if in.Content == "" {
		return &FieldError{Field: "content", Message: "is required"}
	}
	if utf8.RuneCountInString(in.Content) > MaxContentLength {
		return &FieldError{Field: "content", Message: "must be at most 2000 characters"}
	}
	if in.VisitDate != "" {
		if _, err := time.Parse(time.DateOnly, in.VisitDate); err != nil {
			return &FieldError{Field: "visitDate", Message: "must be YYYY-MM-DD"}
		}
	}
	return nil
}

type Sort string

const (
	SortRecent     Sort = "recent"
	SortRatingHigh Sort = "rating-high"
	SortRatingLow  Sort = "rating-low"
	SortHelpful    Sort = "helpful"
)

func ParseSort(s string) Sort {
	switch Sort(s) {
	case SortRatingHigh, SortRatingLow, SortHelpful:
		return Sort(s)
	default:
		return SortRecent
	}
}

func (s Sort) orderBy() string {
	switch s {
	case SortRatingHigh:
		return "rating DESC, created_at DESC"
	case SortRatingLow:
		return "rating ASC, created_at DESC"
	case SortHelpful:
		return "helpful_count DESC, created_at DESC"
	default:
		return "created_at DESC"
	}
}

type Stats struct {
	AverageRating      float64     `json:"averageRating"`
	TotalReviews       int         `json:"totalReviews"`
	RatingDistribution map[int]int `json:"ratingDistribution"`
}

// NewStats derives averages from per-rating counts. The average is rounded to one decimal.
func NewStats(distribution map[int]int) Stats {
	s := Stats{RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0}}
	sum := 0
	for rating, n := range distribution {
		if rating < 1 || rating > 5 {
			continue
		}
		s.RatingDistribution[rating] = n
		s.TotalReviews += n
		sum += rating * n
	}
	if s.TotalReviews > 0 {
		avg := float64(sum) / float64(s.TotalReviews)
		s.AverageRating = float64(int(avg*10+0.5)) / 10
	}
	return s
}

type ListResult struct {
	Items      []Review `json:"items"`
	Total      int      `json:"total"`
	Page       int      `json:"page"`
	Limit      int      `json:"limit"`
	TotalPages int      `json:"totalPages"`
	Stats      Stats    `json:"stats"`
}

// HelpfulResult reports the counter after a mark-helpful call. Counted is false when
// the same signed-in user had already voted.
type HelpfulResult struct {
	HelpfulCount int  `json:"helpfulCount"`
	Counted      bool `json:"counted"`
}
