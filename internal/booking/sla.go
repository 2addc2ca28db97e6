package booking

import (
	"math"
	"time"
)

// Calendar counts working time between two instants.
type Calendar struct {
	Location *time.Location
	DayStart int // hour the working day opens
	DayEnd   int // hour it closes
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// BusinessHours returns the working hours (Mon-Fri) that fall between from and to.
func (c Calendar) BusinessHours(from, to time.Time) float64 {
	if !to.After(from) || c.DayEnd <= c.DayStart {
		return 0
	}
	loc := c.loc()
	from, to = from.In(loc), to.In(loc)

	var total time.Duration
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	for !day.After(to) {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			open := time.Date(day.Year(), day.Month(), day.Day(), c.DayStart, 0, 0, 0, loc)
			closing := time.Date(day.Year(), day.Month(), day.Day(), c.DayEnd, 0, 0, 0, loc)
			start, end := maxTime(open, from), minTime(closing, to)
			if end.After(start) {
				total += end.Sub(start)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total.Hours()
}

// SLA is a read-time projection and is never stored.
type SLA struct {
	HoursElapsed   float64 `json:"hoursElapsed"`
	HoursRemaining float64 `json:"hoursRemaining"`
	IsOverdue      bool    `json:"isOverdue"`
}

type SLAPolicy struct {
	BudgetHours float64
	Calendar    Calendar
}

func DefaultSLAPolicy() SLAPolicy {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	return SLAPolicy{BudgetHours: 8, Calendar: Calendar{Location: loc, DayStart: 9, DayEnd: 18}}
}

// Project measures the first response: from creation until the booking first leaves
// received, or until now while it is still waiting.
func (p SLAPolicy) Project(b *BookingRequest, now time.Time) SLA {
	end := now
	for _, h := range b.StatusHistory {
		if h.Status != StatusReceived {
			end = h.ChangedAt
			break
		}
	}

	elapsed := p.Calendar.BusinessHours(b.CreatedAt, end)
	remaining := math.Max(0, p.BudgetHours-elapsed)
	return SLA{
		HoursElapsed:   round1(elapsed),
		HoursRemaining: round1(remaining),
		IsOverdue:      elapsed > p.BudgetHours,
	}
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
