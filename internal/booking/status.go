package booking

import "fmt"

type Status string

const (
	StatusReceived           Status = "received"
	StatusContactingHospital Status = "contactingHospital"
	StatusProposedOptions    Status = "proposedOptions"
	StatusConfirmed          Status = "confirmed"
	StatusCancelled          Status = "cancelled"
	StatusNeedsMoreInfo      Status = "needsMoreInfo"
	StatusNoAvailability     Status = "noAvailability"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusReceived,
	StatusContactingHospital,
	StatusProposedOptions,
	StatusNeedsMoreInfo,
	StatusConfirmed,
	StatusCancelled,
	StatusNoAvailability,
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusReceived, StatusContactingHospital, StatusProposedOptions, StatusConfirmed,
		StatusCancelled, StatusNeedsMoreInfo, StatusNoAvailability:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status: %s", s)
	}
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusReceived: {
		StatusContactingHospital: true,
		StatusProposedOptions:    true, // direct proposal when availability is known
		StatusNeedsMoreInfo:      true,
		StatusCancelled:          true,
		StatusNoAvailability:     true,
	},
	StatusContactingHospital: {
		StatusProposedOptions: true,
		StatusNeedsMoreInfo:   true,
		StatusCancelled:       true,
		StatusNoAvailability:  true,
	},
	StatusProposedOptions: {
		StatusConfirmed:      true,
		StatusNeedsMoreInfo:  true,
		StatusCancelled:      true,
		StatusNoAvailability: true,
	},
	StatusNeedsMoreInfo: {
		StatusContactingHospital: true,
		StatusCancelled:          true,
	},
	StatusConfirmed:      {StatusCancelled: true},
	StatusCancelled:      {}, // only a forced transition can reopen
	StatusNoAvailability: {},
}

func CanTransition(from, to Status) bool {
	m, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return m[to]
}

// Terminal reports whether no unforced transition leaves s.
func (s Status) Terminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Pending reports whether the booking still awaits operations work.
func (s Status) Pending() bool {
	switch s {
	case StatusReceived, StatusContactingHospital, StatusProposedOptions, StatusNeedsMoreInfo:
		return true
	}
	return false
}
