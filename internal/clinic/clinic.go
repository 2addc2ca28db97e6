package clinic

import (
	"context"
	"errors"
	"fmt"

	"clinicbooking/pkg/clinicapi"
)

var (
	ErrNotFound    = errors.New("clinic not found")
	ErrUnavailable = errors.New("clinic directory unavailable")
)

type LocalizedString struct {
	En string `json:"en"`
	Ja string `json:"ja"`
	Zh string `json:"zh"`
}

// Clinic is the slice of the externally owned clinic record that bookings display.
type Clinic struct {
	ID      string          `json:"_id"`
	Name    LocalizedString `json:"name"`
	City    string          `json:"city"`
	Address LocalizedString `json:"address"`
	Phone   string          `json:"phone"`
}

// Directory resolves clinic references. Implementations return ErrNotFound for unknown ids
// and wrap transport failures in ErrUnavailable.
type Directory interface {
	Get(ctx context.Context, id string) (*Clinic, error)
}

// HTTPDirectory resolves clinics through the remote clinic service.
type HTTPDirectory struct {
	Client *clinicapi.Client
}

func (d HTTPDirectory) Get(ctx context.Context, id string) (*Clinic, error) {
	c, err := d.Client.GetClinic(ctx, id)
	switch {
	case errors.Is(err, clinicapi.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, clinicapi.ErrUnavailable):
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &Clinic{
		ID:      c.ID,
		Name:    LocalizedString(c.Name),
		City:    c.City,
		Address: LocalizedString(c.Address),
		Phone:   c.Phone,
	}, nil
}
