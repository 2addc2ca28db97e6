package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgDirectory reads clinics from the local clinics table (kept in sync by the catalogue owner,
// or by cmd/seed in dev).
type PgDirectory struct {
	db *pgxpool.Pool
}

func NewPgDirectory(db *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{db: db}
}

func (r *PgDirectory) Get(ctx context.Context, id string) (*Clinic, error) {
	const q = `
SELECT id, name, city, address, COALESCE(phone,'')
FROM clinics
WHERE id = $1
`
	c := &Clinic{}
	if err := r.db.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.City, &c.Address, &c.Phone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return c, nil
}

func (r *PgDirectory) Upsert(ctx context.Context, c Clinic) error {
	const q = `
INSERT INTO clinics (id, name, city, address, phone)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  city = EXCLUDED.city,
  address = EXCLUDED.address,
  phone = EXCLUDED.phone
`
	_, err := r.db.Exec(ctx, q, c.ID, c.Name, c.City, c.Address, c.Phone)
	return err
}
