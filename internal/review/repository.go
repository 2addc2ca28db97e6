package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clinicbooking/pkg/db"
)

// Insert writes a review inside the caller's transaction. The unique index on
// (booking_id, requester_key) backs the one-review-per-requester rule.
func Insert(ctx context.Context, tx pgx.Tx, r Review) error {
	const q = `
INSERT INTO reviews (id, booking_id, clinic_id, requester_key, procedure, rating, title, content, visit_date, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, '')::date, $10)
`
	_, err := tx.Exec(ctx, q, r.ID, r.BookingID, r.ClinicID, r.RequesterKey, r.Procedure,
		r.Rating, r.Title, r.Content, r.VisitDate, r.CreatedAt)
	return err
}

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

func (r *PgRepository) ListByClinic(ctx context.Context, clinicID string, sort Sort, limit, offset int) ([]Review, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM reviews WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `
SELECT id, booking_id, clinic_id, procedure, rating, title, content,
       COALESCE(to_char(visit_date, 'YYYY-MM-DD'), ''), helpful_count, created_at
FROM reviews
WHERE clinic_id = $1
ORDER BY ` + sort.orderBy() + `
LIMIT $2 OFFSET $3
`
	rows, err := r.db.Query(ctx, q, clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.BookingID, &rv.ClinicID, &rv.Procedure, &rv.Rating, &rv.Title,
			&rv.Content, &rv.VisitDate, &rv.HelpfulCount, &rv.CreatedAt); err != nil {
			return nil, 0, err
		}
		rv.IsVerified = true
		out = append(out, rv)
	}
	return out, total, rows.Err()
}

func (r *PgRepository) RatingDistribution(ctx context.Context, clinicID string) (map[int]int, error) {
	rows, err := r.db.Query(ctx, `SELECT rating, COUNT(*) FROM reviews WHERE clinic_id = $1 GROUP BY rating`, clinicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]int{}
	for rows.Next() {
		var rating, n int
		if err := rows.Scan(&rating, &n); err != nil {
			return nil, err
		}
		out[rating] = n
	}
	return out, rows.Err()
}

// MarkHelpful bumps the counter. A non-empty voterKey is recorded so the same voter
// counts once; an empty key always counts.
func (r *PgRepository) MarkHelpful(ctx context.Context, reviewID uuid.UUID, voterKey string) (HelpfulResult, error) {
	var res HelpfulResult
	err := db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		counted := true
		if voterKey != "" {
			tag, err := tx.Exec(ctx, `
INSERT INTO review_helpful_votes (review_id, voter_key)
SELECT id, $2 FROM reviews WHERE id = $1
ON CONFLICT (review_id, voter_key) DO NOTHING
`, reviewID, voterKey)
			if err != nil {
				return err
			}
			counted = tag.RowsAffected() == 1
		}

		q := `UPDATE reviews SET helpful_count = helpful_count + 1 WHERE id = $1 RETURNING helpful_count`
		if !counted {
			q = `SELECT helpful_count FROM reviews WHERE id = $1`
		}
		if err := tx.QueryRow(ctx, q, reviewID).Scan(&res.HelpfulCount); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("mark helpful: %w", err)
		}
		res.Counted = counted
		return nil
	})
	return res, err
}
