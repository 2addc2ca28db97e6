package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clinicbooking/internal/events"
	"clinicbooking/internal/review"
	"clinicbooking/pkg/db"
)

const (
	accessCodeConstraint = "booking_requests_access_code_key"
	reviewConstraint     = "reviews_booking_requester_key"
)

type PgStore struct {
	db     *pgxpool.Pool
	events *events.Repository
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{db: pool, events: events.NewRepository(pool)}
}

const selectBooking = `
SELECT id, clinic_id, requester_kind, COALESCE(user_id, ''), COALESCE(guest_email, ''), COALESCE(guest_phone, ''),
       COALESCE(access_code, ''), procedure, to_char(preferred_date, 'YYYY-MM-DD'), preferred_time_slot,
       budget, notes, locale, photos, status, proposed_options, confirmed_option, version, created_at, updated_at
FROM booking_requests
`

func (s *PgStore) Create(ctx context.Context, b *BookingRequest, ev events.Event) error {
	budget, err := jsonOrNil(b.Budget)
	if err != nil {
		return err
	}
	proposed, err := json.Marshal(nonNilOptions(b.ProposedOptions))
	if err != nil {
		return err
	}
	photos := b.Photos
	if photos == nil {
		photos = []string{}
	}

	err = db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		const q = `
INSERT INTO booking_requests (
  id, clinic_id, requester_kind, user_id, guest_email, guest_phone, access_code,
  procedure, preferred_date, preferred_time_slot, budget, notes, locale, photos,
  status, proposed_options, confirmed_option, version, created_at, updated_at
) VALUES (
  $1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
  $8, ($9::text)::date, $10, $11, $12, $13, $14,
  $15, $16, NULL, $17, $18, $19
)
`
		if _, err := tx.Exec(ctx, q,
			b.ID, b.ClinicID, string(b.Requester.Kind), b.Requester.UserID, b.Requester.Email, b.Requester.Phone,
			b.Requester.AccessCode, b.Procedure, b.PreferredDate, b.PreferredTimeSlot, budget, b.Notes, b.Locale,
			photos, string(b.Status), proposed, b.Version, b.CreatedAt, b.UpdatedAt,
		); err != nil {
			return err
		}
		for i, h := range b.StatusHistory {
			if err := insertHistory(ctx, tx, b.ID, i, h); err != nil {
				return err
			}
		}
		return events.Insert(ctx, tx, ev)
	})
	if db.IsUniqueViolation(err, accessCodeConstraint) {
		return ErrAccessCodeTaken
	}
	return err
}

func insertHistory(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, seq int, h HistoryEntry) error {
	const q = `
INSERT INTO booking_status_history (booking_id, seq, status, changed_at, note, forced)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.Exec(ctx, q, bookingID, seq, string(h.Status), h.ChangedAt, h.Note, h.Forced)
	return err
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*BookingRequest, error) {
	b, err := scanBooking(s.db.QueryRow(ctx, selectBooking+`WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	list := []BookingRequest{*b}
	if err := s.attachHistory(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *PgStore) ListByUser(ctx context.Context, userID string, f Filter) ([]BookingRequest, int, error) {
	return s.list(ctx, []string{"requester_kind = 'authenticated'", "user_id = $1"}, []any{userID}, f, "created_at DESC")
}

func (s *PgStore) ListByGuestEmail(ctx context.Context, email string) ([]BookingRequest, error) {
	rows, err := s.db.Query(ctx, selectBooking+`
WHERE requester_kind = 'guest' AND lower(guest_email) = lower($1)
ORDER BY created_at DESC
`, email)
	if err != nil {
		return nil, err
	}
	out, err := collectBookings(rows)
	if err != nil {
		return nil, err
	}
	return out, s.attachHistory(ctx, out)
}

func (s *PgStore) List(ctx context.Context, f Filter) ([]BookingRequest, int, error) {
	return s.list(ctx, nil, nil, f, "created_at ASC")
}

// list pages through bookings. Conditions reference params by position; the status
// filter and paging params are appended after them.
func (s *PgStore) list(ctx context.Context, where []string, params []any, f Filter, order string) ([]BookingRequest, int, error) {
	if f.Status != "" {
		params = append(params, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(params)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ") + "\n"
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM booking_requests `+clause, params...).Scan(&total); err != nil {
		return nil, 0, err
	}

	params = append(params, f.Limit, f.Offset())
	q := selectBooking + clause + fmt.Sprintf("ORDER BY %s\nLIMIT $%d OFFSET $%d", order, len(params)-1, len(params))
	rows, err := s.db.Query(ctx, q, params...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, s.attachHistory(ctx, out)
}

func (s *PgStore) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM booking_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[Status(st)] = n
	}
	return out, rows.Err()
}

func (s *PgStore) ApplyTransition(ctx context.Context, next *BookingRequest, expectedVersion int, ev events.Event) error {
	proposed, err := json.Marshal(nonNilOptions(next.ProposedOptions))
	if err != nil {
		return err
	}
	confirmed, err := jsonOrNil(next.ConfirmedOption)
	if err != nil {
		return err
	}
	last := next.StatusHistory[len(next.StatusHistory)-1]

	err = db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		const q = `
UPDATE booking_requests
SET status = $3, proposed_options = $4, confirmed_option = $5, updated_at = $6, version = version + 1
WHERE id = $1 AND version = $2
`
		tag, err := tx.Exec(ctx, q, next.ID, expectedVersion, string(next.Status), proposed, confirmed, next.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		if err := insertHistory(ctx, tx, next.ID, len(next.StatusHistory)-1, last); err != nil {
			return err
		}
		return events.Insert(ctx, tx, ev)
	})
	if db.IsUniqueViolation(err, "") {
		return ErrConflict
	}
	return err
}

func (s *PgStore) HasReview(ctx context.Context, bookingID uuid.UUID, requesterKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE booking_id = $1 AND requester_key = $2)`,
		bookingID, requesterKey,
	).Scan(&exists)
	return exists, err
}

func (s *PgStore) CreateReview(ctx context.Context, rv review.Review, expectedVersion int, ev events.Event) error {
	err := db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		const q = `
UPDATE booking_requests
SET version = version + 1
WHERE id = $1 AND version = $2 AND status = 'confirmed'
`
		tag, err := tx.Exec(ctx, q, rv.BookingID, expectedVersion)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}
		if err := review.Insert(ctx, tx, rv); err != nil {
			return err
		}
		return events.Insert(ctx, tx, ev)
	})
	if db.IsUniqueViolation(err, reviewConstraint) {
		return ErrAlreadyReviewed
	}
	return err
}

func (s *PgStore) ListEvents(ctx context.Context, bookingID uuid.UUID) ([]events.Event, error) {
	return s.events.ListByBooking(ctx, bookingID)
}

func scanBooking(row pgx.Row) (*BookingRequest, error) {
	var (
		b        BookingRequest
		kind     string
		status   string
		budget   []byte
		proposed []byte
		confirm  []byte
	)
	if err := row.Scan(
		&b.ID, &b.ClinicID, &kind, &b.Requester.UserID, &b.Requester.Email, &b.Requester.Phone,
		&b.Requester.AccessCode, &b.Procedure, &b.PreferredDate, &b.PreferredTimeSlot,
		&budget, &b.Notes, &b.Locale, &b.Photos, &status, &proposed, &confirm, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.Requester.Kind = RequesterKind(kind)
	b.Status = Status(status)

	if len(budget) > 0 {
		b.Budget = &Budget{}
		if err := json.Unmarshal(budget, b.Budget); err != nil {
			return nil, fmt.Errorf("decode budget: %w", err)
		}
	}
	if len(proposed) > 0 {
		if err := json.Unmarshal(proposed, &b.ProposedOptions); err != nil {
			return nil, fmt.Errorf("decode proposed options: %w", err)
		}
	}
	if len(confirm) > 0 {
		b.ConfirmedOption = &ConfirmedOption{}
		if err := json.Unmarshal(confirm, b.ConfirmedOption); err != nil {
			return nil, fmt.Errorf("decode confirmed option: %w", err)
		}
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]BookingRequest, error) {
	defer rows.Close()
	var out []BookingRequest
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// attachHistory loads the ledger for every booking in one query.
func (s *PgStore) attachHistory(ctx context.Context, list []BookingRequest) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	index := make(map[uuid.UUID]int, len(list))
	for i := range list {
		ids[i] = list[i].ID.String()
		index[list[i].ID] = i
	}

	const q = `
SELECT booking_id, status, changed_at, note, forced
FROM booking_status_history
WHERE booking_id = ANY($1::uuid[])
ORDER BY booking_id, seq ASC
`
	rows, err := s.db.Query(ctx, q, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     uuid.UUID
			status string
			h      HistoryEntry
		)
		if err := rows.Scan(&id, &status, &h.ChangedAt, &h.Note, &h.Forced); err != nil {
			return err
		}
		h.Status = Status(status)
		i := index[id]
		list[i].StatusHistory = append(list[i].StatusHistory, h)
	}
	return rows.Err()
}

func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func nonNilOptions(o []ProposedOption) []ProposedOption {
	if o == nil {
		return []ProposedOption{}
	}
	return o
}
