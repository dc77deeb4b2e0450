package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/frontdesk/internal/platform/db"
	"github.com/ehr/frontdesk/pkg/money"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

// Amounts travel as text so NUMERIC keeps its exact scale.
const entryCols = `id, patient_id, episode_number, service_type, service_description,
	amount::text, discount::text, total_amount::text,
	payment_status, payment_method, transaction_reference, notes, created_at`

func (r *repoPG) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO billing_entry (id, patient_id, episode_number, service_type, service_description,
			amount, discount, total_amount, payment_status, payment_method, transaction_reference, notes)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8::numeric,$9,$10,$11,$12)
		RETURNING created_at`,
		e.ID, e.PatientID, e.EpisodeNumber, e.ServiceType, e.ServiceDescription,
		e.Amount.String(), e.Discount.String(), e.TotalAmount.String(),
		e.PaymentStatus, e.PaymentMethod, e.TransactionReference, e.Notes,
	).Scan(&e.CreatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Entry, error) {
	e, err := scanEntry(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+entryCols+` FROM billing_entry WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func (r *repoPG) ListByEpisode(ctx context.Context, episodeNumber string) ([]*Entry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+entryCols+` FROM billing_entry WHERE episode_number = $1 ORDER BY created_at, id`, episodeNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM billing_entry WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+entryCols+` FROM billing_entry WHERE patient_id = $1
		ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var amount, discount, total string
	if err := row.Scan(&e.ID, &e.PatientID, &e.EpisodeNumber, &e.ServiceType, &e.ServiceDescription,
		&amount, &discount, &total,
		&e.PaymentStatus, &e.PaymentMethod, &e.TransactionReference, &e.Notes, &e.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if e.Amount, err = money.Parse(amount); err != nil {
		return nil, fmt.Errorf("billing entry %s: %w", e.ID, err)
	}
	if e.Discount, err = money.Parse(discount); err != nil {
		return nil, fmt.Errorf("billing entry %s: %w", e.ID, err)
	}
	if e.TotalAmount, err = money.Parse(total); err != nil {
		return nil, fmt.Errorf("billing entry %s: %w", e.ID, err)
	}
	return &e, nil
}
