package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/frontdesk/internal/platform/db"
	"github.com/ehr/frontdesk/pkg/money"
)

const pgUniqueViolation = "23505"

// =========== Episode Repository ===========

type episodeRepoPG struct {
	pool *pgxpool.Pool
	tx   *db.TxManager
}

func NewEpisodeRepo(pool *pgxpool.Pool) EpisodeRepository {
	return &episodeRepoPG{pool: pool, tx: db.NewTxManager(pool)}
}

const episodeCols = `episode_number, patient_id, encounter_type, status, registered_at,
	consultation_fee::text, fees_paid, clinician_id, notes, prescriptions, lab_tests, completed_at, version`

func (r *episodeRepoPG) Create(ctx context.Context, e *Episode) error {
	rx, lab, err := encodeItems(e)
	if err != nil {
		return err
	}
	e.Version = 1
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO episode (episode_number, patient_id, encounter_type, status, registered_at,
			consultation_fee, fees_paid, clinician_id, notes, prescriptions, lab_tests, completed_at, version)
		VALUES ($1,$2,$3,$4,$5,$6::numeric,$7,$8,$9,$10::jsonb,$11::jsonb,$12,$13)`,
		e.EpisodeNumber, e.PatientID, e.Type, e.Status, e.RegisteredAt,
		e.ConsultationFee.String(), e.FeesPaid, e.ClinicianID, e.Notes, rx, lab, e.CompletedAt, e.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == "uq_episode_active_patient" {
			return ErrActiveEpisodeExists
		}
		return ErrDuplicateEpisode
	}
	return err
}

func (r *episodeRepoPG) Get(ctx context.Context, number string) (*Episode, error) {
	return scanEpisode(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+episodeCols+` FROM episode WHERE episode_number = $1`, number))
}

func (r *episodeRepoPG) Update(ctx context.Context, number string, fn func(e *Episode) error) (*Episode, error) {
	var out *Episode
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		e, err := scanEpisode(q.QueryRow(ctx,
			`SELECT `+episodeCols+` FROM episode WHERE episode_number = $1 FOR UPDATE`, number))
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		rx, lab, err := encodeItems(e)
		if err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `
			UPDATE episode SET
				status=$3, fees_paid=$4, clinician_id=$5, notes=$6,
				prescriptions=$7::jsonb, lab_tests=$8::jsonb, completed_at=$9,
				version=version+1, updated_at=NOW()
			WHERE episode_number = $1 AND version = $2`,
			number, e.Version, e.Status, e.FeesPaid, e.ClinicianID, e.Notes, rx, lab, e.CompletedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentModification
		}
		e.Version++
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepoPG) FindActive(ctx context.Context, patientID uuid.UUID) (*Episode, error) {
	return scanEpisode(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+episodeCols+` FROM episode WHERE patient_id = $1 AND status <> 'completed'
		ORDER BY registered_at DESC LIMIT 1`, patientID))
}

func (r *episodeRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Episode, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+episodeCols+` FROM episode WHERE patient_id = $1 ORDER BY registered_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func scanEpisode(row pgx.Row) (*Episode, error) {
	var e Episode
	var fee string
	var rx, lab []byte
	err := row.Scan(&e.EpisodeNumber, &e.PatientID, &e.Type, &e.Status, &e.RegisteredAt,
		&fee, &e.FeesPaid, &e.ClinicianID, &e.Notes, &rx, &lab, &e.CompletedAt, &e.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEpisodeNotFound
	}
	if err != nil {
		return nil, err
	}
	if e.ConsultationFee, err = money.Parse(fee); err != nil {
		return nil, fmt.Errorf("episode %s: %w", e.EpisodeNumber, err)
	}
	if err := json.Unmarshal(rx, &e.Prescriptions); err != nil {
		return nil, fmt.Errorf("episode %s prescriptions: %w", e.EpisodeNumber, err)
	}
	if err := json.Unmarshal(lab, &e.LabTests); err != nil {
		return nil, fmt.Errorf("episode %s lab tests: %w", e.EpisodeNumber, err)
	}
	return &e, nil
}

func encodeItems(e *Episode) (string, string, error) {
	rx, err := json.Marshal(nonNil(e.Prescriptions))
	if err != nil {
		return "", "", fmt.Errorf("encode prescriptions: %w", err)
	}
	lab, err := json.Marshal(nonNil(e.LabTests))
	if err != nil {
		return "", "", fmt.Errorf("encode lab tests: %w", err)
	}
	return string(rx), string(lab), nil
}

func nonNil(items []ServiceItem) []ServiceItem {
	if items == nil {
		return []ServiceItem{}
	}
	return items
}

// =========== Queue Repository ===========

type queueRepoPG struct {
	pool *pgxpool.Pool
}

func NewQueueRepo(pool *pgxpool.Pool) QueueRepository {
	return &queueRepoPG{pool: pool}
}

func (r *queueRepoPG) Enqueue(ctx context.Context, e *QueueEntry) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO queue_entry (episode_number, patient_id, enqueued_at, priority, status)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (episode_number) DO NOTHING`,
		e.EpisodeNumber, e.PatientID, e.EnqueuedAt, e.Priority, e.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *queueRepoPG) Remove(ctx context.Context, episodeNumber string) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM queue_entry WHERE episode_number = $1`, episodeNumber)
	return err
}

func (r *queueRepoPG) Len(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM queue_entry`).Scan(&n)
	return n, err
}

func (r *queueRepoPG) List(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT episode_number, patient_id, enqueued_at, priority, status FROM queue_entry
		ORDER BY CASE priority WHEN 'high' THEN 0 ELSE 1 END, enqueued_at, episode_number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.EpisodeNumber, &e.PatientID, &e.EnqueuedAt, &e.Priority, &e.Status); err != nil {
			return nil, err
		}
		items = append(items, &e)
	}
	return items, rows.Err()
}
