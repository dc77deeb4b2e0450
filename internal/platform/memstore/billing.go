package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/billing"
)

type billingRepo struct{ s *Store }

func (r *billingRepo) Create(ctx context.Context, e *billing.Entry) error {
	return r.s.with(ctx, func(st *state) error {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = time.Now().UTC()
		c := *e
		st.entries = append(st.entries, &c)
		return nil
	})
}

func (r *billingRepo) GetByID(ctx context.Context, id uuid.UUID) (*billing.Entry, error) {
	var out *billing.Entry
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.entries {
			if e.ID == id {
				c := *e
				out = &c
				return nil
			}
		}
		return billing.ErrNotFound
	})
	return out, err
}

// ListByEpisode returns entries in creation order.
func (r *billingRepo) ListByEpisode(ctx context.Context, episodeNumber string) ([]*billing.Entry, error) {
	var out []*billing.Entry
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.entries {
			if e.EpisodeNumber == episodeNumber {
				c := *e
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

// ListByPatient returns entries newest first.
func (r *billingRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*billing.Entry, int, error) {
	var out []*billing.Entry
	var total int
	err := r.s.with(ctx, func(st *state) error {
		var all []*billing.Entry
		for i := len(st.entries) - 1; i >= 0; i-- {
			if e := st.entries[i]; e.PatientID == patientID {
				c := *e
				all = append(all, &c)
			}
		}
		total = len(all)
		out = page(all, limit, offset)
		return nil
	})
	return out, total, err
}
