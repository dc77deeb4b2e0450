package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/patient"
)

type patientRepo struct{ s *Store }

func (r *patientRepo) Create(ctx context.Context, p *patient.Patient) error {
	return r.s.with(ctx, func(st *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if _, ok := st.patients[p.ID]; ok {
			return fmt.Errorf("patient %s already exists", p.ID)
		}
		for _, other := range st.patients {
			if other.MRN == p.MRN {
				return fmt.Errorf("%w: %s", patient.ErrDuplicateMRN, p.MRN)
			}
		}
		now := time.Now().UTC()
		p.CreatedAt, p.UpdatedAt = now, now
		c := *p
		st.patients[p.ID] = &c
		return nil
	})
}

func (r *patientRepo) GetByID(ctx context.Context, id uuid.UUID) (*patient.Patient, error) {
	var out *patient.Patient
	err := r.s.with(ctx, func(st *state) error {
		p, ok := st.patients[id]
		if !ok {
			return patient.ErrNotFound
		}
		c := *p
		out = &c
		return nil
	})
	return out, err
}

func (r *patientRepo) GetByMRN(ctx context.Context, mrn string) (*patient.Patient, error) {
	var out *patient.Patient
	err := r.s.with(ctx, func(st *state) error {
		for _, p := range st.patients {
			if p.MRN == mrn {
				c := *p
				out = &c
				return nil
			}
		}
		return patient.ErrNotFound
	})
	return out, err
}

func (r *patientRepo) Update(ctx context.Context, p *patient.Patient) error {
	return r.s.with(ctx, func(st *state) error {
		cur, ok := st.patients[p.ID]
		if !ok {
			return patient.ErrNotFound
		}
		c := *p
		c.MRN = cur.MRN
		c.CreatedAt = cur.CreatedAt
		c.UpdatedAt = time.Now().UTC()
		st.patients[p.ID] = &c
		*p = c
		return nil
	})
}

func (r *patientRepo) List(ctx context.Context, limit, offset int) ([]*patient.Patient, int, error) {
	var out []*patient.Patient
	var total int
	err := r.s.with(ctx, func(st *state) error {
		all := make([]*patient.Patient, 0, len(st.patients))
		for _, p := range st.patients {
			c := *p
			all = append(all, &c)
		}
		sort.Slice(all, func(i, j int) bool {
			if all[i].LastName != all[j].LastName {
				return all[i].LastName < all[j].LastName
			}
			return all[i].FirstName < all[j].FirstName
		})
		total = len(all)
		out = page(all, limit, offset)
		return nil
	})
	return out, total, err
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
