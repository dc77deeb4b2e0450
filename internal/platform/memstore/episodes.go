package memstore

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/workflow"
)

type episodeRepo struct{ s *Store }

func (r *episodeRepo) Create(ctx context.Context, e *workflow.Episode) error {
	return r.s.with(ctx, func(st *state) error {
		if _, ok := st.episodes[e.EpisodeNumber]; ok {
			return workflow.ErrDuplicateEpisode
		}
		for _, other := range st.episodes {
			if other.PatientID == e.PatientID && other.Active() {
				return workflow.ErrActiveEpisodeExists
			}
		}
		e.Version = 1
		st.episodes[e.EpisodeNumber] = e.Clone()
		return nil
	})
}

func (r *episodeRepo) Get(ctx context.Context, number string) (*workflow.Episode, error) {
	var out *workflow.Episode
	err := r.s.with(ctx, func(st *state) error {
		e, ok := st.episodes[number]
		if !ok {
			return workflow.ErrEpisodeNotFound
		}
		out = e.Clone()
		return nil
	})
	return out, err
}

func (r *episodeRepo) Update(ctx context.Context, number string, fn func(e *workflow.Episode) error) (*workflow.Episode, error) {
	var out *workflow.Episode
	err := r.s.with(ctx, func(st *state) error {
		cur, ok := st.episodes[number]
		if !ok {
			return workflow.ErrEpisodeNotFound
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		st.episodes[number] = next
		out = next.Clone()
		return nil
	})
	return out, err
}

func (r *episodeRepo) FindActive(ctx context.Context, patientID uuid.UUID) (*workflow.Episode, error) {
	var out *workflow.Episode
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.episodes {
			if e.PatientID == patientID && e.Active() {
				if out == nil || e.RegisteredAt.After(out.RegisteredAt) {
					out = e
				}
			}
		}
		if out == nil {
			return workflow.ErrEpisodeNotFound
		}
		out = out.Clone()
		return nil
	})
	return out, err
}

func (r *episodeRepo) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*workflow.Episode, error) {
	var out []*workflow.Episode
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.episodes {
			if e.PatientID == patientID {
				out = append(out, e.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.After(out[j].RegisteredAt) })
		return nil
	})
	return out, err
}
