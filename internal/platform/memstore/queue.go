package memstore

import (
	"context"
	"sort"

	"github.com/ehr/frontdesk/internal/domain/workflow"
)

type queueRepo struct{ s *Store }

func (r *queueRepo) Enqueue(ctx context.Context, e *workflow.QueueEntry) (bool, error) {
	var inserted bool
	err := r.s.with(ctx, func(st *state) error {
		if _, ok := st.queue[e.EpisodeNumber]; ok {
			return nil
		}
		c := *e
		st.queue[e.EpisodeNumber] = &c
		inserted = true
		return nil
	})
	return inserted, err
}

func (r *queueRepo) Remove(ctx context.Context, episodeNumber string) error {
	return r.s.with(ctx, func(st *state) error {
		delete(st.queue, episodeNumber)
		return nil
	})
}

func (r *queueRepo) Len(ctx context.Context) (int, error) {
	var n int
	err := r.s.with(ctx, func(st *state) error {
		n = len(st.queue)
		return nil
	})
	return n, err
}

func (r *queueRepo) List(ctx context.Context) ([]*workflow.QueueEntry, error) {
	var out []*workflow.QueueEntry
	err := r.s.with(ctx, func(st *state) error {
		for _, e := range st.queue {
			c := *e
			out = append(out, &c)
		}
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i], out[j]
			if a.Priority != b.Priority {
				return a.Priority == workflow.PriorityHigh
			}
			if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
				return a.EnqueuedAt.Before(b.EnqueuedAt)
			}
			return a.EpisodeNumber < b.EpisodeNumber
		})
		return nil
	})
	return out, err
}
