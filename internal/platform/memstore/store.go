// Package memstore is an in-process implementation of the patient, billing,
// episode and queue repositories. All state sits behind one mutex; RunInTx
// holds it for the whole unit of work and restores a snapshot on failure.
package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/billing"
	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/internal/domain/workflow"
)

type txKey struct{}

type state struct {
	patients map[uuid.UUID]*patient.Patient
	entries  []*billing.Entry
	episodes map[string]*workflow.Episode
	queue    map[string]*workflow.QueueEntry
}

func newState() state {
	return state{
		patients: make(map[uuid.UUID]*patient.Patient),
		episodes: make(map[string]*workflow.Episode),
		queue:    make(map[string]*workflow.QueueEntry),
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	c.entries = append(c.entries, s.entries...)
	for k, v := range s.episodes {
		c.episodes[k] = v
	}
	for k, v := range s.queue {
		c.queue[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st state
}

func New() *Store {
	return &Store{st: newState()}
}

// RunInTx runs fn with exclusive access to the store. Nested calls join the
// outer unit of work.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stored values are replaced, never mutated, so a shallow copy is enough.
	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// with runs fn under the store mutex unless ctx already holds it.
func (s *Store) with(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

func (s *Store) Patients() patient.Repository { return &patientRepo{s} }
func (s *Store) Billing() billing.Repository { return &billingRepo{s} }
func (s *Store) Episodes() workflow.EpisodeRepository { return &episodeRepo{s} }
func (s *Store) Queue() workflow.QueueRepository { return &queueRepo{s} }
