package workflow

import (
	"context"

	"github.com/google/uuid"
)

type EpisodeRepository interface {
	// Create fails with ErrDuplicateEpisode or ErrActiveEpisodeExists.
	Create(ctx context.Context, e *Episode) error
	Get(ctx context.Context, number string) (*Episode, error)
	// Update loads the episode exclusively, applies fn, and stores the result
	// with its version bumped. Nothing is written when fn fails.
	Update(ctx context.Context, number string, fn func(e *Episode) error) (*Episode, error)
	// FindActive returns the patient's non-completed episode or ErrEpisodeNotFound.
	FindActive(ctx context.Context, patientID uuid.UUID) (*Episode, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Episode, error)
}

type QueueRepository interface {
	// Enqueue inserts e unless its episode is already queued.
	Enqueue(ctx context.Context, e *QueueEntry) (inserted bool, err error)
	Remove(ctx context.Context, episodeNumber string) error
	Len(ctx context.Context) (int, error)
	// List orders high priority first, then by enqueue time.
	List(ctx context.Context) ([]*QueueEntry, error)
}
