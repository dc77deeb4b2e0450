// Package events carries workflow transition notifications to other
// systems. Delivery is best effort.
package events

import (
	"context"
	"time"
)

const (
	EpisodeRegistered          = "episode.registered"
	EpisodeFeePaid             = "episode.fee_paid"
	EpisodeQueued              = "episode.queued"
	EpisodeConsultationStarted = "episode.consultation_started"
	EpisodeServiceAdded        = "episode.service_added"
	EpisodeCompleted           = "episode.completed"
)

type Event struct {
	ID            string            `json:"id"`
	Type          string            `json:"type"`
	Tenant        string            `json:"tenant,omitempty"`
	EpisodeNumber string            `json:"episode_number"`
	PatientID     string            `json:"patient_id"`
	Status        string            `json:"status"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
