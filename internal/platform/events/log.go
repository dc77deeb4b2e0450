package events

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes events to the logger instead of a broker. Used when no
// AMQP_URL is configured.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (p *Log) Publish(_ context.Context, ev Event) error {
	p.logger.Info().
		Str("event", ev.Type).
		Str("episode_number", ev.EpisodeNumber).
		Str("patient_id", ev.PatientID).
		Str("status", ev.Status).
		Msg("workflow event")
	return nil
}

// BestEffort logs publish failures and never returns them.
type BestEffort struct {
	next   Publisher
	logger zerolog.Logger
}

func NewBestEffort(next Publisher, logger zerolog.Logger) *BestEffort {
	return &BestEffort{next: next, logger: logger}
}

func (p *BestEffort) Publish(ctx context.Context, ev Event) error {
	if err := p.next.Publish(ctx, ev); err != nil {
		p.logger.Warn().Err(err).
			Str("event", ev.Type).
			Str("episode_number", ev.EpisodeNumber).
			Msg("event publish failed")
	}
	return nil
}
