package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	entries Repository
}

func NewService(entries Repository) *Service {
	return &Service{entries: entries}
}

// CreateEntry validates and stores a charge. A zero total is filled in as
// amount minus discount; a non-zero total must match that difference.
func (s *Service) CreateEntry(ctx context.Context, e *Entry) error {
	if e.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if e.EpisodeNumber == "" {
		return fmt.Errorf("episode_number is required")
	}
	if e.ServiceType == "" {
		return fmt.Errorf("service_type is required")
	}
	if e.Amount.IsNegative() || e.Discount.IsNegative() {
		return fmt.Errorf("amount and discount must not be negative")
	}
	if e.Discount.GreaterThan(e.Amount) {
		return fmt.Errorf("discount %s exceeds amount %s", e.Discount, e.Amount)
	}
	net := e.Amount.Sub(e.Discount)
	if e.TotalAmount.IsZero() {
		e.TotalAmount = net
	} else if !e.TotalAmount.Equal(net) {
		return fmt.Errorf("total_amount %s does not equal amount minus discount %s", e.TotalAmount, net)
	}
	switch e.PaymentStatus {
	case StatusPending:
	case StatusPaid:
		if e.PaymentMethod == nil || *e.PaymentMethod == "" {
			return fmt.Errorf("payment_method is required for paid entries")
		}
	default:
		return fmt.Errorf("invalid payment_status: %s", e.PaymentStatus)
	}
	return s.entries.Create(ctx, e)
}

func (s *Service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	return s.entries.GetByID(ctx, id)
}

func (s *Service) ListByEpisode(ctx context.Context, episodeNumber string) ([]*Entry, error) {
	return s.entries.ListByEpisode(ctx, episodeNumber)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.entries.ListByPatient(ctx, patientID, limit, offset)
}
