package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/pkg/money"
)

const (
	ServiceConsultation = "consultation"
	ServiceLabTest      = "lab-test"
	ServicePrescription = "prescription"
)

const (
	StatusPending = "pending"
	StatusPaid    = "paid"
)

// Entry is a single line-item charge against a patient episode.
type Entry struct {
	ID                   uuid.UUID   `db:"id" json:"id"`
	PatientID            uuid.UUID   `db:"patient_id" json:"patient_id"`
	EpisodeNumber        string      `db:"episode_number" json:"episode_number"`
	ServiceType          string      `db:"service_type" json:"service_type"`
	ServiceDescription   string      `db:"service_description" json:"service_description"`
	Amount               money.Money `db:"amount" json:"amount"`
	Discount             money.Money `db:"discount" json:"discount"`
	TotalAmount          money.Money `db:"total_amount" json:"total_amount"`
	PaymentStatus        string      `db:"payment_status" json:"payment_status"`
	PaymentMethod        *string     `db:"payment_method" json:"payment_method,omitempty"`
	TransactionReference *string     `db:"transaction_reference" json:"transaction_reference,omitempty"`
	Notes                string      `db:"notes" json:"notes"`
	CreatedAt            time.Time   `db:"created_at" json:"created_at"`
}

// Summary totals the entries of one episode by payment status.
type Summary struct {
	EpisodeNumber string      `json:"episode_number"`
	Charged       money.Money `json:"charged"`
	Paid          money.Money `json:"paid"`
	Entries       int         `json:"entries"`
}

func Summarize(episodeNumber string, entries []*Entry) Summary {
	s := Summary{EpisodeNumber: episodeNumber, Entries: len(entries)}
	for _, e := range entries {
		if e.PaymentStatus == StatusPaid {
			s.Paid = s.Paid.Add(e.TotalAmount)
		} else {
			s.Charged = s.Charged.Add(e.TotalAmount)
		}
	}
	return s
}
