package workflow

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/pkg/money"
)

type EncounterType string

const (
	Outpatient EncounterType = "outpatient"
	Inpatient  EncounterType = "inpatient"
	Emergency  EncounterType = "emergency"
)

func (t EncounterType) Valid() bool {
	switch t {
	case Outpatient, Inpatient, Emergency:
		return true
	}
	return false
}

// Prefix is the two-letter episode number prefix.
func (t EncounterType) Prefix() string {
	switch t {
	case Inpatient:
		return "IP"
	case Emergency:
		return "EM"
	default:
		return "OP"
	}
}

func (t EncounterType) Priority() Priority {
	if t == Emergency {
		return PriorityHigh
	}
	return PriorityNormal
}

// ConsultationFee is 50 for emergencies and 30 for everything else.
func (t EncounterType) ConsultationFee() money.Money {
	if t == Emergency {
		return money.FromInt(50)
	}
	return money.FromInt(30)
}

type Status string

const (
	StatusRegistered     Status = "registered"
	StatusInQueue        Status = "in-queue"
	StatusInConsultation Status = "in-consultation"
	StatusTreatment      Status = "treatment"
	StatusCompleted      Status = "completed"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

const QueueStatusWaiting = "waiting"

// Fixed pricing and queue policy.
var (
	DefaultLabTestCost      = money.MustParse("25.00")
	DefaultPrescriptionCost = money.MustParse("15.00")
)

const MinutesPerQueuePosition = 15

type ServiceKind string

const (
	KindLabTest      ServiceKind = "lab-test"
	KindPrescription ServiceKind = "prescription"
	KindRadiology    ServiceKind = "radiology"
)

// ServiceItem is one prescription or lab test ordered during an episode,
// stamped with the episode status at the time it was added.
type ServiceItem struct {
	Kind           ServiceKind `json:"kind"`
	Name           string      `json:"name"`
	Instructions   string      `json:"instructions,omitempty"`
	Cost           money.Money `json:"cost"`
	Stage          Status      `json:"stage"`
	BillingEntryID uuid.UUID   `json:"billing_entry_id"`
	AddedAt        time.Time   `json:"added_at"`
}

// Episode is one visit, from registration to completion.
type Episode struct {
	EpisodeNumber   string        `db:"episode_number" json:"episode_number"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	Type            EncounterType `db:"encounter_type" json:"encounter_type"`
	Status          Status        `db:"status" json:"status"`
	RegisteredAt    time.Time     `db:"registered_at" json:"registered_at"`
	ConsultationFee money.Money   `db:"consultation_fee" json:"consultation_fee"`
	FeesPaid        bool          `db:"fees_paid" json:"fees_paid"`
	ClinicianID     *string       `db:"clinician_id" json:"clinician_id,omitempty"`
	Notes           *string       `db:"notes" json:"notes,omitempty"`
	Prescriptions   []ServiceItem `db:"prescriptions" json:"prescriptions"`
	LabTests        []ServiceItem `db:"lab_tests" json:"lab_tests"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	Version         int           `db:"version" json:"version"`
}

func (e *Episode) Active() bool {
	return e.Status != StatusCompleted
}

// Clone returns a copy that shares no slices or pointers with e.
func (e *Episode) Clone() *Episode {
	c := *e
	c.Prescriptions = append([]ServiceItem(nil), e.Prescriptions...)
	c.LabTests = append([]ServiceItem(nil), e.LabTests...)
	if e.ClinicianID != nil {
		v := *e.ClinicianID
		c.ClinicianID = &v
	}
	if e.Notes != nil {
		v := *e.Notes
		c.Notes = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

type QueueEntry struct {
	EpisodeNumber string    `db:"episode_number" json:"episode_number"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	EnqueuedAt    time.Time `db:"enqueued_at" json:"enqueued_at"`
	Priority      Priority  `db:"priority" json:"priority"`
	Status        string    `db:"status" json:"status"`
}

// Stage is the patient-facing view of a raw episode status.
type Stage struct {
	Name             string   `json:"stage"`
	NextStep         string   `json:"next_step"`
	AvailableActions []string `json:"available_actions"`
}

// StageFor maps every raw status, known or not, to its patient-facing stage.
func StageFor(s Status) Stage {
	switch s {
	case StatusRegistered:
		return Stage{"payment", "pay consultation fee", []string{"pay-consultation-fee"}}
	case StatusInQueue:
		return Stage{"queue", "waiting for consultation", []string{"view-queue-position"}}
	case StatusInConsultation:
		return Stage{"consultation", "consultation in progress",
			[]string{"add-notes", "prescribe-medication", "order-lab-tests", "discharge"}}
	case StatusTreatment:
		return Stage{"services", "complete prescribed services",
			[]string{"pay-services", "collect-medication", "lab-tests"}}
	default:
		return Stage{"discharge", "episode completed", []string{"generate-summary"}}
	}
}

// PatientWorkflow describes where a patient stands in their current visit.
// CurrentEpisode is nil when the patient has no active episode.
type PatientWorkflow struct {
	Patient          *patient.Patient `json:"patient"`
	CurrentEpisode   *Episode         `json:"current_episode"`
	Status           string           `json:"status"`
	NextStep         string           `json:"next_step"`
	AvailableActions []string         `json:"available_actions"`
}

const NoActiveEpisode = "no active episode"
