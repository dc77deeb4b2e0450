package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/billing"
	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/internal/platform/db"
	"github.com/ehr/frontdesk/internal/platform/events"
	"github.com/ehr/frontdesk/pkg/money"
)

// PatientStore is the patient registration capability the workflow needs.
type PatientStore interface {
	CreatePatient(ctx context.Context, p *patient.Patient) error
	GetPatient(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// BillingStore submits and reads billing entries.
type BillingStore interface {
	CreateEntry(ctx context.Context, e *billing.Entry) error
	ListByEpisode(ctx context.Context, episodeNumber string) ([]*billing.Entry, error)
}

// TxRunner runs fn atomically. Repositories called with the ctx passed to
// fn join the same unit of work.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Deps struct {
	Episodes EpisodeRepository
	Queue    QueueRepository
	Patients PatientStore
	Billing  BillingStore
	Tx       TxRunner
	Locks    Locker
	// Events receives workflow events after commit. Publish errors are
	// dropped, so a publisher that can fail should be wrapped in
	// events.BestEffort to get them logged.
	Events   Publisher
	Now      func() time.Time
}

// Service drives episodes through registration, payment, queueing,
// consultation, services and completion.
type Service struct {
	episodes EpisodeRepository
	queue    QueueRepository
	patients PatientStore
	billing  BillingStore
	tx       TxRunner
	locks    Locker
	events   Publisher
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		episodes: d.Episodes,
		queue:    d.Queue,
		patients: d.Patients,
		billing:  d.Billing,
		tx:       d.Tx,
		locks:    d.Locks,
		events:   d.Events,
		now:      d.Now,
	}
	if s.tx == nil {
		s.tx = directTx{}
	}
	if s.locks == nil {
		s.locks = nopLocker{}
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterRequest struct {
	Patient *patient.Patient
	Type    EncounterType
}

type RegisterResult struct {
	Patient          *patient.Patient `json:"patient"`
	Episode          *Episode         `json:"episode"`
	BillingEntry     *billing.Entry   `json:"billing_entry"`
	NextStep         string           `json:"next_step"`
	AvailableActions []string         `json:"available_actions"`
}

// RegisterPatient creates the patient, opens an episode and bills the
// consultation fee as one unit.
func (s *Service) RegisterPatient(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.Patient == nil {
		return nil, fmt.Errorf("%w: patient is required", ErrInvalidInput)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown encounter type %q", ErrInvalidInput, req.Type)
	}

	res := &RegisterResult{
		Patient:          req.Patient,
		NextStep:         "pay consultation fee",
		AvailableActions: []string{"pay-fee", "view-patient"},
	}
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.patients.CreatePatient(ctx, req.Patient); err != nil {
			return err
		}
		var err error
		res.Episode, res.BillingEntry, err = s.openEpisode(ctx, req.Patient.ID, req.Type)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	s.publish(ctx, events.EpisodeRegistered, res.Episode, nil)
	return res, nil
}

type OpenResult struct {
	Episode      *Episode       `json:"episode"`
	BillingEntry *billing.Entry `json:"billing_entry"`
	NextStep     string         `json:"next_step"`
}

// OpenEpisode starts a new visit for an existing patient.
func (s *Service) OpenEpisode(ctx context.Context, patientID uuid.UUID, t EncounterType) (*OpenResult, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown encounter type %q", ErrInvalidInput, t)
	}
	unlock, err := s.locks.Lock(ctx, patientLockKey(patientID))
	if err != nil {
		return nil, fmt.Errorf("open episode failed: %w", err)
	}
	defer unlock()

	res := &OpenResult{NextStep: "pay consultation fee"}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
			return err
		}
		active, err := s.episodes.FindActive(ctx, patientID)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrActiveEpisodeExists, active.EpisodeNumber)
		}
		if !errors.Is(err, ErrEpisodeNotFound) {
			return err
		}
		res.Episode, res.BillingEntry, err = s.openEpisode(ctx, patientID, t)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open episode failed: %w", err)
	}
	s.publish(ctx, events.EpisodeRegistered, res.Episode, nil)
	return res, nil
}

func (s *Service) openEpisode(ctx context.Context, patientID uuid.UUID, t EncounterType) (*Episode, *billing.Entry, error) {
	now := s.now()
	ep := &Episode{
		EpisodeNumber:   NewEpisodeNumber(t, now),
		PatientID:       patientID,
		Type:            t,
		Status:          StatusRegistered,
		RegisteredAt:    now,
		ConsultationFee: t.ConsultationFee(),
		Prescriptions:   []ServiceItem{},
		LabTests:        []ServiceItem{},
	}
	if err := s.episodes.Create(ctx, ep); err != nil {
		return nil, nil, err
	}
	entry := &billing.Entry{
		PatientID:          patientID,
		EpisodeNumber:      ep.EpisodeNumber,
		ServiceType:        billing.ServiceConsultation,
		ServiceDescription: fmt.Sprintf("Consultation fee (%s)", t),
		Amount:             ep.ConsultationFee,
		Discount:           money.Zero,
		TotalAmount:        ep.ConsultationFee,
		PaymentStatus:      billing.StatusPending,
		Notes:              "Initial consultation fee",
	}
	if err := s.billing.CreateEntry(ctx, entry); err != nil {
		return nil, nil, err
	}
	return ep, entry, nil
}

type PaymentRequest struct {
	Method               string
	TransactionReference *string
}

type PaymentResult struct {
	Message      string         `json:"message"`
	Episode      *Episode       `json:"episode"`
	BillingEntry *billing.Entry `json:"billing_entry"`
	NextStep     string         `json:"next_step"`
}

// PayConsultationFee records the payment and moves a registered episode
// into the queue stage. The fee can only be paid once.
func (s *Service) PayConsultationFee(ctx context.Context, number string, req PaymentRequest) (*PaymentResult, error) {
	if strings.TrimSpace(req.Method) == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrInvalidInput)
	}
	unlock, err := s.locks.Lock(ctx, episodeLockKey(number))
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}
	defer unlock()

	res := &PaymentResult{Message: "Consultation fee paid", NextStep: "waiting in queue"}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ep, err := s.episodes.Update(ctx, number, func(e *Episode) error {
			if !e.Active() {
				return ErrEpisodeClosed
			}
			if e.FeesPaid {
				return ErrFeeAlreadyPaid
			}
			e.FeesPaid = true
			if e.Status == StatusRegistered {
				e.Status = StatusInQueue
			}
			return nil
		})
		if err != nil {
			return err
		}
		method := req.Method
		entry := &billing.Entry{
			PatientID:            ep.PatientID,
			EpisodeNumber:        ep.EpisodeNumber,
			ServiceType:          billing.ServiceConsultation,
			ServiceDescription:   "Consultation fee payment",
			Amount:               ep.ConsultationFee,
			Discount:             money.Zero,
			TotalAmount:          ep.ConsultationFee,
			PaymentStatus:        billing.StatusPaid,
			PaymentMethod:        &method,
			TransactionReference: req.TransactionReference,
			Notes:                "Consultation fee paid",
		}
		if err := s.billing.CreateEntry(ctx, entry); err != nil {
			return err
		}
		res.Episode, res.BillingEntry = ep, entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("payment failed: %w", err)
	}
	s.publish(ctx, events.EpisodeFeePaid, res.Episode, map[string]string{"payment_method": req.Method})
	return res, nil
}

type QueueResult struct {
	Entry                *QueueEntry `json:"entry"`
	Position             int         `json:"position"`
	EstimatedWaitMinutes int         `json:"estimated_wait_minutes"`
}

// AddToQueue puts a paid episode in the outpatient line. Calling it again
// for the same episode leaves the queue unchanged.
func (s *Service) AddToQueue(ctx context.Context, number string) (*QueueResult, error) {
	unlock, err := s.locks.Lock(ctx, episodeLockKey(number))
	if err != nil {
		return nil, fmt.Errorf("queueing failed: %w", err)
	}
	defer unlock()

	res := &QueueResult{}
	var ep *Episode
	var inserted bool
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		if ep, err = s.episodes.Get(ctx, number); err != nil {
			return err
		}
		if !ep.Active() {
			return ErrEpisodeClosed
		}
		if !ep.FeesPaid {
			return ErrFeeNotPaid
		}
		res.Entry = &QueueEntry{
			EpisodeNumber: ep.EpisodeNumber,
			PatientID:     ep.PatientID,
			EnqueuedAt:    s.now(),
			Priority:      ep.Type.Priority(),
			Status:        QueueStatusWaiting,
		}
		if inserted, err = s.queue.Enqueue(ctx, res.Entry); err != nil {
			return err
		}
		res.Position, err = s.queue.Len(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queueing failed: %w", err)
	}
	res.EstimatedWaitMinutes = MinutesPerQueuePosition * res.Position
	if inserted {
		s.publish(ctx, events.EpisodeQueued, ep, map[string]string{"priority": string(res.Entry.Priority)})
	}
	return res, nil
}

type ConsultationResult struct {
	Episode          *Episode `json:"episode"`
	AvailableActions []string `json:"available_actions"`
}

// StartConsultation assigns the clinician and takes the episode out of the
// queue. It may be started from registration, the queue, or restarted by a
// different clinician.
func (s *Service) StartConsultation(ctx context.Context, number, clinicianID string) (*ConsultationResult, error) {
	if strings.TrimSpace(clinicianID) == "" {
		return nil, fmt.Errorf("%w: clinician id is required", ErrInvalidInput)
	}
	unlock, err := s.locks.Lock(ctx, episodeLockKey(number))
	if err != nil {
		return nil, fmt.Errorf("start consultation failed: %w", err)
	}
	defer unlock()

	var ep *Episode
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		ep, err = s.episodes.Update(ctx, number, func(e *Episode) error {
			switch e.Status {
			case StatusRegistered, StatusInQueue, StatusInConsultation:
			case StatusCompleted:
				return ErrEpisodeClosed
			default:
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, e.Status, StatusInConsultation)
			}
			e.Status = StatusInConsultation
			e.ClinicianID = &clinicianID
			return nil
		})
		if err != nil {
			return err
		}
		return s.queue.Remove(ctx, number)
	})
	if err != nil {
		return nil, fmt.Errorf("start consultation failed: %w", err)
	}
	s.publish(ctx, events.EpisodeConsultationStarted, ep, map[string]string{"clinician_id": clinicianID})
	return &ConsultationResult{
		Episode:          ep,
		AvailableActions: []string{"add-notes", "prescribe", "order-labs", "refer", "discharge"},
	}, nil
}

type ServiceResult struct {
	Success      bool           `json:"success"`
	Episode      *Episode       `json:"episode"`
	BillingEntry *billing.Entry `json:"billing_entry"`
}

// AddService appends the ordered item to the episode and bills it as a
// pending charge.
func (s *Service) AddService(ctx context.Context, number string, order ServiceOrder) (*ServiceResult, error) {
	if order == nil {
		return nil, fmt.Errorf("%w: service order is required", ErrInvalidInput)
	}
	unlock, err := s.locks.Lock(ctx, episodeLockKey(number))
	if err != nil {
		return nil, fmt.Errorf("add service failed: %w", err)
	}
	defer unlock()

	res := &ServiceResult{}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		ep, err := s.episodes.Update(ctx, number, func(e *Episode) error {
			if !e.Active() {
				return ErrEpisodeClosed
			}
			b := &serviceBuilder{episode: e, at: s.now()}
			if err := order.accept(b); err != nil {
				return err
			}
			res.BillingEntry = b.entry
			return nil
		})
		if err != nil {
			return err
		}
		res.Episode = ep
		return s.billing.CreateEntry(ctx, res.BillingEntry)
	})
	if err != nil {
		return nil, fmt.Errorf("add service failed: %w", err)
	}
	res.Success = true
	s.publish(ctx, events.EpisodeServiceAdded, res.Episode, map[string]string{
		"kind":   string(order.Kind()),
		"amount": res.BillingEntry.TotalAmount.String(),
	})
	return res, nil
}

// serviceBuilder appends one item to the episode and prepares its charge.
type serviceBuilder struct {
	episode *Episode
	at      time.Time
	entry   *billing.Entry
}

func (b *serviceBuilder) labTest(o LabTestOrder) error {
	if strings.TrimSpace(o.TestName) == "" {
		return fmt.Errorf("%w: test name is required", ErrInvalidInput)
	}
	cost, err := costOrDefault(o.Cost, DefaultLabTestCost)
	if err != nil {
		return err
	}
	item := b.item(KindLabTest, o.TestName, o.Notes, cost)
	b.episode.LabTests = append(b.episode.LabTests, item)
	b.charge(item, billing.ServiceLabTest, "Lab test: "+o.TestName)
	return nil
}

func (b *serviceBuilder) prescription(o PrescriptionOrder) error {
	if strings.TrimSpace(o.Medication) == "" {
		return fmt.Errorf("%w: medication is required", ErrInvalidInput)
	}
	cost, err := costOrDefault(o.Cost, DefaultPrescriptionCost)
	if err != nil {
		return err
	}
	item := b.item(KindPrescription, o.Medication, o.instructions(), cost)
	b.episode.Prescriptions = append(b.episode.Prescriptions, item)
	b.charge(item, billing.ServicePrescription, "Prescription: "+o.Medication)
	return nil
}

func (b *serviceBuilder) radiology(RadiologyOrder) error {
	return fmt.Errorf("%w: %s", ErrServiceNotSupported, KindRadiology)
}

func (b *serviceBuilder) item(kind ServiceKind, name, instructions string, cost money.Money) ServiceItem {
	return ServiceItem{
		Kind:           kind,
		Name:           name,
		Instructions:   instructions,
		Cost:           cost,
		Stage:          b.episode.Status,
		BillingEntryID: uuid.New(),
		AddedAt:        b.at,
	}
}

func (b *serviceBuilder) charge(item ServiceItem, serviceType, description string) {
	b.entry = &billing.Entry{
		ID:                 item.BillingEntryID,
		PatientID:          b.episode.PatientID,
		EpisodeNumber:      b.episode.EpisodeNumber,
		ServiceType:        serviceType,
		ServiceDescription: description,
		Amount:             item.Cost,
		Discount:           money.Zero,
		TotalAmount:        item.Cost,
		PaymentStatus:      billing.StatusPending,
		Notes:              fmt.Sprintf("Ordered during %s", item.Stage),
	}
}

type CompleteResult struct {
	Success bool     `json:"success"`
	Episode *Episode `json:"episode"`
}

// CompleteEpisode closes the episode. A completed episode is read-only.
func (s *Service) CompleteEpisode(ctx context.Context, number string, notes *string) (*CompleteResult, error) {
	unlock, err := s.locks.Lock(ctx, episodeLockKey(number))
	if err != nil {
		return nil, fmt.Errorf("complete episode failed: %w", err)
	}
	defer unlock()

	var ep *Episode
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		ep, err = s.episodes.Update(ctx, number, func(e *Episode) error {
			if !e.Active() {
				return ErrEpisodeClosed
			}
			now := s.now()
			e.Status = StatusCompleted
			e.CompletedAt = &now
			if notes != nil {
				e.Notes = notes
			}
			return nil
		})
		if err != nil {
			return err
		}
		// Completing straight from the queue must not leave a waiting entry.
		return s.queue.Remove(ctx, number)
	})
	if err != nil {
		return nil, fmt.Errorf("complete episode failed: %w", err)
	}
	s.publish(ctx, events.EpisodeCompleted, ep, nil)
	return &CompleteResult{Success: true, Episode: ep}, nil
}

// GetPatientWorkflow reports the stage of the patient's active episode.
func (s *Service) GetPatientWorkflow(ctx context.Context, patientID uuid.UUID) (*PatientWorkflow, error) {
	p, err := s.patients.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	ep, err := s.episodes.FindActive(ctx, patientID)
	if errors.Is(err, ErrEpisodeNotFound) {
		return &PatientWorkflow{
			Patient:          p,
			NextStep:         NoActiveEpisode,
			AvailableActions: []string{},
		}, nil
	}
	if err != nil {
		return nil, err
	}
	stage := StageFor(ep.Status)
	return &PatientWorkflow{
		Patient:          p,
		CurrentEpisode:   ep,
		Status:           stage.Name,
		NextStep:         stage.NextStep,
		AvailableActions: stage.AvailableActions,
	}, nil
}

func (s *Service) GetEpisode(ctx context.Context, number string) (*Episode, error) {
	return s.episodes.Get(ctx, number)
}

// ListPatientEpisodes returns the patient's encounter history, newest first.
func (s *Service) ListPatientEpisodes(ctx context.Context, patientID uuid.UUID) ([]*Episode, error) {
	if _, err := s.patients.GetPatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.episodes.ListByPatient(ctx, patientID)
}

func (s *Service) ListQueue(ctx context.Context) ([]*QueueEntry, error) {
	return s.queue.List(ctx)
}

type EpisodeBilling struct {
	Entries []*billing.Entry `json:"entries"`
	Summary billing.Summary  `json:"summary"`
}

func (s *Service) ListEpisodeBilling(ctx context.Context, number string) (*EpisodeBilling, error) {
	if _, err := s.episodes.Get(ctx, number); err != nil {
		return nil, err
	}
	entries, err := s.billing.ListByEpisode(ctx, number)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*billing.Entry{}
	}
	return &EpisodeBilling{Entries: entries, Summary: billing.Summarize(number, entries)}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, ep *Episode, attrs map[string]string) {
	_ = s.events.Publish(ctx, events.Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Tenant:        db.TenantFromContext(ctx),
		EpisodeNumber: ep.EpisodeNumber,
		PatientID:     ep.PatientID.String(),
		Status:        string(ep.Status),
		Attributes:    attrs,
		OccurredAt:    s.now(),
	})
}

func episodeLockKey(number string) string {
	return "workflow:episode:" + number
}

func patientLockKey(id uuid.UUID) string {
	return "workflow:patient:" + id.String()
}

type directTx struct{}

func (directTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type nopLocker struct{}

func (nopLocker) Lock(context.Context, string) (func(), error) { return func() {}, nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, events.Event) error { return nil }
