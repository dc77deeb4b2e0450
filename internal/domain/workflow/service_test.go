package workflow

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/frontdesk/internal/domain/billing"
	"github.com/ehr/frontdesk/internal/domain/patient"
	"github.com/ehr/frontdesk/internal/platform/events"
	"github.com/ehr/frontdesk/pkg/money"
)

// -- Mock Repositories --

type mockEpisodeRepo struct {
	episodes map[string]*Episode
}

func newMockEpisodeRepo() *mockEpisodeRepo {
	return &mockEpisodeRepo{episodes: make(map[string]*Episode)}
}

func (m *mockEpisodeRepo) Create(_ context.Context, e *Episode) error {
	if _, ok := m.episodes[e.EpisodeNumber]; ok {
		return ErrDuplicateEpisode
	}
	for _, other := range m.episodes {
		if other.PatientID == e.PatientID && other.Active() {
			return ErrActiveEpisodeExists
		}
	}
	e.Version = 1
	m.episodes[e.EpisodeNumber] = e.Clone()
	return nil
}

func (m *mockEpisodeRepo) Get(_ context.Context, number string) (*Episode, error) {
	e, ok := m.episodes[number]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	return e.Clone(), nil
}

func (m *mockEpisodeRepo) Update(_ context.Context, number string, fn func(e *Episode) error) (*Episode, error) {
	e, ok := m.episodes[number]
	if !ok {
		return nil, ErrEpisodeNotFound
	}
	next := e.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version++
	m.episodes[number] = next
	return next.Clone(), nil
}

func (m *mockEpisodeRepo) FindActive(_ context.Context, patientID uuid.UUID) (*Episode, error) {
	for _, e := range m.episodes {
		if e.PatientID == patientID && e.Active() {
			return e.Clone(), nil
		}
	}
	return nil, ErrEpisodeNotFound
}

func (m *mockEpisodeRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Episode, error) {
	var result []*Episode
	for _, e := range m.episodes {
		if e.PatientID == patientID {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegisteredAt.After(result[j].RegisteredAt) })
	return result, nil
}

type mockQueueRepo struct {
	entries []*QueueEntry
}

func (m *mockQueueRepo) Enqueue(_ context.Context, e *QueueEntry) (bool, error) {
	for _, q := range m.entries {
		if q.EpisodeNumber == e.EpisodeNumber {
			return false, nil
		}
	}
	m.entries = append(m.entries, e)
	return true, nil
}

func (m *mockQueueRepo) Remove(_ context.Context, number string) error {
	for i, q := range m.entries {
		if q.EpisodeNumber == number {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *mockQueueRepo) Len(_ context.Context) (int, error) {
	return len(m.entries), nil
}

func (m *mockQueueRepo) List(_ context.Context) ([]*QueueEntry, error) {
	out := append([]*QueueEntry(nil), m.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority == PriorityHigh
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

type mockPatients struct {
	patients map[uuid.UUID]*patient.Patient
	err      error
}

func (m *mockPatients) CreatePatient(_ context.Context, p *patient.Patient) error {
	if m.err != nil {
		return m.err
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatients) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type mockBilling struct {
	entries []*billing.Entry
	err     error
}

func (m *mockBilling) CreateEntry(_ context.Context, e *billing.Entry) error {
	if m.err != nil {
		return m.err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockBilling) ListByEpisode(_ context.Context, number string) ([]*billing.Entry, error) {
	var out []*billing.Entry
	for _, e := range m.entries {
		if e.EpisodeNumber == number {
			out = append(out, e)
		}
	}
	return out, nil
}

type countingTx struct{ calls int }

func (t *countingTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.calls++
	return fn(ctx)
}

type recordingLocker struct{ keys []string }

func (l *recordingLocker) Lock(_ context.Context, key string) (func(), error) {
	l.keys = append(l.keys, key)
	return func() {}, nil
}

// stepClock advances one millisecond on every reading.
type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// -- Fixture --

type fixture struct {
	svc      *Service
	episodes *mockEpisodeRepo
	queue    *mockQueueRepo
	patients *mockPatients
	billing  *mockBilling
	tx       *countingTx
	locks    *recordingLocker
	events   *events.Recorder
}

func newFixture() *fixture {
	f := &fixture{
		episodes: newMockEpisodeRepo(),
		queue:    &mockQueueRepo{},
		patients: &mockPatients{patients: make(map[uuid.UUID]*patient.Patient)},
		billing:  &mockBilling{},
		tx:       &countingTx{},
		locks:    &recordingLocker{},
		events:   &events.Recorder{},
	}
	clock := &stepClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	f.svc = NewService(Deps{
		Episodes: f.episodes,
		Queue:    f.queue,
		Patients: f.patients,
		Billing:  f.billing,
		Tx:       f.tx,
		Locks:    f.locks,
		Events:   f.events,
		Now:      clock.Now,
	})
	return f
}

func (f *fixture) register(t *testing.T, typ EncounterType) *RegisterResult {
	t.Helper()
	res, err := f.svc.RegisterPatient(context.Background(), RegisterRequest{
		Patient: &patient.Patient{FirstName: "Amina", LastName: "Okafor"},
		Type:    typ,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return res
}

func (f *fixture) paid(t *testing.T, typ EncounterType) *Episode {
	t.Helper()
	res := f.register(t, typ)
	if _, err := f.svc.PayConsultationFee(context.Background(), res.Episode.EpisodeNumber, PaymentRequest{Method: "cash"}); err != nil {
		t.Fatalf("pay: %v", err)
	}
	return res.Episode
}

func (f *fixture) entriesFor(number string) []*billing.Entry {
	out, _ := f.billing.ListByEpisode(context.Background(), number)
	return out
}

// -- Tests --

func TestRegisterPatient_FeeByType(t *testing.T) {
	tests := []struct {
		typ    EncounterType
		fee    string
		prefix string
	}{
		{Emergency, "50.00", "EM"},
		{Outpatient, "30.00", "OP"},
		{Inpatient, "30.00", "IP"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			f := newFixture()
			res := f.register(t, tt.typ)

			ep := res.Episode
			if ep.ConsultationFee.String() != tt.fee {
				t.Errorf("expected fee %s, got %s", tt.fee, ep.ConsultationFee)
			}
			if ep.Status != StatusRegistered || ep.FeesPaid {
				t.Errorf("expected registered and unpaid, got %s paid=%v", ep.Status, ep.FeesPaid)
			}
			if !strings.HasPrefix(ep.EpisodeNumber, tt.prefix) || len(ep.EpisodeNumber) != 8 {
				t.Errorf("unexpected episode number %s", ep.EpisodeNumber)
			}

			entries := f.entriesFor(ep.EpisodeNumber)
			if len(entries) != 1 {
				t.Fatalf("expected 1 billing entry, got %d", len(entries))
			}
			e := entries[0]
			if e.Amount.String() != tt.fee || e.TotalAmount.String() != tt.fee || !e.Discount.IsZero() {
				t.Errorf("unexpected amounts %s/%s/%s", e.Amount, e.Discount, e.TotalAmount)
			}
			if e.PaymentStatus != billing.StatusPending {
				t.Errorf("expected pending, got %s", e.PaymentStatus)
			}
			if res.NextStep != "pay consultation fee" {
				t.Errorf("unexpected next step %q", res.NextStep)
			}
			if strings.Join(res.AvailableActions, ",") != "pay-fee,view-patient" {
				t.Errorf("unexpected actions %v", res.AvailableActions)
			}
		})
	}
}

func TestRegisterPatient_InvalidType(t *testing.T) {
	f := newFixture()
	_, err := f.svc.RegisterPatient(context.Background(), RegisterRequest{
		Patient: &patient.Patient{FirstName: "A", LastName: "B"},
		Type:    "walk-in",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(f.patients.patients) != 0 {
		t.Error("expected no patient to be created")
	}
}

func TestRegisterPatient_UpstreamFailureIsWrapped(t *testing.T) {
	f := newFixture()
	f.billing.err = errors.New("billing unavailable")

	_, err := f.svc.RegisterPatient(context.Background(), RegisterRequest{
		Patient: &patient.Patient{FirstName: "A", LastName: "B"},
		Type:    Outpatient,
	})
	if err == nil || !strings.HasPrefix(err.Error(), "registration failed: ") {
		t.Fatalf("expected wrapped registration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "billing unavailable") {
		t.Errorf("expected cause in message, got %v", err)
	}
	if f.tx.calls != 1 {
		t.Errorf("expected registration to run in one transaction, got %d", f.tx.calls)
	}
	if len(f.events.Events()) != 0 {
		t.Error("expected no event for failed registration")
	}
}

func TestOpenEpisode(t *testing.T) {
	f := newFixture()
	first := f.register(t, Outpatient)
	ctx := context.Background()

	_, err := f.svc.OpenEpisode(ctx, first.Patient.ID, Emergency)
	if !errors.Is(err, ErrActiveEpisodeExists) {
		t.Fatalf("expected ErrActiveEpisodeExists, got %v", err)
	}

	if _, err := f.svc.CompleteEpisode(ctx, first.Episode.EpisodeNumber, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	res, err := f.svc.OpenEpisode(ctx, first.Patient.ID, Emergency)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Episode.ConsultationFee.String() != "50.00" || res.BillingEntry.TotalAmount.String() != "50.00" {
		t.Errorf("expected emergency fee, got %s", res.Episode.ConsultationFee)
	}
	if f.locks.keys[len(f.locks.keys)-1] != "workflow:patient:"+first.Patient.ID.String() {
		t.Errorf("expected patient lock, got %v", f.locks.keys)
	}
}

func TestOpenEpisode_UnknownPatient(t *testing.T) {
	f := newFixture()
	_, err := f.svc.OpenEpisode(context.Background(), uuid.New(), Outpatient)
	if !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestPayConsultationFee(t *testing.T) {
	f := newFixture()
	reg := f.register(t, Outpatient)
	ref := "TXN-991"

	res, err := f.svc.PayConsultationFee(context.Background(), reg.Episode.EpisodeNumber,
		PaymentRequest{Method: "card", TransactionReference: &ref})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Episode.FeesPaid || res.Episode.Status != StatusInQueue {
		t.Errorf("expected paid and in-queue, got paid=%v %s", res.Episode.FeesPaid, res.Episode.Status)
	}
	if res.NextStep != "waiting in queue" || res.Message == "" {
		t.Errorf("unexpected result %+v", res)
	}
	e := res.BillingEntry
	if e.PaymentStatus != billing.StatusPaid || *e.PaymentMethod != "card" || *e.TransactionReference != "TXN-991" {
		t.Errorf("unexpected payment entry %+v", e)
	}
	if e.TotalAmount.String() != "30.00" {
		t.Errorf("expected 30.00, got %s", e.TotalAmount)
	}
	if len(f.entriesFor(reg.Episode.EpisodeNumber)) != 2 {
		t.Error("expected consultation and payment entries")
	}
}

func TestPayConsultationFee_Twice(t *testing.T) {
	f := newFixture()
	ep := f.paid(t, Outpatient)
	_, err := f.svc.PayConsultationFee(context.Background(), ep.EpisodeNumber, PaymentRequest{Method: "cash"})
	if !errors.Is(err, ErrFeeAlreadyPaid) {
		t.Fatalf("expected ErrFeeAlreadyPaid, got %v", err)
	}
	if len(f.entriesFor(ep.EpisodeNumber)) != 2 {
		t.Error("expected no additional billing entry")
	}
}

func TestPayConsultationFee_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.PayConsultationFee(context.Background(), "OP000000", PaymentRequest{Method: "cash"})
	if !errors.Is(err, ErrEpisodeNotFound) {
		t.Fatalf("expected ErrEpisodeNotFound, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "payment failed: ") {
		t.Errorf("expected payment prefix, got %q", err.Error())
	}
}

func TestPayConsultationFee_MethodRequired(t *testing.T) {
	f := newFixture()
	reg := f.register(t, Outpatient)
	_, err := f.svc.PayConsultationFee(context.Background(), reg.Episode.EpisodeNumber, PaymentRequest{Method: " "})
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestAddToQueue_Idempotent(t *testing.T) {
	f := newFixture()
	ep := f.paid(t, Outpatient)
	ctx := context.Background()

	first, err := f.svc.AddToQueue(ctx, ep.EpisodeNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.svc.AddToQueue(ctx, ep.EpisodeNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.queue.entries) != 1 {
		t.Fatalf("expected exactly one queue entry, got %d", len(f.queue.entries))
	}
	if first.Position != 1 || second.Position != 1 {
		t.Errorf("expected position 1 both times, got %d and %d", first.Position, second.Position)
	}
	if first.EstimatedWaitMinutes != 15 {
		t.Errorf("expected 15 minute wait, got %d", first.EstimatedWaitMinutes)
	}

	queued := 0
	for _, typ := range f.events.Types() {
		if typ == events.EpisodeQueued {
			queued++
		}
	}
	if queued != 1 {
		t.Errorf("expected one queued event, got %d", queued)
	}
}

func TestAddToQueue_RequiresPaidFee(t *testing.T) {
	f := newFixture()
	reg := f.register(t, Outpatient)
	_, err := f.svc.AddToQueue(context.Background(), reg.Episode.EpisodeNumber)
	if !errors.Is(err, ErrFeeNotPaid) {
		t.Fatalf("expected ErrFeeNotPaid, got %v", err)
	}
	if len(f.queue.entries) != 0 {
		t.Error("expected no queue entry")
	}
}

func TestAddToQueue_PositionAndPriority(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.paid(t, Outpatient)
	b := f.paid(t, Emergency)

	f.svc.AddToQueue(ctx, a.EpisodeNumber)
	res, err := f.svc.AddToQueue(ctx, b.EpisodeNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Position != 2 || res.EstimatedWaitMinutes != 30 {
		t.Errorf("expected position 2 / 30 minutes, got %d / %d", res.Position, res.EstimatedWaitMinutes)
	}
	if res.Entry.Priority != PriorityHigh {
		t.Errorf("expected high priority for emergency, got %s", res.Entry.Priority)
	}

	line, _ := f.svc.ListQueue(ctx)
	if len(line) != 2 || line[0].EpisodeNumber != b.EpisodeNumber {
		t.Errorf("expected emergency first, got %v", line)
	}
}

func TestStartConsultation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ep := f.paid(t, Outpatient)
	f.svc.AddToQueue(ctx, ep.EpisodeNumber)

	res, err := f.svc.StartConsultation(ctx, ep.EpisodeNumber, "7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Episode.Status != StatusInConsultation || *res.Episode.ClinicianID != "7" {
		t.Errorf("unexpected episode %+v", res.Episode)
	}
	if len(f.queue.entries) != 0 {
		t.Error("expected episode to leave the queue")
	}
	want := "add-notes,prescribe,order-labs,refer,discharge"
	if strings.Join(res.AvailableActions, ",") != want {
		t.Errorf("unexpected actions %v", res.AvailableActions)
	}
	if f.locks.keys[len(f.locks.keys)-1] != "workflow:episode:"+ep.EpisodeNumber {
		t.Errorf("expected episode lock, got %v", f.locks.keys)
	}
}

func TestStartConsultation_TransitionRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reg := f.register(t, Outpatient)
	number := reg.Episode.EpisodeNumber

	if _, err := f.svc.StartConsultation(ctx, number, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty clinician, got %v", err)
	}
	if _, err := f.svc.StartConsultation(ctx, number, "7"); err != nil {
		t.Fatalf("expected consultation from registered to be allowed, got %v", err)
	}
	if _, err := f.svc.StartConsultation(ctx, number, "8"); err != nil {
		t.Fatalf("expected reassignment to be allowed, got %v", err)
	}

	f.episodes.episodes[number].Status = StatusTreatment
	if _, err := f.svc.StartConsultation(ctx, number, "7"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition from treatment, got %v", err)
	}
}

func TestAddService_DefaultCosts(t *testing.T) {
	tests := []struct {
		name  string
		order ServiceOrder
		want  string
	}{
		{"lab test default", LabTestOrder{TestName: "CBC"}, "25.00"},
		{"prescription default", PrescriptionOrder{Medication: "Amoxicillin"}, "15.00"},
		{"lab test override", LabTestOrder{TestName: "CBC", Cost: moneyPtr("40")}, "40.00"},
		{"prescription override", PrescriptionOrder{Medication: "Amoxicillin", Cost: moneyPtr("40.00")}, "40.00"},
		{"free prescription", PrescriptionOrder{Medication: "ORS", Cost: moneyPtr("0")}, "0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			ep := f.paid(t, Outpatient)
			f.svc.StartConsultation(ctx, ep.EpisodeNumber, "7")

			res, err := f.svc.AddService(ctx, ep.EpisodeNumber, tt.order)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Success {
				t.Error("expected success")
			}
			if res.BillingEntry.Amount.String() != tt.want || res.BillingEntry.TotalAmount.String() != tt.want {
				t.Errorf("expected %s, got %s", tt.want, res.BillingEntry.Amount)
			}
			if res.BillingEntry.PaymentStatus != billing.StatusPending {
				t.Errorf("expected pending, got %s", res.BillingEntry.PaymentStatus)
			}

			var items []ServiceItem
			if tt.order.Kind() == KindLabTest {
				items = res.Episode.LabTests
			} else {
				items = res.Episode.Prescriptions
			}
			if len(items) != 1 {
				t.Fatalf("expected one appended item, got %d", len(items))
			}
			if items[0].Stage != StatusInConsultation {
				t.Errorf("expected item stamped with in-consultation, got %s", items[0].Stage)
			}
			if items[0].BillingEntryID != res.BillingEntry.ID {
				t.Error("expected item to reference its billing entry")
			}
		})
	}
}

func TestAddService_RadiologyRejected(t *testing.T) {
	f := newFixture()
	ep := f.paid(t, Outpatient)
	before := len(f.entriesFor(ep.EpisodeNumber))

	_, err := f.svc.AddService(context.Background(), ep.EpisodeNumber, RadiologyOrder{Study: "Chest X-ray"})
	if !errors.Is(err, ErrServiceNotSupported) {
		t.Fatalf("expected ErrServiceNotSupported, got %v", err)
	}
	if len(f.entriesFor(ep.EpisodeNumber)) != before {
		t.Error("expected no billing entry for radiology")
	}
	stored, _ := f.svc.GetEpisode(context.Background(), ep.EpisodeNumber)
	if len(stored.LabTests)+len(stored.Prescriptions) != 0 {
		t.Error("expected nothing appended for radiology")
	}
}

func TestAddService_Validation(t *testing.T) {
	f := newFixture()
	ep := f.paid(t, Outpatient)
	ctx := context.Background()

	if _, err := f.svc.AddService(ctx, ep.EpisodeNumber, LabTestOrder{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for missing test name, got %v", err)
	}
	if _, err := f.svc.AddService(ctx, ep.EpisodeNumber, PrescriptionOrder{Medication: "X", Cost: moneyPtr("-1")}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for negative cost, got %v", err)
	}
	if _, err := f.svc.AddService(ctx, "OP999999", LabTestOrder{TestName: "CBC"}); !errors.Is(err, ErrEpisodeNotFound) {
		t.Errorf("expected ErrEpisodeNotFound, got %v", err)
	}
	if _, err := f.svc.AddService(ctx, ep.EpisodeNumber, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil order, got %v", err)
	}
}

func TestCompleteEpisode(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ep := f.paid(t, Outpatient)
	f.svc.AddToQueue(ctx, ep.EpisodeNumber)
	notes := "Discharged, stable"

	res, err := f.svc.CompleteEpisode(ctx, ep.EpisodeNumber, &notes)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Episode.Status != StatusCompleted || res.Episode.CompletedAt == nil {
		t.Errorf("expected completed with timestamp, got %+v", res.Episode)
	}
	if *res.Episode.Notes != notes {
		t.Errorf("expected notes stored, got %v", res.Episode.Notes)
	}
	if len(f.queue.entries) != 0 {
		t.Error("expected completed episode to leave the queue")
	}
}

func TestCompletedEpisodeIsReadOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ep := f.paid(t, Outpatient)
	f.svc.CompleteEpisode(ctx, ep.EpisodeNumber, nil)

	checks := map[string]error{}
	_, checks["complete"] = f.svc.CompleteEpisode(ctx, ep.EpisodeNumber, nil)
	_, checks["consult"] = f.svc.StartConsultation(ctx, ep.EpisodeNumber, "7")
	_, checks["service"] = f.svc.AddService(ctx, ep.EpisodeNumber, LabTestOrder{TestName: "CBC"})
	_, checks["queue"] = f.svc.AddToQueue(ctx, ep.EpisodeNumber)

	for op, err := range checks {
		if !errors.Is(err, ErrEpisodeClosed) {
			t.Errorf("%s: expected ErrEpisodeClosed, got %v", op, err)
		}
	}

	reg := f.register(t, Outpatient)
	f.svc.CompleteEpisode(ctx, reg.Episode.EpisodeNumber, nil)
	if _, err := f.svc.PayConsultationFee(ctx, reg.Episode.EpisodeNumber, PaymentRequest{Method: "cash"}); !errors.Is(err, ErrEpisodeClosed) {
		t.Errorf("pay: expected ErrEpisodeClosed, got %v", err)
	}
}

func TestGetPatientWorkflow_StageMapping(t *testing.T) {
	tests := []struct {
		status   Status
		stage    string
		nextStep string
		actions  string
	}{
		{StatusRegistered, "payment", "pay consultation fee", "pay-consultation-fee"},
		{StatusInQueue, "queue", "waiting for consultation", "view-queue-position"},
		{StatusInConsultation, "consultation", "consultation in progress", "add-notes,prescribe-medication,order-lab-tests,discharge"},
		{StatusTreatment, "services", "complete prescribed services", "pay-services,collect-medication,lab-tests"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			f := newFixture()
			reg := f.register(t, Outpatient)
			f.episodes.episodes[reg.Episode.EpisodeNumber].Status = tt.status

			wf, err := f.svc.GetPatientWorkflow(context.Background(), reg.Patient.ID)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if wf.CurrentEpisode == nil || wf.CurrentEpisode.EpisodeNumber != reg.Episode.EpisodeNumber {
				t.Fatalf("expected current episode %s", reg.Episode.EpisodeNumber)
			}
			if wf.Status != tt.stage || wf.NextStep != tt.nextStep || strings.Join(wf.AvailableActions, ",") != tt.actions {
				t.Errorf("got {%s, %s, %v}", wf.Status, wf.NextStep, wf.AvailableActions)
			}
		})
	}
}

func TestStageFor_Fallback(t *testing.T) {
	for _, s := range []Status{StatusCompleted, "archived", ""} {
		st := StageFor(s)
		if st.Name != "discharge" || st.NextStep != "episode completed" || strings.Join(st.AvailableActions, ",") != "generate-summary" {
			t.Errorf("StageFor(%q) = %+v", s, st)
		}
	}
}

func TestGetPatientWorkflow_CompletedIsNotActive(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reg := f.register(t, Outpatient)
	f.svc.CompleteEpisode(ctx, reg.Episode.EpisodeNumber, nil)

	wf, err := f.svc.GetPatientWorkflow(ctx, reg.Patient.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.CurrentEpisode != nil {
		t.Errorf("expected no active episode, got %s", wf.CurrentEpisode.EpisodeNumber)
	}
	if wf.NextStep != NoActiveEpisode {
		t.Errorf("expected %q, got %q", NoActiveEpisode, wf.NextStep)
	}
}

func TestGetPatientWorkflow_UnknownPatient(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.GetPatientWorkflow(context.Background(), uuid.New()); !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestListPatientEpisodes_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	reg := f.register(t, Outpatient)
	f.svc.CompleteEpisode(ctx, reg.Episode.EpisodeNumber, nil)
	second, err := f.svc.OpenEpisode(ctx, reg.Patient.ID, Inpatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items, err := f.svc.ListPatientEpisodes(ctx, reg.Patient.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0].EpisodeNumber != second.Episode.EpisodeNumber {
		t.Errorf("expected newest episode first, got %v", items)
	}
}

func TestListEpisodeBilling(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ep := f.paid(t, Emergency)
	f.svc.AddService(ctx, ep.EpisodeNumber, PrescriptionOrder{Medication: "Paracetamol", Cost: moneyPtr("40.00")})

	res, err := f.svc.ListEpisodeBilling(ctx, ep.EpisodeNumber)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}
	if res.Summary.Charged.String() != "90.00" || res.Summary.Paid.String() != "50.00" {
		t.Errorf("unexpected summary %+v", res.Summary)
	}

	if _, err := f.svc.ListEpisodeBilling(ctx, "EM000000"); !errors.Is(err, ErrEpisodeNotFound) {
		t.Errorf("expected ErrEpisodeNotFound, got %v", err)
	}
}

func TestEventsPublishedInOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ep := f.paid(t, Outpatient)
	f.svc.AddToQueue(ctx, ep.EpisodeNumber)
	f.svc.StartConsultation(ctx, ep.EpisodeNumber, "7")
	f.svc.AddService(ctx, ep.EpisodeNumber, LabTestOrder{TestName: "CBC"})
	f.svc.CompleteEpisode(ctx, ep.EpisodeNumber, nil)

	want := []string{
		events.EpisodeRegistered, events.EpisodeFeePaid, events.EpisodeQueued,
		events.EpisodeConsultationStarted, events.EpisodeServiceAdded, events.EpisodeCompleted,
	}
	if got := f.events.Types(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected events %v", got)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture()
	f.events.Err = errors.New("broker down")
	if _, err := f.svc.RegisterPatient(context.Background(), RegisterRequest{
		Patient: &patient.Patient{FirstName: "A", LastName: "B"},
		Type:    Outpatient,
	}); err != nil {
		t.Fatalf("expected registration to succeed, got %v", err)
	}
}

func moneyPtr(s string) *money.Money {
	m := money.MustParse(s)
	return &m
}
