package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	for _, other := range m.patients {
		if other.MRN == p.MRN {
			return fmt.Errorf("%w: %s", ErrDuplicateMRN, p.MRN)
		}
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockRepo) GetByMRN(_ context.Context, mrn string) (*Patient, error) {
	for _, p := range m.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return ErrNotFound
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockRepo) List(_ context.Context, limit, offset int) ([]*Patient, int, error) {
	var result []*Patient
	for _, p := range m.patients {
		result = append(result, p)
	}
	return result, len(result), nil
}

// -- Tests --

func newTestService() *Service {
	return NewService(newMockRepo())
}

func TestCreatePatient(t *testing.T) {
	svc := newTestService()
	p := &Patient{FirstName: " Ada ", LastName: "Lovelace"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if p.FirstName != "Ada" {
		t.Errorf("expected trimmed first name, got %q", p.FirstName)
	}
	if !strings.HasPrefix(p.MRN, "MRN-") || len(p.MRN) != 14 {
		t.Errorf("unexpected generated MRN %q", p.MRN)
	}
}

func TestCreatePatient_KeepsSuppliedMRN(t *testing.T) {
	svc := newTestService()
	p := &Patient{FirstName: "Ada", LastName: "Lovelace", MRN: "H-001"}
	if err := svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "H-001" {
		t.Errorf("expected H-001, got %s", p.MRN)
	}
	got, err := svc.GetPatientByMRN(context.Background(), "H-001")
	if err != nil || got.ID != p.ID {
		t.Errorf("expected lookup by MRN to find the patient, got %v, %v", got, err)
	}
}

func TestCreatePatient_NameRequired(t *testing.T) {
	svc := newTestService()
	if err := svc.CreatePatient(context.Background(), &Patient{LastName: "Lovelace"}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for missing first name, got %v", err)
	}
	if err := svc.CreatePatient(context.Background(), &Patient{FirstName: "Ada", LastName: "  "}); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for blank last name, got %v", err)
	}
}

func TestCreatePatient_DuplicateMRN(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if err := svc.CreatePatient(ctx, &Patient{FirstName: "Ada", LastName: "Lovelace", MRN: "H-001"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.CreatePatient(ctx, &Patient{FirstName: "Grace", LastName: "Hopper", MRN: "H-001"})
	if !errors.Is(err, ErrDuplicateMRN) {
		t.Errorf("expected ErrDuplicateMRN, got %v", err)
	}
}

func TestGetPatient_NotFound(t *testing.T) {
	svc := newTestService()
	if _, err := svc.GetPatient(context.Background(), uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePatient(t *testing.T) {
	svc := newTestService()
	p := &Patient{FirstName: "Ada", LastName: "Lovelace"}
	svc.CreatePatient(context.Background(), p)

	p.LastName = "King"
	if err := svc.UpdatePatient(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := svc.GetPatient(context.Background(), p.ID)
	if got.FullName() != "Ada King" {
		t.Errorf("expected Ada King, got %s", got.FullName())
	}
}

func TestNewMRN_Deterministic(t *testing.T) {
	id := uuid.MustParse("0b5e1c3a-9f2d-4c11-8a7e-2d4f6b8c0e1a")
	if got := NewMRN(id); got != "MRN-0B5E1C3A9F" {
		t.Errorf("unexpected MRN %s", got)
	}
}
