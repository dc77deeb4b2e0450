package workflow

import (
	"fmt"
	"strings"

	"github.com/ehr/frontdesk/pkg/money"
)

// ServiceOrder is a billable service requested during an episode. The set
// of kinds is closed: every kind is dispatched through orderVisitor, so a
// new kind does not compile until each visitor handles it.
type ServiceOrder interface {
	Kind() ServiceKind
	accept(v orderVisitor) error
}

type orderVisitor interface {
	labTest(o LabTestOrder) error
	prescription(o PrescriptionOrder) error
	radiology(o RadiologyOrder) error
}

type LabTestOrder struct {
	TestName string
	Notes    string
	// Cost overrides DefaultLabTestCost when set.
	Cost *money.Money
}

func (LabTestOrder) Kind() ServiceKind { return KindLabTest }
func (o LabTestOrder) accept(v orderVisitor) error { return v.labTest(o) }

type PrescriptionOrder struct {
	Medication string
	Dosage     string
	Frequency  string
	Duration   string
	// Cost overrides DefaultPrescriptionCost when set.
	Cost *money.Money
}

func (PrescriptionOrder) Kind() ServiceKind { return KindPrescription }
func (o PrescriptionOrder) accept(v orderVisitor) error { return v.prescription(o) }

// instructions joins the non-empty dosing fields.
func (o PrescriptionOrder) instructions() string {
	var parts []string
	for _, p := range []string{o.Dosage, o.Frequency, o.Duration} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// RadiologyOrder is accepted as a kind but has no pricing or handling; it
// is always rejected with ErrServiceNotSupported.
type RadiologyOrder struct {
	Study string
	Cost  *money.Money
}

func (RadiologyOrder) Kind() ServiceKind { return KindRadiology }
func (o RadiologyOrder) accept(v orderVisitor) error { return v.radiology(o) }

// NewServiceOrder builds an order from its wire form.
func NewServiceOrder(kind ServiceKind, name, instructions string, cost *money.Money) (ServiceOrder, error) {
	switch kind {
	case KindLabTest:
		return LabTestOrder{TestName: name, Notes: instructions, Cost: cost}, nil
	case KindPrescription:
		return PrescriptionOrder{Medication: name, Dosage: instructions, Cost: cost}, nil
	case KindRadiology:
		return RadiologyOrder{Study: name, Cost: cost}, nil
	default:
		return nil, fmt.Errorf("%w: unknown service kind %q", ErrInvalidInput, kind)
	}
}

func costOrDefault(cost *money.Money, def money.Money) (money.Money, error) {
	if cost == nil {
		return def, nil
	}
	if cost.IsNegative() {
		return money.Zero, fmt.Errorf("%w: cost must not be negative", ErrInvalidInput)
	}
	return *cost, nil
}
