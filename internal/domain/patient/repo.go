package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository methods that take a clinicID only ever see that clinic's rows.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	SetStatus(ctx context.Context, clinicID, id uuid.UUID, status Status) error
	List(ctx context.Context, clinicID uuid.UUID, f Filter, limit, offset int) ([]*Patient, int, error)
	Counts(ctx context.Context, clinicID uuid.UUID) (*Counts, error)

	// ClinicOf returns the owning clinic of a patient regardless of the
	// caller. It backs cross-tenant reference checks and must not be used
	// to read patient data.
	ClinicOf(ctx context.Context, id uuid.UUID) (uuid.UUID, error)

	// AddVitals stores v and refreshes the patient's risk from it.
	AddVitals(ctx context.Context, v *VitalsLog, risk int, level RiskLevel) error
	ListVitals(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*VitalsLog, int, error)
}
