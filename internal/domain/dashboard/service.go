// Package dashboard aggregates per-portal counts from the other domains.
package dashboard

import (
	"context"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/domain/evacuation"
	"github.com/medevac/medevac/internal/domain/patient"
	"github.com/medevac/medevac/internal/platform/access"
)

type PatientCounter interface {
	Counts(ctx context.Context, clinicID uuid.UUID) (*patient.Counts, error)
}

type TransferCounter interface {
	Counts(ctx context.Context, side evacuation.Side) (*evacuation.Counts, error)
}

type TenantCounter interface {
	Counts(ctx context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error)
}

type Portal string

const (
	PortalClinic   Portal = "clinic"
	PortalHospital Portal = "hospital"
	PortalAdmin    Portal = "admin"
)

// Stats is the dashboard payload. Only the sections of the requested portal
// are filled in.
type Stats struct {
	Portal            Portal                           `json:"portal"`
	Patients          *patient.Counts                  `json:"patients,omitempty"`
	Evacuations       map[evacuation.Status]int        `json:"evacuations,omitempty"`
	CriticalCases     map[evacuation.CaseStatus]int    `json:"critical_cases,omitempty"`
	OpenCriticalCases *int                             `json:"open_critical_cases,omitempty"`
	Bookings          map[evacuation.BookingStatus]int `json:"bookings,omitempty"`
	Clinics           map[access.TenantStatus]int      `json:"clinics,omitempty"`
	Hospitals         map[access.TenantStatus]int      `json:"hospitals,omitempty"`
}

type Service struct {
	patients  PatientCounter
	transfers TransferCounter
	tenants   TenantCounter
}

func NewService(patients PatientCounter, transfers TransferCounter, tenants TenantCounter) *Service {
	return &Service{patients: patients, transfers: transfers, tenants: tenants}
}

// zeroFill makes every known key present so clients can render empty
// buckets.
func zeroFill[K comparable](m map[K]int, keys ...K) map[K]int {
	if m == nil {
		m = make(map[K]int, len(keys))
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			m[k] = 0
		}
	}
	return m
}

func fillTransfers(c *evacuation.Counts) {
	c.Evacuations = zeroFill(c.Evacuations, evacuation.Statuses...)
	c.CriticalCases = zeroFill(c.CriticalCases, evacuation.CaseOpen, evacuation.CaseAcknowledged, evacuation.CaseResolved)
	c.Bookings = zeroFill(c.Bookings, evacuation.BookingReserved, evacuation.BookingOccupied, evacuation.BookingReleased)
}

var tenantStatuses = []access.TenantStatus{access.StatusPendingApproval, access.StatusActive, access.StatusSuspended}

func openCases(c *evacuation.Counts) *int {
	n := c.CriticalCases[evacuation.CaseOpen] + c.CriticalCases[evacuation.CaseAcknowledged]
	return &n
}

// ClinicStats covers the caller's clinic.
func (s *Service) ClinicStats(ctx context.Context) (*Stats, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	pc, err := s.patients.Counts(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	tc, err := s.transfers.Counts(ctx, evacuation.ClinicSide(clinicID))
	if err != nil {
		return nil, err
	}
	fillTransfers(tc)
	pc.ByStatus = zeroFill(pc.ByStatus, patient.StatusAdmitted, patient.StatusAwaitingEvacuation,
		patient.StatusInTransit, patient.StatusEvacuated, patient.StatusDischarged)
	pc.ByRisk = zeroFill(pc.ByRisk, patient.RiskLow, patient.RiskMedium, patient.RiskHigh, patient.RiskCritical)
	return &Stats{
		Portal:            PortalClinic,
		Patients:          pc,
		Evacuations:       tc.Evacuations,
		CriticalCases:     tc.CriticalCases,
		OpenCriticalCases: openCases(tc),
		Bookings:          tc.Bookings,
	}, nil
}

// HospitalStats covers evacuations, cases and beds targeted at the caller's
// hospital.
func (s *Service) HospitalStats(ctx context.Context) (*Stats, error) {
	hospitalID, err := access.TenantFromContext(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	tc, err := s.transfers.Counts(ctx, evacuation.HospitalSide(hospitalID))
	if err != nil {
		return nil, err
	}
	fillTransfers(tc)
	return &Stats{
		Portal:            PortalHospital,
		Evacuations:       tc.Evacuations,
		CriticalCases:     tc.CriticalCases,
		OpenCriticalCases: openCases(tc),
		Bookings:          tc.Bookings,
	}, nil
}

// AdminStats counts tenants by status. The caller must already have been
// checked for the admin role.
func (s *Service) AdminStats(ctx context.Context) (*Stats, error) {
	clinics, err := s.tenants.Counts(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	hospitals, err := s.tenants.Counts(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Portal:    PortalAdmin,
		Clinics:   zeroFill(clinics, tenantStatuses...),
		Hospitals: zeroFill(hospitals, tenantStatuses...),
	}, nil
}
