package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/events"
)

const dateLayout = "2006-01-02"

type Service struct {
	repo Repository
	pub  events.Publisher
	now  func() time.Time
}

func NewService(repo Repository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{repo: repo, pub: pub, now: time.Now}
}

func (s *Service) clinicScope(id uuid.UUID) events.Scope {
	return events.TenantScope(access.KindClinic, id)
}

func (s *Service) validate(p *Patient) error {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Sex = strings.ToLower(strings.TrimSpace(p.Sex))
	if p.FullName == "" {
		return apperr.Invalid("full_name is required")
	}
	if len(p.FullName) > 255 {
		return apperr.Invalid("full_name must be at most 255 characters")
	}
	if p.Sex == "" {
		p.Sex = "unknown"
	}
	if !Sexes[p.Sex] {
		return apperr.Invalid(fmt.Sprintf("unknown sex %q", p.Sex))
	}
	if p.DateOfBirth != nil {
		dob, err := time.Parse(dateLayout, *p.DateOfBirth)
		if err != nil {
			return apperr.Invalid("date_of_birth must be YYYY-MM-DD")
		}
		if dob.After(s.now()) {
			return apperr.Invalid("date_of_birth is in the future")
		}
	}
	if p.RiskScore < 0 || p.RiskScore > 100 {
		return apperr.Invalid("risk_score must be between 0 and 100")
	}
	if !p.Status.Valid() {
		return apperr.Invalid(fmt.Sprintf("unknown status %q", p.Status))
	}
	return nil
}

// Create admits a patient to the caller's clinic. Any clinic_id in the
// request is replaced by the caller's.
func (s *Service) Create(ctx context.Context, p *Patient) (*Patient, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	p.ID = uuid.Nil
	p.ClinicID = clinicID
	if p.Status == "" {
		p.Status = StatusAdmitted
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}
	if !p.Status.Manual() {
		return nil, apperr.Invalid("a new patient must be admitted or discharged")
	}
	p.RiskLevel = RiskLevelFor(p.RiskScore)

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, apperr.Upstream(err)
	}
	s.pub.Publish(ctx, s.clinicScope(clinicID), "patient:created", p)
	return p, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, clinicID, id)
	if err != nil {
		return nil, apperr.FromStore(err, "patient not found")
	}
	return p, nil
}

// Update applies patch to one of the caller's patients. Staff may only move
// a patient between admitted and discharged, and not while an evacuation
// owns the status.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch Patch) (*Patient, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.Get(ctx, clinicID, id)
	if err != nil {
		return nil, apperr.FromStore(err, "patient not found")
	}

	if patch.Status != nil && *patch.Status != p.Status {
		if !patch.Status.Manual() {
			return nil, apperr.Invalid(fmt.Sprintf("status %q is set by the evacuation workflow", *patch.Status))
		}
		if !p.Status.Manual() && p.Status != StatusEvacuated {
			return nil, apperr.Conflict("patient has an evacuation in progress").
				WithDetail("status", string(p.Status))
		}
	}

	patch.apply(p)
	p.ClinicID = clinicID
	if err := s.validate(p); err != nil {
		return nil, err
	}
	p.RiskLevel = RiskLevelFor(p.RiskScore)

	if err := s.repo.Update(ctx, p); err != nil {
		return nil, apperr.FromStore(err, "patient not found")
	}
	s.pub.Publish(ctx, s.clinicScope(clinicID), "patient:updated", p)
	return p, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Patient, int, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.RiskLevel != "" && !f.RiskLevel.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown risk_level %q", f.RiskLevel))
	}
	f.Search = strings.TrimSpace(f.Search)

	items, total, err := s.repo.List(ctx, clinicID, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}

func (s *Service) Counts(ctx context.Context, clinicID uuid.UUID) (*Counts, error) {
	c, err := s.repo.Counts(ctx, clinicID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return c, nil
}

// CheckOwned fails with forbidden when patientID exists but belongs to
// another clinic, and with not_found when it does not exist at all.
func (s *Service) CheckOwned(ctx context.Context, clinicID, patientID uuid.UUID) error {
	owner, err := s.repo.ClinicOf(ctx, patientID)
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("patient not found")
	}
	if err != nil {
		return apperr.Upstream(err)
	}
	if owner != clinicID {
		return apperr.Forbidden("patient belongs to another clinic")
	}
	return nil
}

// SetStatus records a status driven by the evacuation workflow.
func (s *Service) SetStatus(ctx context.Context, clinicID, id uuid.UUID, status Status) error {
	if err := s.repo.SetStatus(ctx, clinicID, id, status); err != nil {
		return apperr.FromStore(err, "patient not found")
	}
	s.pub.Publish(ctx, s.clinicScope(clinicID), "patient:updated", map[string]interface{}{
		"id":     id,
		"status": status,
	})
	return nil
}

func inRange(name string, v *int, lo, hi int) error {
	if v != nil && (*v < lo || *v > hi) {
		return apperr.Invalid(fmt.Sprintf("%s must be between %d and %d", name, lo, hi))
	}
	return nil
}

func validateVitals(v *VitalsLog) error {
	checks := []error{
		inRange("heart_rate", v.HeartRate, 0, 300),
		inRange("systolic_bp", v.SystolicBP, 0, 300),
		inRange("respiratory_rate", v.RespiratoryRate, 0, 80),
		inRange("spo2", v.SpO2, 0, 100),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if t := v.Temperature; t != nil && (*t < 25 || *t > 45) {
		return apperr.Invalid("temperature must be between 25 and 45")
	}
	if v.Consciousness == "" {
		v.Consciousness = Alert
	}
	if !v.Consciousness.Valid() {
		return apperr.Invalid(fmt.Sprintf("unknown consciousness %q", v.Consciousness))
	}
	if v.HeartRate == nil && v.SystolicBP == nil && v.RespiratoryRate == nil && v.SpO2 == nil && v.Temperature == nil {
		return apperr.Invalid("at least one measurement is required")
	}
	return nil
}

// AddVitals records an observation for one of the caller's patients and
// refreshes the patient's risk score from its early warning score.
func (s *Service) AddVitals(ctx context.Context, patientID uuid.UUID, v *VitalsLog) (*VitalsLog, error) {
	rc, ok := access.FromContext(ctx)
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	if err := validateVitals(v); err != nil {
		return nil, err
	}

	v.ID = uuid.Nil
	v.PatientID = patientID
	v.ClinicID = clinicID
	if ok {
		v.RecordedBy = rc.Principal.ID
	}
	v.NEWSScore = NEWS(v)
	risk := RiskFromNEWS(v.NEWSScore)

	if err := s.repo.AddVitals(ctx, v, risk, RiskLevelFor(risk)); err != nil {
		return nil, apperr.FromStore(err, "patient not found")
	}
	s.pub.Publish(ctx, s.clinicScope(clinicID), "vitals:recorded", map[string]interface{}{
		"vitals":     v,
		"risk_score": risk,
		"risk_level": RiskLevelFor(risk),
	})
	return v, nil
}

func (s *Service) ListVitals(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*VitalsLog, int, error) {
	clinicID, err := access.TenantFromContext(ctx, access.KindClinic)
	if err != nil {
		return nil, 0, err
	}
	if _, err := s.repo.Get(ctx, clinicID, patientID); err != nil {
		return nil, 0, apperr.FromStore(err, "patient not found")
	}
	items, total, err := s.repo.ListVitals(ctx, clinicID, patientID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}
