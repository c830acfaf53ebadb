package evacuation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/domain/patient"
	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/events"
)

// Patients is what evacuations need from the patient service.
type Patients interface {
	CheckOwned(ctx context.Context, clinicID, patientID uuid.UUID) error
	SetStatus(ctx context.Context, clinicID, id uuid.UUID, status patient.Status) error
}

// Hospitals validates evacuation and critical case targets.
type Hospitals interface {
	ActiveHospital(ctx context.Context, id uuid.UUID) (bool, error)
}

type Service struct {
	repo      Repository
	patients  Patients
	hospitals Hospitals
	pub       events.Publisher
	now       func() time.Time
}

func NewService(repo Repository, patients Patients, hospitals Hospitals, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{repo: repo, patients: patients, hospitals: hospitals, pub: pub, now: time.Now}
}

// side scopes the request to the caller's active tenant of kind.
func side(ctx context.Context, kind access.TenantKind) (Side, error) {
	id, err := access.TenantFromContext(ctx, kind)
	if err != nil {
		return Side{}, err
	}
	return Side{Kind: kind, TenantID: id}, nil
}

func principalID(ctx context.Context) string {
	if rc, ok := access.FromContext(ctx); ok {
		return rc.Principal.ID
	}
	return ""
}

// rooms returns the clinic and hospital rooms of a transfer.
func rooms(clinicID uuid.UUID, hospitalIDs ...uuid.UUID) []events.Scope {
	scopes := []events.Scope{events.TenantScope(access.KindClinic, clinicID)}
	for _, id := range hospitalIDs {
		scopes = append(scopes, events.TenantScope(access.KindHospital, id))
	}
	return scopes
}

func (s *Service) checkTarget(ctx context.Context, hospitalID uuid.UUID) error {
	if hospitalID == uuid.Nil {
		return apperr.Invalid("target_hospital_id is required")
	}
	ok, err := s.hospitals.ActiveHospital(ctx, hospitalID)
	if err != nil {
		return apperr.Upstream(err)
	}
	if !ok {
		return apperr.NotFound("target hospital not found")
	}
	return nil
}

// patientStatus maps an evacuation status onto the status its patient takes.
var patientStatus = map[Status]patient.Status{
	StatusRequested: patient.StatusAwaitingEvacuation,
	StatusInTransit: patient.StatusInTransit,
	StatusArrived:   patient.StatusEvacuated,
	StatusCancelled: patient.StatusAdmitted,
}

func (s *Service) syncPatient(ctx context.Context, e *Evacuation) error {
	status, ok := patientStatus[e.Status]
	if !ok {
		return nil
	}
	return s.patients.SetStatus(ctx, e.OriginClinicID, e.PatientID, status)
}

// restore writes e back over an evacuation whose patient could not be synced
// so the two statuses never disagree. The returned error wraps cause.
func (s *Service) restore(ctx context.Context, sd Side, e *Evacuation, current Status, cause error) error {
	if err := s.repo.UpdateEvacuation(ctx, sd, e, current); err != nil {
		return fmt.Errorf("%w (restoring evacuation %s: %v)", cause, e.ID, err)
	}
	return cause
}

// Request files an evacuation for one of the caller's patients. The origin
// clinic always comes from the caller; the patient must belong to it.
func (s *Service) Request(ctx context.Context, e *Evacuation) (*Evacuation, error) {
	sd, err := side(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	if e.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	if e.Priority == "" {
		e.Priority = PriorityRoutine
	}
	if !e.Priority.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown priority %q", e.Priority))
	}
	if err := s.patients.CheckOwned(ctx, sd.TenantID, e.PatientID); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, e.TargetHospitalID); err != nil {
		return nil, err
	}
	open, err := s.repo.OpenForPatient(ctx, sd.TenantID, e.PatientID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if open {
		return nil, apperr.Conflict("patient already has an open evacuation")
	}

	e.ID = uuid.Nil
	e.OriginClinicID = sd.TenantID
	e.Status = StatusRequested
	e.Reason = strings.TrimSpace(e.Reason)
	e.DeclineReason, e.AcceptedAt, e.ArrivedAt = nil, nil, nil
	e.RequestedBy = principalID(ctx)

	if err := s.repo.CreateEvacuation(ctx, e); err != nil {
		return nil, apperr.Upstream(err)
	}
	if err := s.syncPatient(ctx, e); err != nil {
		// a request whose patient was never marked must not block a retry
		cancelled := *e
		cancelled.Status = StatusCancelled
		return nil, s.restore(ctx, sd, &cancelled, e.Status, err)
	}
	events.Multi(ctx, s.pub, "evacuation:created", e, rooms(e.OriginClinicID, e.TargetHospitalID)...)
	return e, nil
}

func (s *Service) Get(ctx context.Context, kind access.TenantKind, id uuid.UUID) (*Evacuation, error) {
	sd, err := side(ctx, kind)
	if err != nil {
		return nil, err
	}
	e, err := s.repo.GetEvacuation(ctx, sd, id)
	if err != nil {
		return nil, apperr.FromStore(err, "evacuation not found")
	}
	return e, nil
}

func (s *Service) List(ctx context.Context, kind access.TenantKind, f Filter, limit, offset int) ([]*Evacuation, int, error) {
	sd, err := side(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown priority %q", f.Priority))
	}
	items, total, err := s.repo.ListEvacuations(ctx, sd, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}

func (s *Service) update(ctx context.Context, sd Side, e *Evacuation, from Status) error {
	err := s.repo.UpdateEvacuation(ctx, sd, e, from)
	if errors.Is(err, apperr.ErrConflict) {
		return apperr.Conflict("evacuation was updated concurrently; reload and retry")
	}
	if err != nil {
		return apperr.FromStore(err, "evacuation not found")
	}
	return nil
}

func invalidMove(from, to Status) error {
	return apperr.Newf(apperr.KindConflict, "cannot move evacuation from %s to %s", from, to).
		WithDetail("status", string(from))
}

// UpdateByClinic applies the origin clinic's changes. Retargeting is allowed
// while the request is pending or after a decline, and re-opens a declined
// request.
func (s *Service) UpdateByClinic(ctx context.Context, id uuid.UUID, patch ClinicPatch) (*Evacuation, error) {
	sd, err := side(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	e, err := s.repo.GetEvacuation(ctx, sd, id)
	if err != nil {
		return nil, apperr.FromStore(err, "evacuation not found")
	}
	before := *e
	from, previousTarget := e.Status, e.TargetHospitalID

	if patch.Priority != nil {
		if !patch.Priority.Valid() {
			return nil, apperr.Invalid(fmt.Sprintf("unknown priority %q", *patch.Priority))
		}
		e.Priority = *patch.Priority
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}

	if patch.TargetHospitalID != nil && *patch.TargetHospitalID != e.TargetHospitalID {
		if e.Status != StatusRequested && e.Status != StatusDeclined {
			return nil, apperr.Conflict("only a requested or declined evacuation can be retargeted").
				WithDetail("status", string(e.Status))
		}
		if err := s.checkTarget(ctx, *patch.TargetHospitalID); err != nil {
			return nil, err
		}
		e.TargetHospitalID = *patch.TargetHospitalID
		if e.Status == StatusDeclined {
			e.Status = StatusRequested
			e.DeclineReason = nil
		}
	}

	if patch.Status != nil && *patch.Status != e.Status {
		to := *patch.Status
		if to != StatusCancelled && to != StatusInTransit {
			return nil, apperr.Invalid(fmt.Sprintf("clinics may set status cancelled or in_transit, not %q", to))
		}
		if !CanTransition(e.Status, to, access.KindClinic) {
			return nil, invalidMove(e.Status, to)
		}
		e.Status = to
	}

	if err := s.update(ctx, sd, e, from); err != nil {
		return nil, err
	}
	if e.Status != from {
		if err := s.syncPatient(ctx, e); err != nil {
			return nil, s.restore(ctx, sd, &before, e.Status, err)
		}
	}

	scopes := rooms(e.OriginClinicID, e.TargetHospitalID)
	if previousTarget != e.TargetHospitalID {
		scopes = append(scopes, events.TenantScope(access.KindHospital, previousTarget))
	}
	events.Multi(ctx, s.pub, "evacuation:updated", e, scopes...)
	return e, nil
}

// UpdateByHospital records the target hospital's decision or the patient's
// arrival.
func (s *Service) UpdateByHospital(ctx context.Context, id uuid.UUID, patch HospitalPatch) (*Evacuation, error) {
	sd, err := side(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	to := patch.Status
	switch to {
	case StatusAccepted, StatusDeclined, StatusArrived:
	default:
		return nil, apperr.Invalid(fmt.Sprintf("hospitals may set status accepted, declined or arrived, not %q", to))
	}

	e, err := s.repo.GetEvacuation(ctx, sd, id)
	if err != nil {
		return nil, apperr.FromStore(err, "evacuation not found")
	}
	before := *e
	from := e.Status
	if !CanTransition(from, to, access.KindHospital) {
		return nil, invalidMove(from, to)
	}

	now := s.now().UTC()
	switch to {
	case StatusAccepted:
		e.AcceptedAt = &now
	case StatusDeclined:
		reason := ""
		if patch.DeclineReason != nil {
			reason = strings.TrimSpace(*patch.DeclineReason)
		}
		if reason == "" {
			return nil, apperr.Invalid("decline_reason is required")
		}
		e.DeclineReason = &reason
	case StatusArrived:
		e.ArrivedAt = &now
	}
	if patch.Notes != nil {
		e.Notes = *patch.Notes
	}
	e.Status = to

	if err := s.update(ctx, sd, e, from); err != nil {
		return nil, err
	}
	if err := s.syncPatient(ctx, e); err != nil {
		return nil, s.restore(ctx, sd, &before, e.Status, err)
	}
	events.Multi(ctx, s.pub, "evacuation:updated", e, rooms(e.OriginClinicID, e.TargetHospitalID)...)
	return e, nil
}

// RaiseCase alerts a hospital about one of the caller's patients.
func (s *Service) RaiseCase(ctx context.Context, c *CriticalCase) (*CriticalCase, error) {
	sd, err := side(ctx, access.KindClinic)
	if err != nil {
		return nil, err
	}
	if c.PatientID == uuid.Nil {
		return nil, apperr.Invalid("patient_id is required")
	}
	c.Summary = strings.TrimSpace(c.Summary)
	if c.Summary == "" {
		return nil, apperr.Invalid("summary is required")
	}
	if c.Severity == "" {
		c.Severity = SeverityCritical
	}
	if !c.Severity.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown severity %q", c.Severity))
	}
	if err := s.patients.CheckOwned(ctx, sd.TenantID, c.PatientID); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, c.TargetHospitalID); err != nil {
		return nil, err
	}

	c.ID = uuid.Nil
	c.OriginClinicID = sd.TenantID
	c.Status = CaseOpen
	c.AcknowledgedBy, c.AcknowledgedAt, c.ResolvedAt = nil, nil, nil
	if err := s.repo.CreateCase(ctx, c); err != nil {
		return nil, apperr.Upstream(err)
	}
	events.Multi(ctx, s.pub, "critical_case:created", c, rooms(c.OriginClinicID, c.TargetHospitalID)...)
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, kind access.TenantKind, status CaseStatus, limit, offset int) ([]*CriticalCase, int, error) {
	sd, err := side(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown status %q", status))
	}
	items, total, err := s.repo.ListCases(ctx, sd, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}

// AcknowledgeCase marks an open case as seen by the caller's hospital.
func (s *Service) AcknowledgeCase(ctx context.Context, id uuid.UUID) (*CriticalCase, error) {
	return s.moveCase(ctx, id, "acknowledged", func(c *CriticalCase, now time.Time) error {
		if c.Status != CaseOpen {
			return apperr.Newf(apperr.KindConflict, "case is already %s", c.Status).
				WithDetail("status", string(c.Status))
		}
		by := principalID(ctx)
		c.Status = CaseAcknowledged
		c.AcknowledgedBy = &by
		c.AcknowledgedAt = &now
		return nil
	})
}

// ResolveCase closes an open or acknowledged case.
func (s *Service) ResolveCase(ctx context.Context, id uuid.UUID) (*CriticalCase, error) {
	return s.moveCase(ctx, id, "resolved", func(c *CriticalCase, now time.Time) error {
		if c.Status == CaseResolved {
			return apperr.Conflict("case is already resolved").WithDetail("status", string(c.Status))
		}
		c.Status = CaseResolved
		c.ResolvedAt = &now
		return nil
	})
}

func (s *Service) moveCase(ctx context.Context, id uuid.UUID, verb string, apply func(*CriticalCase, time.Time) error) (*CriticalCase, error) {
	sd, err := side(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	c, err := s.repo.GetCase(ctx, sd, id)
	if err != nil {
		return nil, apperr.FromStore(err, "critical case not found")
	}
	from := c.Status
	if err := apply(c, s.now().UTC()); err != nil {
		return nil, err
	}

	err = s.repo.UpdateCase(ctx, sd, c, from)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, apperr.Conflict("critical case was updated concurrently; reload and retry")
	}
	if err != nil {
		return nil, apperr.FromStore(err, "critical case not found")
	}
	events.Multi(ctx, s.pub, "critical_case:"+verb, c, rooms(c.OriginClinicID, c.TargetHospitalID)...)
	return c, nil
}

// Book reserves a bed for an evacuation the caller's hospital has accepted.
// Clinic and patient are taken from the evacuation, never from the request.
func (s *Service) Book(ctx context.Context, b *Booking) (*Booking, error) {
	sd, err := side(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	if b.EvacuationID == uuid.Nil {
		return nil, apperr.Invalid("evacuation_id is required")
	}
	b.Ward = strings.TrimSpace(b.Ward)
	b.BedLabel = strings.TrimSpace(b.BedLabel)
	if b.BedLabel == "" {
		return nil, apperr.Invalid("bed_label is required")
	}

	e, err := s.repo.GetEvacuation(ctx, sd, b.EvacuationID)
	if err != nil {
		return nil, apperr.FromStore(err, "evacuation not found")
	}
	if e.Status != StatusAccepted && e.Status != StatusInTransit {
		return nil, apperr.Newf(apperr.KindConflict, "evacuation is %s; only accepted evacuations can be booked", e.Status).
			WithDetail("status", string(e.Status))
	}
	active, err := s.repo.ActiveBooking(ctx, sd.TenantID, e.ID)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	if active {
		return nil, apperr.Conflict("evacuation already has a bed booked")
	}

	b.ID = uuid.Nil
	b.HospitalID = sd.TenantID
	b.ClinicID = e.OriginClinicID
	b.PatientID = e.PatientID
	b.Status = BookingReserved
	if err := s.repo.CreateBooking(ctx, b); err != nil {
		return nil, apperr.Upstream(err)
	}
	events.Multi(ctx, s.pub, "booking:created", b, rooms(b.ClinicID, b.HospitalID)...)
	return b, nil
}

// BookingPatch changes a booking's bed or moves it along
// reserved -> occupied -> released.
type BookingPatch struct {
	Ward     *string        `json:"ward"`
	BedLabel *string        `json:"bed_label"`
	Status   *BookingStatus `json:"status"`
}

func (s *Service) UpdateBooking(ctx context.Context, id uuid.UUID, patch BookingPatch) (*Booking, error) {
	sd, err := side(ctx, access.KindHospital)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.GetBooking(ctx, sd, id)
	if err != nil {
		return nil, apperr.FromStore(err, "booking not found")
	}
	from := b.Status
	if from == BookingReleased {
		return nil, apperr.Conflict("booking is released").WithDetail("status", string(from))
	}

	if patch.Ward != nil {
		b.Ward = strings.TrimSpace(*patch.Ward)
	}
	if patch.BedLabel != nil {
		b.BedLabel = strings.TrimSpace(*patch.BedLabel)
		if b.BedLabel == "" {
			return nil, apperr.Invalid("bed_label must not be empty")
		}
	}
	if patch.Status != nil && *patch.Status != from {
		if !patch.Status.Valid() {
			return nil, apperr.Invalid(fmt.Sprintf("unknown status %q", *patch.Status))
		}
		if !canMoveBooking(from, *patch.Status) {
			return nil, apperr.Newf(apperr.KindConflict, "cannot move booking from %s to %s", from, *patch.Status).
				WithDetail("status", string(from))
		}
		b.Status = *patch.Status
	}

	err = s.repo.UpdateBooking(ctx, sd, b, from)
	if errors.Is(err, apperr.ErrConflict) {
		return nil, apperr.Conflict("booking was updated concurrently; reload and retry")
	}
	if err != nil {
		return nil, apperr.FromStore(err, "booking not found")
	}
	events.Multi(ctx, s.pub, "booking:updated", b, rooms(b.ClinicID, b.HospitalID)...)
	return b, nil
}

func (s *Service) ListBookings(ctx context.Context, kind access.TenantKind, status BookingStatus, limit, offset int) ([]*Booking, int, error) {
	sd, err := side(ctx, kind)
	if err != nil {
		return nil, 0, err
	}
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown status %q", status))
	}
	items, total, err := s.repo.ListBookings(ctx, sd, status, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}

// Counts summarises the records one tenant sees.
func (s *Service) Counts(ctx context.Context, sd Side) (*Counts, error) {
	c, err := s.repo.Counts(ctx, sd)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return c, nil
}
