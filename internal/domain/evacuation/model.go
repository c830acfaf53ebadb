// Package evacuation coordinates patient transfers between a clinic and a
// hospital: evacuation requests, critical case alerts and bed bookings.
// Each record carries both tenants and is read from either side.
package evacuation

import (
	"time"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
)

type Status string

const (
	StatusRequested Status = "requested"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusInTransit Status = "in_transit"
	StatusArrived   Status = "arrived"
	StatusCancelled Status = "cancelled"
)

var Statuses = []Status{StatusRequested, StatusAccepted, StatusDeclined, StatusInTransit, StatusArrived, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Open reports whether the evacuation still holds the patient.
func (s Status) Open() bool {
	return s == StatusRequested || s == StatusAccepted || s == StatusDeclined || s == StatusInTransit
}

type Priority string

const (
	PriorityRoutine   Priority = "routine"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

func (p Priority) Valid() bool {
	return p == PriorityRoutine || p == PriorityUrgent || p == PriorityEmergency
}

type Evacuation struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	OriginClinicID   uuid.UUID  `db:"origin_clinic_id" json:"origin_clinic_id"`
	TargetHospitalID uuid.UUID  `db:"target_hospital_id" json:"target_hospital_id"`
	Status           Status     `db:"status" json:"status"`
	Priority         Priority   `db:"priority" json:"priority"`
	Reason           string     `db:"reason" json:"reason"`
	Notes            string     `db:"notes" json:"notes"`
	DeclineReason    *string    `db:"decline_reason" json:"decline_reason,omitempty"`
	RequestedBy      string     `db:"requested_by" json:"requested_by"`
	AcceptedAt       *time.Time `db:"accepted_at" json:"accepted_at,omitempty"`
	ArrivedAt        *time.Time `db:"arrived_at" json:"arrived_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ClinicPatch is what the origin clinic may change. Status may only be
// cancelled or in_transit; TargetHospitalID retargets a requested or
// declined evacuation.
type ClinicPatch struct {
	Priority         *Priority  `json:"priority"`
	Notes            *string    `json:"notes"`
	TargetHospitalID *uuid.UUID `json:"target_hospital_id"`
	Status           *Status    `json:"status"`
}

// HospitalPatch is what the target hospital may change.
type HospitalPatch struct {
	Status        Status  `json:"status"`
	DeclineReason *string `json:"decline_reason"`
	Notes         *string `json:"notes"`
}

type Filter struct {
	Status    Status
	Priority  Priority
	PatientID uuid.UUID
}

// Side is the tenant a query is scoped by: the origin clinic or the target
// hospital.
type Side struct {
	Kind     access.TenantKind
	TenantID uuid.UUID
}

func ClinicSide(id uuid.UUID) Side   { return Side{Kind: access.KindClinic, TenantID: id} }
func HospitalSide(id uuid.UUID) Side { return Side{Kind: access.KindHospital, TenantID: id} }

// transitions lists, for each status, the statuses it may move to and the
// tenant kind allowed to make the move.
var transitions = map[Status]map[Status]access.TenantKind{
	StatusRequested: {
		StatusAccepted:  access.KindHospital,
		StatusDeclined:  access.KindHospital,
		StatusCancelled: access.KindClinic,
	},
	StatusAccepted: {
		StatusInTransit: access.KindClinic,
		StatusCancelled: access.KindClinic,
	},
	StatusInTransit: {
		StatusArrived: access.KindHospital,
	},
	StatusDeclined: {
		StatusRequested: access.KindClinic,
		StatusCancelled: access.KindClinic,
	},
}

// CanTransition reports whether actor may move an evacuation from one status
// to another.
func CanTransition(from, to Status, actor access.TenantKind) bool {
	kind, ok := transitions[from][to]
	return ok && kind == actor
}

type CaseStatus string

const (
	CaseOpen         CaseStatus = "open"
	CaseAcknowledged CaseStatus = "acknowledged"
	CaseResolved     CaseStatus = "resolved"
)

func (s CaseStatus) Valid() bool {
	return s == CaseOpen || s == CaseAcknowledged || s == CaseResolved
}

type Severity string

const (
	SeveritySerious  Severity = "serious"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	return s == SeveritySerious || s == SeverityCritical
}

// CriticalCase alerts a hospital to a deteriorating patient before (or
// without) a formal evacuation request.
type CriticalCase struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PatientID        uuid.UUID  `db:"patient_id" json:"patient_id"`
	OriginClinicID   uuid.UUID  `db:"origin_clinic_id" json:"origin_clinic_id"`
	TargetHospitalID uuid.UUID  `db:"target_hospital_id" json:"target_hospital_id"`
	Severity         Severity   `db:"severity" json:"severity"`
	Summary          string     `db:"summary" json:"summary"`
	Status           CaseStatus `db:"status" json:"status"`
	AcknowledgedBy   *string    `db:"acknowledged_by" json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type BookingStatus string

const (
	BookingReserved BookingStatus = "reserved"
	BookingOccupied BookingStatus = "occupied"
	BookingReleased BookingStatus = "released"
)

func (s BookingStatus) Valid() bool {
	return s == BookingReserved || s == BookingOccupied || s == BookingReleased
}

// Booking holds a hospital bed for an accepted evacuation.
type Booking struct {
	ID           uuid.UUID     `db:"id" json:"id"`
	EvacuationID uuid.UUID     `db:"evacuation_id" json:"evacuation_id"`
	HospitalID   uuid.UUID     `db:"hospital_id" json:"hospital_id"`
	ClinicID     uuid.UUID     `db:"clinic_id" json:"clinic_id"`
	PatientID    uuid.UUID     `db:"patient_id" json:"patient_id"`
	Ward         string        `db:"ward" json:"ward"`
	BedLabel     string        `db:"bed_label" json:"bed_label"`
	Status       BookingStatus `db:"status" json:"status"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingReserved: {BookingOccupied, BookingReleased},
	BookingOccupied: {BookingReleased},
}

func canMoveBooking(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Counts summarise one side's records for the dashboard.
type Counts struct {
	Evacuations   map[Status]int        `json:"evacuations"`
	CriticalCases map[CaseStatus]int    `json:"critical_cases"`
	Bookings      map[BookingStatus]int `json:"bookings"`
}
