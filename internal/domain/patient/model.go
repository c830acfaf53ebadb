// Package patient holds the patients of a clinic, their vital signs and the
// risk score derived from them. Every record is owned by exactly one clinic.
package patient

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusAdmitted           Status = "admitted"
	StatusAwaitingEvacuation Status = "awaiting_evacuation"
	StatusInTransit          Status = "in_transit"
	StatusEvacuated          Status = "evacuated"
	StatusDischarged         Status = "discharged"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAdmitted, StatusAwaitingEvacuation, StatusInTransit, StatusEvacuated, StatusDischarged:
		return true
	}
	return false
}

// Manual reports whether clinic staff may set s directly. The other statuses
// follow the patient's evacuation.
func (s Status) Manual() bool {
	return s == StatusAdmitted || s == StatusDischarged
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// RiskLevelFor buckets a 0-100 risk score.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

var Sexes = map[string]bool{"female": true, "male": true, "other": true, "unknown": true}

type Patient struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ClinicID    uuid.UUID `db:"clinic_id" json:"clinic_id"`
	FullName    string    `db:"full_name" json:"full_name"`
	DateOfBirth *string   `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Sex         string    `db:"sex" json:"sex"`
	Condition   string    `db:"condition" json:"condition"`
	Notes       string    `db:"notes" json:"notes"`
	Status      Status    `db:"status" json:"status"`
	RiskScore   int       `db:"risk_score" json:"risk_score"`
	RiskLevel   RiskLevel `db:"risk_level" json:"risk_level"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	FullName    *string `json:"full_name"`
	DateOfBirth *string `json:"date_of_birth"`
	Sex         *string `json:"sex"`
	Condition   *string `json:"condition"`
	Notes       *string `json:"notes"`
	Status      *Status `json:"status"`
	RiskScore   *int    `json:"risk_score"`
}

func (p Patch) apply(pt *Patient) {
	if p.FullName != nil {
		pt.FullName = *p.FullName
	}
	if p.DateOfBirth != nil {
		pt.DateOfBirth = p.DateOfBirth
		if *p.DateOfBirth == "" {
			pt.DateOfBirth = nil
		}
	}
	if p.Sex != nil {
		pt.Sex = *p.Sex
	}
	if p.Condition != nil {
		pt.Condition = *p.Condition
	}
	if p.Notes != nil {
		pt.Notes = *p.Notes
	}
	if p.Status != nil {
		pt.Status = *p.Status
	}
	if p.RiskScore != nil {
		pt.RiskScore = *p.RiskScore
	}
}

type Filter struct {
	Status    Status
	RiskLevel RiskLevel
	Search    string
}

// Consciousness is the ACVPU level of a vitals observation.
type Consciousness string

const (
	Alert        Consciousness = "alert"
	Confusion    Consciousness = "confusion"
	Voice        Consciousness = "voice"
	Pain         Consciousness = "pain"
	Unresponsive Consciousness = "unresponsive"
)

func (c Consciousness) Valid() bool {
	switch c {
	case Alert, Confusion, Voice, Pain, Unresponsive:
		return true
	}
	return false
}

// VitalsLog is one observation set. Absent measurements score zero.
type VitalsLog struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	PatientID       uuid.UUID     `db:"patient_id" json:"patient_id"`
	ClinicID        uuid.UUID     `db:"clinic_id" json:"clinic_id"`
	HeartRate       *int          `db:"heart_rate" json:"heart_rate,omitempty"`
	SystolicBP      *int          `db:"systolic_bp" json:"systolic_bp,omitempty"`
	RespiratoryRate *int          `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	SpO2            *int          `db:"spo2" json:"spo2,omitempty"`
	Temperature     *float64      `db:"temperature" json:"temperature,omitempty"`
	Consciousness   Consciousness `db:"consciousness" json:"consciousness"`
	OnOxygen        bool          `db:"on_oxygen" json:"on_oxygen"`
	NEWSScore       int           `db:"news_score" json:"news_score"`
	RecordedBy      string        `db:"recorded_by" json:"recorded_by"`
	RecordedAt      time.Time     `db:"recorded_at" json:"recorded_at"`
}

// Counts summarises a clinic's patients for the dashboard.
type Counts struct {
	Total    int               `json:"total"`
	ByStatus map[Status]int    `json:"by_status"`
	ByRisk   map[RiskLevel]int `json:"by_risk_level"`
}
