// Package tenant manages clinics and hospitals: self-registration by their
// owners, admin review, and the lookup the access gate uses to resolve the
// caller's tenant.
package tenant

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
)

// Tenant is a clinic or a hospital. One principal owns at most one of each.
type Tenant struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	Kind            access.TenantKind   `db:"kind" json:"kind"`
	OwnerID         string              `db:"owner_id" json:"owner_id"`
	Status          access.TenantStatus `db:"status" json:"status"`
	Name            string              `db:"name" json:"name"`
	Email           string              `db:"email" json:"email"`
	Phone           string              `db:"phone" json:"phone"`
	Address         string              `db:"address" json:"address"`
	Region          string              `db:"region" json:"region"`
	LicenseNumber   string              `db:"license_number" json:"license_number"`
	ContactName     string              `db:"contact_name" json:"contact_name"`
	BedCapacity     int                 `db:"bed_capacity" json:"bed_capacity"`
	RejectionReason *string             `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedBy      *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// Access returns the part of the tenant the gate decides on.
func (t *Tenant) Access() *access.Tenant {
	return &access.Tenant{ID: t.ID, Kind: t.Kind, OwnerID: t.OwnerID, Status: t.Status}
}

// Profile is the owner-editable part of a tenant. Status, kind and owner are
// never taken from a request body.
type Profile struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Region        string `json:"region"`
	LicenseNumber string `json:"license_number"`
	ContactName   string `json:"contact_name"`
	BedCapacity   int    `json:"bed_capacity"`
}

func (p *Profile) normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	p.Region = strings.TrimSpace(p.Region)
	p.LicenseNumber = strings.TrimSpace(p.LicenseNumber)
	p.ContactName = strings.TrimSpace(p.ContactName)
}

func (p Profile) apply(t *Tenant) {
	t.Name = p.Name
	t.Email = p.Email
	t.Phone = p.Phone
	t.Address = p.Address
	t.Region = p.Region
	t.LicenseNumber = p.LicenseNumber
	t.ContactName = p.ContactName
	t.BedCapacity = p.BedCapacity
}

// ProfilePatch is a partial profile update; nil fields are left unchanged.
type ProfilePatch struct {
	Name          *string `json:"name"`
	Email         *string `json:"email"`
	Phone         *string `json:"phone"`
	Address       *string `json:"address"`
	Region        *string `json:"region"`
	LicenseNumber *string `json:"license_number"`
	ContactName   *string `json:"contact_name"`
	BedCapacity   *int    `json:"bed_capacity"`
}

func (p ProfilePatch) merge(t *Tenant) Profile {
	out := Profile{
		Name: t.Name, Email: t.Email, Phone: t.Phone, Address: t.Address, Region: t.Region,
		LicenseNumber: t.LicenseNumber, ContactName: t.ContactName, BedCapacity: t.BedCapacity,
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&out.Name, p.Name)
	set(&out.Email, p.Email)
	set(&out.Phone, p.Phone)
	set(&out.Address, p.Address)
	set(&out.Region, p.Region)
	set(&out.LicenseNumber, p.LicenseNumber)
	set(&out.ContactName, p.ContactName)
	if p.BedCapacity != nil {
		out.BedCapacity = *p.BedCapacity
	}
	return out
}

// DirectoryEntry is the public view of an active hospital offered to clinics
// choosing an evacuation target.
type DirectoryEntry struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	Address     string    `json:"address"`
	Phone       string    `json:"phone"`
	BedCapacity int       `json:"bed_capacity"`
}

func (t *Tenant) directoryEntry() DirectoryEntry {
	return DirectoryEntry{ID: t.ID, Name: t.Name, Region: t.Region, Address: t.Address, Phone: t.Phone, BedCapacity: t.BedCapacity}
}

// Filter narrows admin listings.
type Filter struct {
	Kind   access.TenantKind
	Status access.TenantStatus
	Region string
}

// Transition is a reviewed status change.
type Transition struct {
	From     []access.TenantStatus
	To       access.TenantStatus
	Reviewer string
	Reason   *string
}
