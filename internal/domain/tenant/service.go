package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/events"
)

type Service struct {
	repo Repository
	pub  events.Publisher
}

func NewService(repo Repository, pub events.Publisher) *Service {
	if pub == nil {
		pub = events.Discard{}
	}
	return &Service{repo: repo, pub: pub}
}

// Resolve implements access.Resolver. A principal without a tenant of kind
// yields (nil, nil).
func (s *Service) Resolve(ctx context.Context, ownerID string, kind access.TenantKind) (*access.Tenant, error) {
	t, err := s.repo.GetByOwner(ctx, kind, ownerID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t.Access(), nil
}

func validateProfile(kind access.TenantKind, p Profile) error {
	if p.Name == "" {
		return apperr.Invalid("name is required")
	}
	if len(p.Name) > 255 {
		return apperr.Invalid("name must be at most 255 characters")
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return apperr.Invalid("email is not a valid address")
		}
	}
	if p.BedCapacity < 0 {
		return apperr.Invalid("bed_capacity must not be negative")
	}
	if kind == access.KindClinic && p.BedCapacity != 0 {
		return apperr.Invalid("bed_capacity only applies to hospitals")
	}
	return nil
}

// Register creates the principal's tenant of kind, or resubmits an existing
// pending or suspended one. Either way the tenant ends up pending_approval
// with its rejection reason cleared. An active tenant is not re-registered.
func (s *Service) Register(ctx context.Context, p auth.Principal, kind access.TenantKind, profile Profile) (*Tenant, error) {
	if !kind.Valid() {
		return nil, apperr.Invalid(fmt.Sprintf("unknown tenant kind %q", kind))
	}
	profile.normalize()
	if profile.Email == "" {
		profile.Email = strings.ToLower(p.Email)
	}
	if err := validateProfile(kind, profile); err != nil {
		return nil, err
	}

	t := &Tenant{Kind: kind, OwnerID: p.ID}
	profile.apply(t)
	if err := s.repo.Upsert(ctx, t); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict(string(kind) + " is already active; update it through the profile endpoint").
				WithDetail("status", string(access.StatusActive))
		}
		return nil, apperr.Upstream(err)
	}

	events.Multi(ctx, s.pub, string(kind)+":registered", t, events.AdminScope(), events.TenantScope(kind, t.ID))
	return t, nil
}

// Mine returns the principal's tenant of kind, or nil if there is none.
func (s *Service) Mine(ctx context.Context, p auth.Principal, kind access.TenantKind) (*Tenant, error) {
	t, err := s.repo.GetByOwner(ctx, kind, p.ID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return t, nil
}

// UpdateProfile changes the profile of the caller's active tenant. Status and
// ownership are not editable here.
func (s *Service) UpdateProfile(ctx context.Context, kind access.TenantKind, patch ProfilePatch) (*Tenant, error) {
	id, err := access.TenantFromContext(ctx, kind)
	if err != nil {
		return nil, err
	}
	current, err := s.repo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, apperr.FromStore(err, string(kind)+" not found")
	}

	profile := patch.merge(current)
	profile.normalize()
	if err := validateProfile(kind, profile); err != nil {
		return nil, err
	}
	t, err := s.repo.UpdateProfile(ctx, kind, id, profile)
	if err != nil {
		return nil, apperr.FromStore(err, string(kind)+" not found")
	}

	events.Multi(ctx, s.pub, string(kind)+":updated", t, events.TenantScope(kind, t.ID), events.AdminScope())
	return t, nil
}

// Approve moves a pending tenant to active. Only admins reach this; the
// check is repeated here so the rule holds for every caller.
func (s *Service) Approve(ctx context.Context, admin auth.Principal, kind access.TenantKind, id uuid.UUID) (*Tenant, error) {
	return s.transition(ctx, admin, kind, id, "approved", Transition{
		From: []access.TenantStatus{access.StatusPendingApproval},
		To:   access.StatusActive,
	})
}

// Reject suspends a pending or active tenant with a reason the owner sees.
func (s *Service) Reject(ctx context.Context, admin auth.Principal, kind access.TenantKind, id uuid.UUID, reason string) (*Tenant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Invalid("reason is required")
	}
	return s.transition(ctx, admin, kind, id, "rejected", Transition{
		From:   []access.TenantStatus{access.StatusPendingApproval, access.StatusActive},
		To:     access.StatusSuspended,
		Reason: &reason,
	})
}

func (s *Service) transition(ctx context.Context, admin auth.Principal, kind access.TenantKind, id uuid.UUID, verb string, tr Transition) (*Tenant, error) {
	if !admin.IsAdmin() {
		return nil, apperr.Forbidden("admin role required")
	}
	tr.Reviewer = admin.ID

	t, err := s.repo.SetStatus(ctx, kind, id, tr)
	switch {
	case errors.Is(err, apperr.ErrConflict):
		current, getErr := s.repo.GetByID(ctx, kind, id)
		if getErr != nil {
			return nil, apperr.FromStore(getErr, string(kind)+" not found")
		}
		return nil, apperr.Newf(apperr.KindConflict, "cannot mark %s %s while it is %s", kind, verb, current.Status).
			WithDetail("status", string(current.Status))
	case err != nil:
		return nil, apperr.FromStore(err, string(kind)+" not found")
	}

	events.Multi(ctx, s.pub, string(kind)+":"+verb, t, events.TenantScope(kind, t.ID), events.AdminScope())
	if kind == access.KindHospital {
		// clinics choose evacuation targets from the directory
		s.pub.Publish(ctx, events.Everyone(), "hospitals:directory_changed", DirectoryChange{ID: t.ID, Status: t.Status})
	}
	return t, nil
}

// DirectoryChange tells every listener that a hospital entered or left the
// directory.
type DirectoryChange struct {
	ID     uuid.UUID           `json:"id"`
	Status access.TenantStatus `json:"status"`
}

func (s *Service) Get(ctx context.Context, kind access.TenantKind, id uuid.UUID) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, kind, id)
	if err != nil {
		return nil, apperr.FromStore(err, string(kind)+" not found")
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Tenant, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Invalid(fmt.Sprintf("unknown status %q", f.Status))
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	return items, total, nil
}

// Directory lists active hospitals for clinics choosing an evacuation target.
func (s *Service) Directory(ctx context.Context, region string, limit, offset int) ([]DirectoryEntry, int, error) {
	items, total, err := s.repo.List(ctx, Filter{Kind: access.KindHospital, Status: access.StatusActive, Region: region}, limit, offset)
	if err != nil {
		return nil, 0, apperr.Upstream(err)
	}
	out := make([]DirectoryEntry, 0, len(items))
	for _, t := range items {
		out = append(out, t.directoryEntry())
	}
	return out, total, nil
}

// ActiveHospital reports whether id names an active hospital. Used to
// validate evacuation targets.
func (s *Service) ActiveHospital(ctx context.Context, id uuid.UUID) (bool, error) {
	t, err := s.repo.GetByID(ctx, access.KindHospital, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Status == access.StatusActive, nil
}

// Counts returns tenants of kind by status.
func (s *Service) Counts(ctx context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error) {
	counts, err := s.repo.CountByStatus(ctx, kind)
	if err != nil {
		return nil, apperr.Upstream(err)
	}
	return counts, nil
}
