package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/events"
	"github.com/medevac/medevac/internal/platform/memstore"
)

var (
	owner = auth.Principal{ID: "owner-1", Email: "Owner@Clinic.org", Role: auth.RoleUser}
	admin = auth.Principal{ID: "admin-1", Email: "ops@medevac.org", Role: auth.RoleAdmin}
)

func newTestService(t *testing.T) (*Service, *events.Recorder) {
	t.Helper()
	store, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore: %v", err)
	}
	rec := &events.Recorder{}
	return NewService(NewRepoMem(store), rec), rec
}

func TestRegister_CreatesPendingTenant(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	c, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "  Riverside Clinic "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Error("expected id to be assigned")
	}
	if c.Status != access.StatusPendingApproval {
		t.Errorf("expected pending_approval, got %s", c.Status)
	}
	if c.Name != "Riverside Clinic" {
		t.Errorf("expected trimmed name, got %q", c.Name)
	}
	if c.Email != "owner@clinic.org" {
		t.Errorf("expected email defaulted from principal, got %q", c.Email)
	}
	if c.OwnerID != owner.ID {
		t.Errorf("expected owner %s, got %s", owner.ID, c.OwnerID)
	}

	regs := rec.Named("clinic:registered")
	if len(regs) == 0 || regs[0].Scope.Room != events.AdminRoom {
		t.Errorf("expected clinic:registered on the admin room, got %+v", rec.Events)
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    access.TenantKind
		profile Profile
	}{
		{"missing name", access.KindClinic, Profile{}},
		{"bad email", access.KindClinic, Profile{Name: "x", Email: "not-an-email"}},
		{"negative beds", access.KindHospital, Profile{Name: "x", BedCapacity: -1}},
		{"clinic with beds", access.KindClinic, Profile{Name: "x", BedCapacity: 3}},
		{"unknown kind", access.TenantKind("pharmacy"), Profile{Name: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, owner, tt.kind, tt.profile)
			if !apperr.Is(err, apperr.KindInvalid) {
				t.Fatalf("expected invalid, got %v", err)
			}
		})
	}
}

func TestRegister_ResubmissionIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "Riverside"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Reject(ctx, admin, access.KindClinic, first.ID, "license missing"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	second, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "Riverside Clinic", LicenseNumber: "L-42"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same row %s, got %s", first.ID, second.ID)
	}
	if second.Status != access.StatusPendingApproval {
		t.Errorf("expected pending_approval after resubmission, got %s", second.Status)
	}
	if second.RejectionReason != nil {
		t.Errorf("expected rejection reason cleared, got %q", *second.RejectionReason)
	}
	if second.LicenseNumber != "L-42" {
		t.Errorf("expected profile updated, got %q", second.LicenseNumber)
	}

	_, total, err := svc.List(ctx, Filter{Kind: access.KindClinic}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 {
		t.Errorf("expected exactly one clinic row, got %d", total)
	}
}

func TestRegister_ClinicAndHospitalAreSeparate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})
	if err != nil {
		t.Fatalf("clinic: %v", err)
	}
	h, err := svc.Register(ctx, owner, access.KindHospital, Profile{Name: "H", BedCapacity: 40})
	if err != nil {
		t.Fatalf("hospital: %v", err)
	}
	if c.ID == h.ID {
		t.Error("expected distinct tenants per kind")
	}
}

func TestRegister_ActiveTenantConflicts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	c, _ := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})
	if _, err := svc.Approve(ctx, admin, access.KindClinic, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C2"})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := svc.Get(ctx, access.KindClinic, c.ID)
	if got.Status != access.StatusActive || got.Name != "C" {
		t.Errorf("active tenant must be untouched, got %+v", got)
	}
}

func TestResolve(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	none, err := svc.Resolve(ctx, owner.ID, access.KindClinic)
	if err != nil || none != nil {
		t.Fatalf("expected (nil, nil) for no tenant, got %v, %v", none, err)
	}

	c, _ := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})
	got, err := svc.Resolve(ctx, owner.ID, access.KindClinic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != c.ID || got.Status != access.StatusPendingApproval || got.Kind != access.KindClinic {
		t.Errorf("unexpected resolution %+v", got)
	}

	if h, _ := svc.Resolve(ctx, owner.ID, access.KindHospital); h != nil {
		t.Error("clinic must not resolve as a hospital")
	}
}

func TestStatusMachine(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(*Service, uuid.UUID)
		act     func(*Service, uuid.UUID) (*Tenant, error)
		want    access.TenantStatus
		wantErr apperr.Kind
	}{
		{
			name: "approve pending",
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Approve(ctx, admin, access.KindClinic, id)
			},
			want: access.StatusActive,
		},
		{
			name: "reject pending",
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Reject(ctx, admin, access.KindClinic, id, "incomplete")
			},
			want: access.StatusSuspended,
		},
		{
			name:  "reject active",
			setup: func(s *Service, id uuid.UUID) { _, _ = s.Approve(ctx, admin, access.KindClinic, id) },
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Reject(ctx, admin, access.KindClinic, id, "license revoked")
			},
			want: access.StatusSuspended,
		},
		{
			name:  "approve active",
			setup: func(s *Service, id uuid.UUID) { _, _ = s.Approve(ctx, admin, access.KindClinic, id) },
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Approve(ctx, admin, access.KindClinic, id)
			},
			wantErr: apperr.KindConflict,
		},
		{
			name:  "approve suspended",
			setup: func(s *Service, id uuid.UUID) { _, _ = s.Reject(ctx, admin, access.KindClinic, id, "no") },
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Approve(ctx, admin, access.KindClinic, id)
			},
			wantErr: apperr.KindConflict,
		},
		{
			name:  "reject suspended",
			setup: func(s *Service, id uuid.UUID) { _, _ = s.Reject(ctx, admin, access.KindClinic, id, "no") },
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Reject(ctx, admin, access.KindClinic, id, "again")
			},
			wantErr: apperr.KindConflict,
		},
		{
			name: "reject without reason",
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Reject(ctx, admin, access.KindClinic, id, " ")
			},
			wantErr: apperr.KindInvalid,
		},
		{
			name: "wrong kind",
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Approve(ctx, admin, access.KindHospital, id)
			},
			wantErr: apperr.KindNotFound,
		},
		{
			name: "non-admin",
			act: func(s *Service, id uuid.UUID) (*Tenant, error) {
				return s.Approve(ctx, owner, access.KindClinic, id)
			},
			wantErr: apperr.KindForbidden,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			c, err := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			if tt.setup != nil {
				tt.setup(svc, c.ID)
			}
			before, _ := svc.Get(ctx, access.KindClinic, c.ID)

			got, err := tt.act(svc, c.ID)
			if tt.wantErr != "" {
				if !apperr.Is(err, tt.wantErr) {
					t.Fatalf("expected %s, got %v", tt.wantErr, err)
				}
				after, _ := svc.Get(ctx, access.KindClinic, c.ID)
				if after.Status != before.Status {
					t.Errorf("status changed from %s to %s on a rejected transition", before.Status, after.Status)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got.Status)
			}
			if got.ReviewedBy == nil || *got.ReviewedBy != admin.ID {
				t.Error("expected reviewer to be recorded")
			}
		})
	}
}

func TestApprove_PublishesToTenantAndAdmin(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})

	if _, err := svc.Approve(ctx, admin, access.KindClinic, c.ID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	got := rec.Named("clinic:approved")
	if len(got) != 2 {
		t.Fatalf("expected 2 scoped events, got %d", len(got))
	}
	if got[0].Scope.Room != access.Room(access.KindClinic, c.ID) || got[1].Scope.Room != events.AdminRoom {
		t.Errorf("unexpected rooms %q, %q", got[0].Scope.Room, got[1].Scope.Room)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	h, _ := svc.Register(ctx, owner, access.KindHospital, Profile{Name: "General", BedCapacity: 10})
	h, _ = svc.Approve(ctx, admin, access.KindHospital, h.ID)

	rc := access.RequestContext{Principal: owner, TenantID: h.ID, TenantKind: access.KindHospital, TenantStatus: access.StatusActive}
	tctx := access.WithRequestContext(ctx, rc)

	beds := 25
	region := "North"
	got, err := svc.UpdateProfile(tctx, access.KindHospital, ProfilePatch{BedCapacity: &beds, Region: &region})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BedCapacity != 25 || got.Region != "North" || got.Name != "General" {
		t.Errorf("unexpected profile %+v", got)
	}
	if got.Status != access.StatusActive {
		t.Errorf("profile update must not change status, got %s", got.Status)
	}

	empty := ""
	if _, err := svc.UpdateProfile(tctx, access.KindHospital, ProfilePatch{Name: &empty}); !apperr.Is(err, apperr.KindInvalid) {
		t.Errorf("expected invalid for empty name, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, access.KindHospital, ProfilePatch{}); !apperr.Is(err, apperr.KindUnauthenticated) {
		t.Errorf("expected unauthenticated without request context, got %v", err)
	}
}

func TestHospitalReview_AnnouncesDirectoryChange(t *testing.T) {
	svc, rec := newTestService(t)
	ctx := context.Background()

	c, _ := svc.Register(ctx, owner, access.KindClinic, Profile{Name: "C"})
	if _, err := svc.Approve(ctx, admin, access.KindClinic, c.ID); err != nil {
		t.Fatalf("approve clinic: %v", err)
	}
	if n := len(rec.Named("hospitals:directory_changed")); n != 0 {
		t.Fatalf("clinic review must not touch the directory, got %d events", n)
	}

	h, _ := svc.Register(ctx, auth.Principal{ID: "h-owner"}, access.KindHospital, Profile{Name: "H"})
	if _, err := svc.Approve(ctx, admin, access.KindHospital, h.ID); err != nil {
		t.Fatalf("approve hospital: %v", err)
	}
	if _, err := svc.Reject(ctx, admin, access.KindHospital, h.ID, "license lapsed"); err != nil {
		t.Fatalf("reject hospital: %v", err)
	}

	got := rec.Named("hospitals:directory_changed")
	if len(got) != 2 {
		t.Fatalf("expected 2 directory events, got %d", len(got))
	}
	for i, want := range []access.TenantStatus{access.StatusActive, access.StatusSuspended} {
		if got[i].Scope != events.Everyone() {
			t.Errorf("event %d scoped to %q, want every listener", i, got[i].Scope.Room)
		}
		change, ok := got[i].Payload.(DirectoryChange)
		if !ok || change.ID != h.ID || change.Status != want {
			t.Errorf("event %d payload %+v, want %s %s", i, got[i].Payload, h.ID, want)
		}
	}
}

func TestDirectory_OnlyActiveHospitals(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	active, _ := svc.Register(ctx, auth.Principal{ID: "h1"}, access.KindHospital, Profile{Name: "Active", Region: "North"})
	_, _ = svc.Approve(ctx, admin, access.KindHospital, active.ID)
	_, _ = svc.Register(ctx, auth.Principal{ID: "h2"}, access.KindHospital, Profile{Name: "Pending", Region: "North"})
	_, _ = svc.Register(ctx, auth.Principal{ID: "c1"}, access.KindClinic, Profile{Name: "Clinic", Region: "North"})

	items, total, err := svc.Directory(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != active.ID {
		t.Fatalf("expected only the active hospital, got %+v", items)
	}

	if _, total, _ := svc.Directory(ctx, "south", 10, 0); total != 0 {
		t.Errorf("expected region filter to exclude North, got %d", total)
	}

	ok, err := svc.ActiveHospital(ctx, active.ID)
	if err != nil || !ok {
		t.Errorf("expected active hospital, got %v, %v", ok, err)
	}
	if ok, _ := svc.ActiveHospital(ctx, uuid.New()); ok {
		t.Error("unknown id must not be an active hospital")
	}
}

func TestCounts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, _ := svc.Register(ctx, auth.Principal{ID: "a"}, access.KindClinic, Profile{Name: "A"})
	_, _ = svc.Register(ctx, auth.Principal{ID: "b"}, access.KindClinic, Profile{Name: "B"})
	_, _ = svc.Approve(ctx, admin, access.KindClinic, a.ID)

	counts, err := svc.Counts(ctx, access.KindClinic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts[access.StatusActive] != 1 || counts[access.StatusPendingApproval] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}
