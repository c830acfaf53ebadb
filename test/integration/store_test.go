//go:build integration

package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medevac/medevac/internal/domain/evacuation"
	"github.com/medevac/medevac/internal/domain/patient"
	"github.com/medevac/medevac/internal/domain/tenant"
	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
	"github.com/medevac/medevac/internal/platform/db"
	"github.com/medevac/medevac/internal/platform/events"
)

type services struct {
	tenants     *tenant.Service
	patients    *patient.Service
	evacuations *evacuation.Service
	evacRepo    evacuation.Repository
}

func newServices() *services {
	tenants := newTenantService()
	patients := patient.NewService(patient.NewRepoPG(pool), events.Discard{})
	repo := evacuation.NewRepoPG(pool)
	return &services{
		tenants:     tenants,
		patients:    patients,
		evacuations: evacuation.NewService(repo, patients, tenants, events.Discard{}),
		evacRepo:    repo,
	}
}

func TestTenant_ResubmissionUpdatesInPlace(t *testing.T) {
	svc := newTenantService()
	ctx := context.Background()
	owner := auth.Principal{ID: "owner-" + uuid.NewString(), Email: "lead@clinic.example.org"}

	first, err := svc.Register(ctx, owner, access.KindClinic, tenant.Profile{Name: "First Name"})
	require.NoError(t, err)
	_, err = svc.Reject(ctx, admin, access.KindClinic, first.ID, "license number missing")
	require.NoError(t, err)

	second, err := svc.Register(ctx, owner, access.KindClinic, tenant.Profile{Name: "Second Name", LicenseNumber: "LIC-9"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, access.StatusPendingApproval, second.Status)
	assert.Nil(t, second.RejectionReason)
	assert.Equal(t, "Second Name", second.Name)

	items, total, err := svc.List(ctx, tenant.Filter{Kind: access.KindClinic}, 1000, 0)
	require.NoError(t, err)
	owned := 0
	for _, it := range items {
		if it.OwnerID == owner.ID {
			owned++
		}
	}
	assert.Equal(t, 1, owned, "resubmission must not duplicate the row (total %d)", total)

	_, err = svc.Approve(ctx, admin, access.KindClinic, second.ID)
	require.NoError(t, err)
	_, err = svc.Register(ctx, owner, access.KindClinic, tenant.Profile{Name: "Third"})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "re-registering an active tenant: %v", err)
}

func TestPatient_ClinicIsolation(t *testing.T) {
	s := newServices()
	c1 := activeTenant(t, s.tenants, access.KindClinic)
	c2 := activeTenant(t, s.tenants, access.KindClinic)

	p, err := s.patients.Create(tenantCtx(access.KindClinic, c1.ID), &patient.Patient{FullName: "Stays Home", ClinicID: c2.ID})
	require.NoError(t, err)
	assert.Equal(t, c1.ID, p.ClinicID)

	_, err = s.patients.Get(tenantCtx(access.KindClinic, c2.ID), p.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	items, total, err := s.patients.List(tenantCtx(access.KindClinic, c2.ID), patient.Filter{}, 50, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)

	assert.True(t, apperr.Is(s.patients.CheckOwned(context.Background(), c2.ID, p.ID), apperr.KindForbidden))
}

func TestPatient_VitalsRefreshRisk(t *testing.T) {
	s := newServices()
	c := activeTenant(t, s.tenants, access.KindClinic)
	ctx := tenantCtx(access.KindClinic, c.ID)

	p, err := s.patients.Create(ctx, &patient.Patient{FullName: "Vitals Patient"})
	require.NoError(t, err)

	hr, rr, spo2 := 135, 28, 89
	_, err = s.patients.AddVitals(ctx, p.ID, &patient.VitalsLog{HeartRate: &hr, RespiratoryRate: &rr, SpO2: &spo2})
	require.NoError(t, err)

	got, err := s.patients.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Greater(t, got.RiskScore, 0)

	logs, total, err := s.patients.ListVitals(ctx, p.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, c.ID, logs[0].ClinicID)
}

func TestEvacuation_LifecycleOnPostgres(t *testing.T) {
	s := newServices()
	clinic := activeTenant(t, s.tenants, access.KindClinic)
	hospital := activeTenant(t, s.tenants, access.KindHospital)
	cctx := tenantCtx(access.KindClinic, clinic.ID)
	hctx := tenantCtx(access.KindHospital, hospital.ID)

	p, err := s.patients.Create(cctx, &patient.Patient{FullName: "Transfer Patient"})
	require.NoError(t, err)

	e, err := s.evacuations.Request(cctx, &evacuation.Evacuation{PatientID: p.ID, TargetHospitalID: hospital.ID, Priority: evacuation.PriorityUrgent, Reason: "surgery"})
	require.NoError(t, err)
	assert.Equal(t, evacuation.StatusRequested, e.Status)

	_, err = s.evacuations.Request(cctx, &evacuation.Evacuation{PatientID: p.ID, TargetHospitalID: hospital.ID})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "second open evacuation: %v", err)

	accepted, err := s.evacuations.UpdateByHospital(hctx, e.ID, evacuation.HospitalPatch{Status: evacuation.StatusAccepted})
	require.NoError(t, err)
	require.NotNil(t, accepted.AcceptedAt)

	// a writer holding the old status loses
	stale := *e
	stale.Status = evacuation.StatusDeclined
	err = s.evacRepo.UpdateEvacuation(context.Background(), evacuation.HospitalSide(hospital.ID), &stale, evacuation.StatusRequested)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	inTransit := evacuation.StatusInTransit
	_, err = s.evacuations.UpdateByClinic(cctx, e.ID, evacuation.ClinicPatch{Status: &inTransit})
	require.NoError(t, err)
	pt, err := s.patients.Get(cctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, patient.StatusInTransit, pt.Status)

	_, err = s.evacuations.UpdateByHospital(hctx, e.ID, evacuation.HospitalPatch{Status: evacuation.StatusArrived})
	require.NoError(t, err)
	pt, err = s.patients.Get(cctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, patient.StatusEvacuated, pt.Status)

	counts, err := s.evacuations.Counts(context.Background(), evacuation.HospitalSide(hospital.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Evacuations[evacuation.StatusArrived])
}

func TestCriticalCase_AcknowledgedCaseStaysWithHospital(t *testing.T) {
	s := newServices()
	clinic := activeTenant(t, s.tenants, access.KindClinic)
	h1 := activeTenant(t, s.tenants, access.KindHospital)
	h2 := activeTenant(t, s.tenants, access.KindHospital)
	cctx := tenantCtx(access.KindClinic, clinic.ID)

	p, err := s.patients.Create(cctx, &patient.Patient{FullName: "Critical Patient"})
	require.NoError(t, err)
	cc, err := s.evacuations.RaiseCase(cctx, &evacuation.CriticalCase{PatientID: p.ID, TargetHospitalID: h1.ID, Summary: "septic shock"})
	require.NoError(t, err)

	acked, err := s.evacuations.AcknowledgeCase(tenantCtx(access.KindHospital, h1.ID), cc.ID)
	require.NoError(t, err)
	assert.Equal(t, evacuation.CaseAcknowledged, acked.Status)

	for _, status := range []evacuation.CaseStatus{"", evacuation.CaseAcknowledged} {
		items, total, err := s.evacuations.ListCases(tenantCtx(access.KindHospital, h2.ID), access.KindHospital, status, 50, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
	}

	_, err = s.evacuations.ResolveCase(tenantCtx(access.KindHospital, h2.ID), cc.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

type chanPublisher chan events.Recorded

func (c chanPublisher) Publish(_ context.Context, scope events.Scope, name string, payload interface{}) {
	c <- events.Recorded{Scope: scope, Name: name, Payload: payload}
}

func TestChangeFeed_RepublishesRowChanges(t *testing.T) {
	s := newServices()
	clinic := activeTenant(t, s.tenants, access.KindClinic)

	got := make(chanPublisher, 64)
	feed := events.NewChangeFeed(pool, db.ChangeChannel, got, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = feed.Run(ctx) }()

	// LISTEN is asynchronous; keep writing until a notification arrives.
	room := access.Room(access.KindClinic, clinic.ID)
	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev := <-got:
			if ev.Name == "patients:changed" && ev.Scope.Room == room {
				return
			}
		case <-tick.C:
			_, err := s.patients.Create(tenantCtx(access.KindClinic, clinic.ID), &patient.Patient{FullName: "Feed Patient"})
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("no patients:changed event for the clinic room")
		}
	}
}
