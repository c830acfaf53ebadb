package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/domain/evacuation"
	"github.com/medevac/medevac/internal/domain/patient"
	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
)

var (
	clinicID   = uuid.New()
	hospitalID = uuid.New()
)

type fakePatients struct{ asked uuid.UUID }

func (f *fakePatients) Counts(_ context.Context, id uuid.UUID) (*patient.Counts, error) {
	f.asked = id
	return &patient.Counts{
		Total:    3,
		ByStatus: map[patient.Status]int{patient.StatusAdmitted: 3},
		ByRisk:   map[patient.RiskLevel]int{patient.RiskHigh: 1, patient.RiskLow: 2},
	}, nil
}

type fakeTransfers struct{ sides []evacuation.Side }

func (f *fakeTransfers) Counts(_ context.Context, side evacuation.Side) (*evacuation.Counts, error) {
	f.sides = append(f.sides, side)
	return &evacuation.Counts{
		Evacuations:   map[evacuation.Status]int{evacuation.StatusRequested: 2},
		CriticalCases: map[evacuation.CaseStatus]int{evacuation.CaseOpen: 1, evacuation.CaseAcknowledged: 2, evacuation.CaseResolved: 4},
	}, nil
}

type fakeTenants struct{ err error }

func (f fakeTenants) Counts(_ context.Context, kind access.TenantKind) (map[access.TenantStatus]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	if kind == access.KindClinic {
		return map[access.TenantStatus]int{access.StatusActive: 5, access.StatusPendingApproval: 1}, nil
	}
	return map[access.TenantStatus]int{access.StatusActive: 2}, nil
}

func newServer(t *testing.T, tenants TenantCounter) (*echo.Echo, *fakePatients, *fakeTransfers) {
	t.Helper()
	patients, transfers := &fakePatients{}, &fakeTransfers{}
	verifier := auth.VerifierFunc(func(_ context.Context, token string) (auth.Principal, error) {
		switch token {
		case "":
			return auth.Principal{}, apperr.Unauthenticated("missing token")
		case "admin":
			return auth.Principal{ID: token, Role: auth.RoleAdmin}, nil
		}
		return auth.Principal{ID: token, Role: auth.RoleUser}, nil
	})
	resolver := access.ResolverFunc(func(_ context.Context, owner string, kind access.TenantKind) (*access.Tenant, error) {
		switch {
		case owner == "clinic" && kind == access.KindClinic:
			return &access.Tenant{ID: clinicID, Kind: kind, Status: access.StatusActive}, nil
		case owner == "hospital" && kind == access.KindHospital:
			return &access.Tenant{ID: hospitalID, Kind: kind, Status: access.StatusActive}, nil
		}
		return nil, nil
	})

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	svc := NewService(patients, transfers, tenants)
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"), access.NewGate(verifier, resolver, zerolog.Nop()))
	return e, patients, transfers
}

func get(e *echo.Echo, portal, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/stats?portal="+portal, nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeStats(t *testing.T, rec *httptest.ResponseRecorder) Stats {
	t.Helper()
	var body struct{ Data Stats }
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return body.Data
}

func TestStats_RequiresCredential(t *testing.T) {
	e, _, _ := newServer(t, fakeTenants{})
	for _, portal := range []string{"clinic", "hospital", "admin", "", "bogus"} {
		if rec := get(e, portal, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("portal=%q: expected 401, got %d", portal, rec.Code)
		}
	}
}

func TestStats_PortalGates(t *testing.T) {
	e, _, _ := newServer(t, fakeTenants{})

	tests := []struct {
		portal, token string
		want          int
	}{
		{"clinic", "hospital", http.StatusForbidden},
		{"hospital", "clinic", http.StatusForbidden},
		{"admin", "clinic", http.StatusForbidden},
		{"bogus", "clinic", http.StatusBadRequest},
		{"clinic", "clinic", http.StatusOK},
		{"hospital", "hospital", http.StatusOK},
		{"admin", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := get(e, tt.portal, tt.token); rec.Code != tt.want {
			t.Errorf("portal=%s token=%s: expected %d, got %d", tt.portal, tt.token, tt.want, rec.Code)
		}
	}
}

func TestStats_Clinic(t *testing.T) {
	e, patients, transfers := newServer(t, fakeTenants{})

	s := decodeStats(t, get(e, "clinic", "clinic"))
	if patients.asked != clinicID {
		t.Errorf("expected counts for %s, got %s", clinicID, patients.asked)
	}
	if len(transfers.sides) != 1 || transfers.sides[0] != evacuation.ClinicSide(clinicID) {
		t.Errorf("expected the clinic side, got %+v", transfers.sides)
	}
	if s.Portal != PortalClinic || s.Patients == nil || s.Patients.Total != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.OpenCriticalCases == nil || *s.OpenCriticalCases != 3 {
		t.Errorf("expected 3 open cases, got %v", s.OpenCriticalCases)
	}
	if n, ok := s.Evacuations[evacuation.StatusArrived]; !ok || n != 0 {
		t.Errorf("expected zero-filled arrived bucket, got %v", s.Evacuations)
	}
	if _, ok := s.Patients.ByRisk[patient.RiskCritical]; !ok {
		t.Errorf("expected zero-filled critical risk bucket, got %v", s.Patients.ByRisk)
	}
	if len(s.Bookings) != 3 {
		t.Errorf("expected three booking buckets, got %v", s.Bookings)
	}
	if s.Clinics != nil {
		t.Error("expected no tenant counts for a clinic")
	}
}

func TestStats_HospitalAndAdmin(t *testing.T) {
	e, _, transfers := newServer(t, fakeTenants{})

	s := decodeStats(t, get(e, "hospital", "hospital"))
	if transfers.sides[0] != evacuation.HospitalSide(hospitalID) {
		t.Errorf("expected the hospital side, got %+v", transfers.sides)
	}
	if s.Patients != nil || s.Evacuations[evacuation.StatusRequested] != 2 {
		t.Errorf("unexpected hospital stats %+v", s)
	}

	s = decodeStats(t, get(e, "admin", "admin"))
	if s.Clinics[access.StatusActive] != 5 || s.Hospitals[access.StatusSuspended] != 0 {
		t.Errorf("unexpected admin stats %+v", s)
	}
	if _, ok := s.Hospitals[access.StatusPendingApproval]; !ok {
		t.Error("expected zero-filled pending bucket")
	}
}

func TestStats_UpstreamFailure(t *testing.T) {
	e, _, _ := newServer(t, fakeTenants{err: apperr.Upstream(errors.New("connection reset"))})
	if rec := get(e, "admin", "admin"); rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}
