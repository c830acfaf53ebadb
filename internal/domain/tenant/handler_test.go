package tenant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medevac/medevac/internal/platform/access"
	"github.com/medevac/medevac/internal/platform/apperr"
	"github.com/medevac/medevac/internal/platform/auth"
)

// tokens: "admin" is the admin, anything else is a user with that id.
var testVerifier = auth.VerifierFunc(func(_ context.Context, token string) (auth.Principal, error) {
	if token == "admin" {
		return admin, nil
	}
	if token == "" || token == "expired" {
		return auth.Principal{}, apperr.Unauthenticated("token expired")
	}
	return auth.Principal{ID: token, Email: token + "@example.org", Role: auth.RoleUser}, nil
})

func newTestHandler(t *testing.T) (*echo.Echo, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	gate := access.NewGate(testVerifier, svc, zerolog.Nop())
	NewHandler(svc).RegisterRoutes(e.Group("/api/v1"), gate)
	return e, svc
}

func do(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

type single struct {
	Data *Tenant `json:"data"`
}

func TestHandler_RequiresCredential(t *testing.T) {
	e, _ := newTestHandler(t)

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/api/v1/clinics/register"},
		{http.MethodGet, "/api/v1/clinics/me"},
		{http.MethodPatch, "/api/v1/hospitals/me"},
		{http.MethodGet, "/api/v1/hospitals"},
		{http.MethodGet, "/api/v1/hospitals/directory"},
	} {
		for _, token := range []string{"", "expired"} {
			rec := do(e, r.method, r.path, token, "")
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s token=%q: expected 401, got %d", r.method, r.path, token, rec.Code)
			}
			var body apperr.Body
			decode(t, rec, &body)
			if body.Kind != apperr.KindUnauthenticated {
				t.Errorf("expected kind unauthenticated, got %s", body.Kind)
			}
		}
	}
}

func TestHandler_RegisterAndMe(t *testing.T) {
	e, _ := newTestHandler(t)

	rec := do(e, http.MethodGet, "/api/v1/clinics/me", "alice", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"data":null`) {
		t.Fatalf("expected null data before registration, got %d %s", rec.Code, rec.Body.String())
	}

	// body-supplied status and owner are ignored
	rec = do(e, http.MethodPost, "/api/v1/clinics/register", "alice",
		`{"name":"Hillside","status":"active","owner_id":"mallory"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
	}
	var created single
	decode(t, rec, &created)
	if created.Data.Status != access.StatusPendingApproval || created.Data.OwnerID != "alice" {
		t.Errorf("unexpected registration %+v", created.Data)
	}

	rec = do(e, http.MethodGet, "/api/v1/clinics/me", "alice", "")
	var me single
	decode(t, rec, &me)
	if me.Data == nil || me.Data.ID != created.Data.ID {
		t.Errorf("expected me to return the registered clinic, got %s", rec.Body.String())
	}
}

func TestHandler_PendingTenantCannotEditProfile(t *testing.T) {
	e, _ := newTestHandler(t)
	do(e, http.MethodPost, "/api/v1/clinics/register", "alice", `{"name":"Hillside"}`)

	rec := do(e, http.MethodPatch, "/api/v1/clinics/me", "alice", `{"name":"Renamed"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body apperr.Body
	decode(t, rec, &body)
	if body.Kind != apperr.KindTenantNotActive || body.Details["status"] != string(access.StatusPendingApproval) {
		t.Errorf("unexpected body %+v", body)
	}

	rec = do(e, http.MethodPatch, "/api/v1/hospitals/me", "alice", `{"name":"Renamed"}`)
	decode(t, rec, &body)
	if body.Kind != apperr.KindNoTenant {
		t.Errorf("expected no_tenant for an unregistered hospital, got %s", body.Kind)
	}
}

func TestHandler_OnlyAdminTransitionsStatus(t *testing.T) {
	e, svc := newTestHandler(t)
	rec := do(e, http.MethodPost, "/api/v1/hospitals/register", "bob", `{"name":"St. Mary","bed_capacity":80}`)
	var created single
	decode(t, rec, &created)
	id := created.Data.ID.String()

	for _, path := range []string{"/approve", "/reject"} {
		rec := do(e, http.MethodPost, "/api/v1/hospitals/"+id+path, "bob", `{"reason":"x"}`)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s by owner: expected 403, got %d", path, rec.Code)
		}
	}
	got, _ := svc.Get(context.Background(), access.KindHospital, created.Data.ID)
	if got.Status != access.StatusPendingApproval {
		t.Fatalf("non-admin changed status to %s", got.Status)
	}

	rec = do(e, http.MethodPost, "/api/v1/hospitals/"+id+"/approve", "admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
	}

	rec = do(e, http.MethodPost, "/api/v1/hospitals/"+id+"/approve", "admin", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 approving an active hospital, got %d", rec.Code)
	}

	rec = do(e, http.MethodPost, "/api/v1/hospitals/not-a-uuid/approve", "admin", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestHandler_AdminList(t *testing.T) {
	e, _ := newTestHandler(t)
	do(e, http.MethodPost, "/api/v1/clinics/register", "alice", `{"name":"A"}`)
	do(e, http.MethodPost, "/api/v1/clinics/register", "carol", `{"name":"C"}`)
	do(e, http.MethodPost, "/api/v1/hospitals/register", "bob", `{"name":"H"}`)

	rec := do(e, http.MethodGet, "/api/v1/clinics?status=pending_approval&limit=1", "admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data    []Tenant `json:"data"`
		Count   int      `json:"count"`
		HasMore bool     `json:"has_more"`
	}
	decode(t, rec, &page)
	if page.Count != 2 || len(page.Data) != 1 || !page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}

	rec = do(e, http.MethodGet, "/api/v1/clinics?status=bogus", "admin", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestHandler_DirectoryRequiresActiveClinic(t *testing.T) {
	e, svc := newTestHandler(t)
	ctx := context.Background()

	c, _ := svc.Register(ctx, auth.Principal{ID: "alice"}, access.KindClinic, Profile{Name: "A"})
	h, _ := svc.Register(ctx, auth.Principal{ID: "bob"}, access.KindHospital, Profile{Name: "H"})
	_, _ = svc.Approve(ctx, admin, access.KindHospital, h.ID)

	rec := do(e, http.MethodGet, "/api/v1/hospitals/directory", "alice", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a pending clinic, got %d", rec.Code)
	}

	_, _ = svc.Approve(ctx, admin, access.KindClinic, c.ID)
	rec = do(e, http.MethodGet, "/api/v1/hospitals/directory", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var page struct {
		Data []DirectoryEntry `json:"data"`
	}
	decode(t, rec, &page)
	if len(page.Data) != 1 || page.Data[0].ID != h.ID {
		t.Errorf("unexpected directory %+v", page.Data)
	}
}
