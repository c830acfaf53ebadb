package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindUnauthenticated, http.StatusUnauthorized},
		{KindNoTenant, http.StatusForbidden},
		{KindTenantNotActive, http.StatusForbidden},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{KindInvalid, http.StatusBadRequest},
		{KindConflict, http.StatusConflict},
		{KindUpstream, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.kind); got != tt.want {
			t.Errorf("Status(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestFromStore(t *testing.T) {
	if err := FromStore(nil, "x"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if k := KindOf(FromStore(fmt.Errorf("scan: %w", ErrNotFound), "patient not found")); k != KindNotFound {
		t.Errorf("expected not_found, got %s", k)
	}
	if k := KindOf(FromStore(ErrConflict, "x")); k != KindConflict {
		t.Errorf("expected conflict, got %s", k)
	}

	err := FromStore(errors.New("connection refused"), "x")
	if KindOf(err) != KindUpstream {
		t.Errorf("expected upstream_failure, got %s", KindOf(err))
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Message != "connection refused" {
		t.Errorf("expected upstream message passed through, got %v", err)
	}
}

func TestUpstream_KeepsClassifiedError(t *testing.T) {
	orig := Forbidden("patient belongs to another clinic")
	if got := Upstream(orig); got != orig {
		t.Errorf("expected classified error to be returned unchanged")
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(zerolog.Nop())

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   Kind
	}{
		{"tenant not active", New(KindTenantNotActive, "clinic is pending approval").WithDetail("status", "pending_approval"), http.StatusForbidden, KindTenantNotActive},
		{"echo http error", echo.NewHTTPError(http.StatusBadRequest, "invalid id"), http.StatusBadRequest, KindInvalid},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, KindUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			e.HTTPErrorHandler(tt.err, c)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var body Body
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, body.Kind)
			}
			if body.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(Forbidden("no")); got != http.StatusForbidden {
		t.Errorf("expected 403, got %d", got)
	}
	if got := StatusOf(echo.NewHTTPError(http.StatusTooManyRequests, "slow down")); got != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", got)
	}
	if got := StatusOf(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", got)
	}
}
