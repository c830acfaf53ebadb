package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name     string
		ping     error
		wantCode int
		wantBody string
	}{
		{"healthy", nil, http.StatusOK, `"status":"healthy"`},
		{"unhealthy", errors.New("connection refused"), http.StatusServiceUnavailable, `"error":"connection refused"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health/db", nil), rec)

			h := HealthHandler("memory", pingFunc(func(context.Context) error { return tt.ping }))
			if err := h(c); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %s does not contain %s", rec.Body.String(), tt.wantBody)
			}
			if !strings.Contains(rec.Body.String(), `"store":"memory"`) {
				t.Errorf("body %s does not name the store", rec.Body.String())
			}
		})
	}
}
