package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext_Defaults(t *testing.T) {
	p := FromContext(newContext("/"))

	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := FromContext(newContext("/?limit=50&offset=10"))

	if p.Limit != 50 {
		t.Errorf("expected limit 50, got %d", p.Limit)
	}
	if p.Offset != 10 {
		t.Errorf("expected offset 10, got %d", p.Offset)
	}
}

func TestFromContext_Clamped(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/?limit=500", MaxLimit, 0},
		{"/?limit=-3&offset=-7", DefaultLimit, 0},
		{"/?limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := FromContext(newContext(tt.target))
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%s: got limit=%d offset=%d, want %d/%d", tt.target, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]int{1, 2}, 5, Params{Limit: 2, Offset: 2})
	if resp.Count != 5 || resp.Limit != 2 || resp.Offset != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected has_more with 5 records and page ending at 4")
	}

	last := NewResponse([]int{5}, 5, Params{Limit: 2, Offset: 4})
	if last.HasMore {
		t.Error("expected no more records on the last page")
	}
}
