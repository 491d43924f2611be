package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		target     string
		wantLimit  int
		wantOffset int
	}{
		{"/", DefaultLimit, 0},
		{"/?limit=50&offset=10", 50, 10},
		{"/?limit=500", MaxLimit, 0},
		{"/?limit=-3&offset=-7", DefaultLimit, 0},
		{"/?limit=abc", DefaultLimit, 0},
	}
	for _, tt := range tests {
		p := paramsFor(t, tt.target)
		if p.Limit != tt.wantLimit || p.Offset != tt.wantOffset {
			t.Errorf("%s: got limit=%d offset=%d, want %d/%d", tt.target, p.Limit, p.Offset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestSQL(t *testing.T) {
	p := Params{Limit: 20, Offset: 40}
	if got := p.SQL(); got != "LIMIT 20 OFFSET 40" {
		t.Errorf("expected 'LIMIT 20 OFFSET 40', got %q", got)
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 50, 20, 0)
	if resp.Total != 50 || !resp.HasMore {
		t.Errorf("unexpected response %+v", resp)
	}
	resp = NewResponse([]string{}, 10, 20, 0)
	if resp.HasMore {
		t.Error("expected HasMore false when all results fit")
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		p    Params
		want []int
	}{
		{Params{Limit: 2, Offset: 0}, []int{1, 2}},
		{Params{Limit: 2, Offset: 4}, []int{5}},
		{Params{Limit: 2, Offset: 9}, []int{}},
		{Params{Limit: 0, Offset: 1}, []int{2, 3, 4, 5}},
	}
	for _, tt := range tests {
		got := Page(items, tt.p)
		if len(got) != len(tt.want) {
			t.Fatalf("Page(%+v) = %v, want %v", tt.p, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Page(%+v) = %v, want %v", tt.p, got, tt.want)
			}
		}
	}
}
