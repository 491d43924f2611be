package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func runTimeout(timeout time.Duration, path string, h echo.HandlerFunc) error {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, path, nil), httptest.NewRecorder())
	return RequestTimeout(timeout)(h)(c)
}

func TestRequestTimeout_Deadline(t *testing.T) {
	tests := []struct {
		name         string
		timeout      time.Duration
		path         string
		wantDeadline bool
	}{
		{"case intake", 30 * time.Second, "/api/v1/cases", true},
		{"audio upload", 30 * time.Second, "/api/v1/visits/v-1/audio", true},
		{"disabled", 0, "/api/v1/cases", false},
		{"subscription", 50 * time.Millisecond, "/ws/clinic-a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := runTimeout(tt.timeout, tt.path, func(c echo.Context) error {
				called = true
				_, ok := c.Request().Context().Deadline()
				if ok != tt.wantDeadline {
					t.Errorf("deadline set = %v, want %v", ok, tt.wantDeadline)
				}
				return c.NoContent(http.StatusAccepted)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !called {
				t.Error("handler was not called")
			}
		})
	}
}

func TestRequestTimeout_Overrun(t *testing.T) {
	err := runTimeout(20*time.Millisecond, "/api/v1/cases", func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_HandlerError(t *testing.T) {
	err := runTimeout(time.Second, "/api/v1/visits/missing", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "visit not found")
	})

	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 to pass through, got %v", err)
	}
}
