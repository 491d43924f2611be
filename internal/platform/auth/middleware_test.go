package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(clinic string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-456",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ClinicID: clinic,
		Roles:    roles,
	}
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			c := e.NewContext(req, httptest.NewRecorder())

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
				return nil
			})(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims("clinic-a")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		return nil
	})(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("clinic-a"), []byte("another-key"))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		return nil
	})(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RequiresClinic(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(""), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		return nil
	})(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestJWTMiddleware_ClaimsExtraction(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("clinic-abc", RoleClinician, RoleNurse), testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	c := e.NewContext(req, httptest.NewRecorder())

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "user-456" {
			t.Errorf("expected user_id=user-456, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 2 || roles[0] != RoleClinician {
			t.Errorf("expected roles=[clinician nurse], got %v", roles)
		}
		if clinic := ClinicOf(c); clinic != "clinic-abc" {
			t.Errorf("expected clinic-abc, got %s", clinic)
		}
		if clinic, _ := c.Get("clinic_id").(string); clinic != "clinic-abc" {
			t.Errorf("expected clinic_id on echo context, got %s", clinic)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWTMiddleware_TokenQueryParam(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("clinic-q"), testSigningKey)

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws/clinic-q?token="+tokenStr, nil), httptest.NewRecorder())

	called := false
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		called = true
		if ClinicOf(c) != "clinic-q" {
			t.Errorf("expected clinic-q, got %s", ClinicOf(c))
		}
		return nil
	})(c)
	if err != nil || !called {
		t.Fatalf("expected query token to authenticate, err=%v", err)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())
	c.SetPath("/health")

	called := false
	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})(func(c echo.Context) error {
		called = true
		return nil
	})(c)
	if err != nil || !called {
		t.Fatalf("expected skipped path to pass, err=%v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	err := DevAuthMiddleware("demo-clinic")(func(c echo.Context) error {
		ctx := c.Request().Context()
		if uid := UserIDFromContext(ctx); uid != "dev-user" {
			t.Errorf("expected user_id=dev-user, got %s", uid)
		}
		if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected roles=[admin], got %v", roles)
		}
		if clinic := ClinicFromContext(ctx); clinic != "demo-clinic" {
			t.Errorf("expected demo-clinic, got %s", clinic)
		}
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ClinicOverrides(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Clinic-ID", "from-header")
	c := e.NewContext(req, httptest.NewRecorder())
	DevAuthMiddleware("demo")(func(c echo.Context) error {
		if ClinicOf(c) != "from-header" {
			t.Errorf("expected header clinic, got %s", ClinicOf(c))
		}
		return nil
	})(c)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/ws/from-path", nil), httptest.NewRecorder())
	c.SetParamNames("clinic")
	c.SetParamValues("from-path")
	DevAuthMiddleware("demo")(func(c echo.Context) error {
		if ClinicOf(c) != "from-path" {
			t.Errorf("expected path clinic, got %s", ClinicOf(c))
		}
		return nil
	})(c)
}
