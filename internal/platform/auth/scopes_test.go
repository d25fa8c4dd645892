package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestMatchScope(t *testing.T) {
	cases := []struct {
		granted  string
		required string
		want     bool
	}{
		{"availability:read", "availability:read", true},
		{"availability:read", "availability:write", false},
		{"availability:*", "availability:read", true},
		{"availability:*", "appointments:read", false},
		{"*:read", "appointments:read", true},
		{"*:read", "appointments:write", false},
		{"*", "appointments:write", true},
		{"malformed", "availability:read", false},
	}

	for _, tc := range cases {
		if got := matchScope(tc.granted, tc.required); got != tc.want {
			t.Errorf("matchScope(%q, %q) = %v, want %v", tc.granted, tc.required, got, tc.want)
		}
	}
}

func scopedContext(scopes []string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserScopesKey, scopes)
	req = req.WithContext(ctx)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestRequireScope_Allowed(t *testing.T) {
	c := scopedContext([]string{"availability:read"})
	handler := RequireScope("availability:read")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestRequireScope_Forbidden(t *testing.T) {
	c := scopedContext([]string{"appointments:read"})
	handler := RequireScope("availability:write")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	err := handler(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestRequireRole_AdminAlwaysPasses(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, []string{"admin"})
	req = req.WithContext(ctx)
	c := e.NewContext(req, httptest.NewRecorder())

	handler := RequireRole("scheduler")(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}
