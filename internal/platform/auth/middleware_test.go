package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func authedRequest(t *testing.T, mw echo.MiddlewareFunc, header string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := mw(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	return rec, handler(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: "clinic_north",
		Roles:    []string{"scheduler"},
		Scopes:   []string{"availability:read", "appointments:write"},
	}
	token := signToken(t, claims, testKey)

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUser string
	var gotScopes []string
	handler := mw(func(c echo.Context) error {
		ctx := c.Request().Context()
		gotUser = UserIDFromContext(ctx)
		gotScopes = ScopesFromContext(ctx)
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	if gotUser != "user-1" {
		t.Errorf("user id = %q, want user-1", gotUser)
	}
	if len(gotScopes) != 2 || gotScopes[0] != "availability:read" {
		t.Errorf("scopes = %v", gotScopes)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "clinic_north" {
		t.Errorf("jwt_tenant_id = %q, want clinic_north", tid)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err := authedRequest(t, mw, "")

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_BadScheme(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err := authedRequest(t, mw, "Basic abc123")

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := signToken(t, claims, []byte("some-other-key"))

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err := authedRequest(t, mw, "Bearer "+token)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token := signToken(t, claims, testKey)

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	_, err := authedRequest(t, mw, "Bearer "+token)

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestDevAuthMiddleware_GrantsAllScopes(t *testing.T) {
	mw := DevAuthMiddleware("default")
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotScopes []string
	handler := mw(func(c echo.Context) error {
		gotScopes = ScopesFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})
	if err := handler(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if len(gotScopes) != 1 || gotScopes[0] != "*" {
		t.Errorf("scopes = %v, want [*]", gotScopes)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "default" {
		t.Errorf("jwt_tenant_id = %q, want default", tid)
	}
}
