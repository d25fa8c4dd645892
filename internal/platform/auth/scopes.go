package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// RequireRole returns middleware that passes when the caller holds at least
// one of the given roles. The admin role satisfies every check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, required := range roles {
				for _, has := range userRoles {
					if has == required || has == "admin" {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// RequireScope returns middleware that passes when a granted scope covers the
// required scope. Scopes are "resource:operation" strings, e.g.
// "availability:read" or "appointments:write".
func RequireScope(required string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, scope := range ScopesFromContext(c.Request().Context()) {
				if matchScope(scope, required) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required scope: %s", required))
		}
	}
}

// matchScope reports whether a granted scope covers the required one.
// "*" grants everything, "availability:*" grants every availability
// operation, and "*:read" grants read on every resource.
func matchScope(granted, required string) bool {
	if granted == "*" || granted == required {
		return true
	}

	gParts := strings.SplitN(granted, ":", 2)
	rParts := strings.SplitN(required, ":", 2)
	if len(gParts) != 2 || len(rParts) != 2 {
		return false
	}

	resMatch := gParts[0] == rParts[0] || gParts[0] == "*"
	opMatch := gParts[1] == rParts[1] || gParts[1] == "*"

	return resMatch && opMatch
}
