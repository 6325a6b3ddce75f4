package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// ValidUserRole reports whether role is one an account can be registered as.
func ValidUserRole(role string) bool {
	return role == RolePatient || role == RoleDoctor
}

// RequireRole returns middleware that checks if the user has at least one of the specified roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether granted includes any of required. admin satisfies
// every requirement.
func HasRole(granted []string, required ...string) bool {
	for _, has := range granted {
		if has == RoleAdmin {
			return true
		}
		for _, want := range required {
			if has == want {
				return true
			}
		}
	}
	return false
}

// ActsAs reports whether the caller is uid, or an admin acting for anyone.
func ActsAs(ctx context.Context, uid string) bool {
	if uid != "" && UserIDFromContext(ctx) == uid {
		return true
	}
	return HasRole(RolesFromContext(ctx))
}

// HasUserRole reports whether roles already settle what the caller may do.
func HasUserRole(roles []string) bool {
	for _, r := range roles {
		if r == RoleAdmin || ValidUserRole(r) {
			return true
		}
	}
	return false
}

// ContextWithIdentity returns ctx carrying uid and roles.
func ContextWithIdentity(ctx context.Context, uid string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, uid)
	return context.WithValue(ctx, UserRolesKey, roles)
}

// SetRoles replaces the caller's roles for the rest of the request.
func SetRoles(c echo.Context, roles []string) {
	ctx := context.WithValue(c.Request().Context(), UserRolesKey, roles)
	c.SetRequest(c.Request().WithContext(ctx))
}
