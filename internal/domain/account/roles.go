package account

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/docai/escalation/internal/platform/auth"
)

// RoleResolver fills in the registered role for callers whose token carries
// none, so role checks downstream see the account registry. Anonymous
// requests and tokens that already name a role pass through untouched.
func RoleResolver(svc *Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			uid := auth.UserIDFromContext(ctx)
			roles := auth.RolesFromContext(ctx)
			if uid == "" || auth.HasUserRole(roles) {
				return next(c)
			}

			a, err := svc.Get(ctx, uid)
			switch {
			case err == nil:
				resolved := make([]string, 0, len(roles)+1)
				resolved = append(resolved, roles...)
				auth.SetRoles(c, append(resolved, a.Role))
			case !errors.Is(err, ErrNotFound):
				svc.logger.Warn().Err(err).Str("uid", uid).Msg("role lookup failed")
			}
			return next(c)
		}
	}
}
