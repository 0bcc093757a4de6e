package middleware

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/authz"
	"github.com/iliyamo/marketplace-api/internal/logger"
	"github.com/iliyamo/marketplace-api/internal/model"
)

// Authenticate resolves the Bearer access token through the gate and
// stores the identity on the context (see CurrentIdentity).  Failures are
// returned as errors for the HTTP error handler to map, so every rejection
// looks the same to the client.
func Authenticate(g *authz.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			ident, err := g.Authenticate(ctx, bearerToken(c))
			if err != nil {
				return err
			}
			setIdentity(c, ident)
			l := logger.From(ctx).With(slog.Uint64("user_id", ident.ID))
			c.SetRequest(c.Request().WithContext(logger.Into(ctx, l)))
			return next(c)
		}
	}
}

// RequireActive rejects deactivated identities with model.ErrForbidden.
// It must run after Authenticate.
func RequireActive(g *authz.Gate) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := CurrentIdentity(c)
			if !ok {
				return fmt.Errorf("middleware.RequireActive: %w", model.ErrUnauthenticated)
			}
			if _, err := g.RequireActive(ident); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// RequireRole admits only identities whose role is one of roles.  It must
// run after Authenticate.
func RequireRole(g *authz.Gate, roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident, ok := CurrentIdentity(c)
			if !ok {
				return fmt.Errorf("middleware.RequireRole: %w", model.ErrUnauthenticated)
			}
			if _, err := g.RequireRole(ident, roles...); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// Chain is the full gate: authenticate, require active, then require one
// of roles (any role when none are given).
func Chain(g *authz.Gate, roles ...model.Role) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{Authenticate(g), RequireActive(g), RequireRole(g, roles...)}
}

// bearerToken returns the token from "Authorization: Bearer <token>" or "".
func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	const prefix = "bearer "
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
