package middleware

// identity.go holds the echo context accessors shared by the gate
// middleware, the rate limiter and the handlers.

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/marketplace-api/internal/model"
)

const identityKey = "identity"

func setIdentity(c echo.Context, ident model.Identity) {
	c.Set(identityKey, ident)
}

// CurrentIdentity returns the identity stored by Authenticate.
func CurrentIdentity(c echo.Context) (model.Identity, bool) {
	ident, ok := c.Get(identityKey).(model.Identity)
	return ident, ok
}

// userID returns the authenticated user id as a string, or "anon" when
// the request has not been authenticated.
func userID(c echo.Context) string {
	if ident, ok := CurrentIdentity(c); ok && ident.ID != 0 {
		return strconv.FormatUint(ident.ID, 10)
	}
	return "anon"
}
