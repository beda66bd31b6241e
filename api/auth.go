package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// BearerToken rejects requests that do not carry token. EventSource clients
// cannot set headers, so a "token" query parameter is accepted as well. An
// empty token disables the check.
func BearerToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if token == "" {
			return next
		}
		return func(c echo.Context) error {
			got := c.QueryParam("token")
			if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
				scheme, value, ok := strings.Cut(h, " ")
				if !ok || !strings.EqualFold(scheme, "Bearer") {
					return c.String(http.StatusUnauthorized, "invalid authorization header")
				}
				got = value
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				return c.String(http.StatusUnauthorized, "unauthorized")
			}
			return next(c)
		}
	}
}
