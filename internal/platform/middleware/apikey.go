package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// APIKeyHeader carries the caller's key on scheduler and operator requests.
const APIKeyHeader = "X-API-Key"

// APIKey rejects requests whose key does not match the configured one. A
// bearer Authorization header is accepted as an alternative to the key
// header. An empty configured key disables the check (development mode).
func APIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" {
				return next(c)
			}
			presented := c.Request().Header.Get(APIKeyHeader)
			if presented == "" {
				auth := c.Request().Header.Get(echo.HeaderAuthorization)
				presented = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}
