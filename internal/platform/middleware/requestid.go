// Package middleware holds the ops-server HTTP middleware chain: request
// id propagation, panic recovery, request logging, and API-key auth.
package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// RequestIDHeader carries the request id on both requests and responses.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a request id to every request, preserving one supplied
// by the caller, and echoes it back on the response.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			rid := c.Request().Header.Get(RequestIDHeader)
			if rid == "" {
				rid = uuid.New().String()
			}
			c.Set("request_id", rid)
			c.Response().Header().Set(RequestIDHeader, rid)
			return next(c)
		}
	}
}
