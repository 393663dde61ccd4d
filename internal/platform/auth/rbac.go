package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireCaller rejects requests without a resolved caller. It guards
// read-only metadata routes; command execution is never guarded here because
// anonymous commands must still reach the audited pipeline.
func RequireCaller() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserIDFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}
