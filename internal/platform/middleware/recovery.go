package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/voicedb/internal/platform/auth"
)

// recoveredBody is the JSON written for a panic outside the command
// pipeline. Command requests never reach it: the pipeline recovers its own
// panics so they end as an audited Failed result.
type recoveredBody struct {
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Recovery turns a handler panic into a logged 500. http.ErrAbortHandler is
// re-raised so net/http can abort the connection as intended.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				rid, _ := c.Get("request_id").(string)
				caller := auth.UserIDFromContext(c.Request().Context())
				if caller == "" {
					caller = "anonymous"
				}
				evt := logger.Error().
					Str("request_id", rid).
					Str("caller_id", caller).
					Str("method", c.Request().Method).
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(p)).
					Bytes("stack", debug.Stack())

				if c.Response().Committed {
					evt.Bool("response_committed", true).Msg("panic recovered after response started")
					return
				}
				evt.Msg("panic recovered")
				err = c.JSON(http.StatusInternalServerError, recoveredBody{
					Message:   "internal server error",
					RequestID: rid,
				})
			}()
			return next(c)
		}
	}
}
