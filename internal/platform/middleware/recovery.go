package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/protolab/protolab/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 that carries the request id, so a
// report from the bench can be matched to the logged stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				rid, _ := c.Get("request_id").(string)
				req := c.Request()
				logger.Error().
					Str("request_id", rid).
					Str("user_id", auth.UserIDFromContext(req.Context())).
					Str("method", req.Method).
					Str("route", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				msg := "internal server error"
				if rid != "" {
					msg = fmt.Sprintf("internal server error (request %s)", rid)
				}
				err = echo.NewHTTPError(http.StatusInternalServerError, msg)
			}()
			return next(c)
		}
	}
}
