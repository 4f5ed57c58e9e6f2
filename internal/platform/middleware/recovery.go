package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fl1X12/doctor-side-sub000/internal/platform/auth"
)

// PanicRecorder counts recovered panics. metrics.Collector implements it.
type PanicRecorder interface {
	PanicRecovered(route string)
}

// Recovery turns a handler panic into a 500 that ErrorHandler renders as an
// "unknown" envelope carrying the request id. rec may be nil.
func Recovery(logger zerolog.Logger, rec PanicRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				// net/http uses this to abort a response on purpose.
				if e, ok := r.(error); ok && errors.Is(e, http.ErrAbortHandler) {
					panic(r)
				}

				route := c.Path()
				if route == "" {
					route = "unmatched"
				}
				var stack [4096]byte
				n := runtime.Stack(stack[:], false)
				rid, _ := c.Get("request_id").(string)
				logger.Error().
					Str("request_id", rid).
					Str("method", c.Request().Method).
					Str("route", route).
					Str("user_id", auth.UserIDFromContext(c.Request().Context())).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", stack[:n]).
					Msg("panic recovered")
				if rec != nil {
					rec.PanicRecovered(route)
				}

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal error").
					SetInternal(fmt.Errorf("panic in %s %s: %v", c.Request().Method, route, r))
			}()
			return next(c)
		}
	}
}
