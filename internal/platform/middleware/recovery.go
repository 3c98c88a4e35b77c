package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// stackSize bounds the goroutine stack captured for a panic.
const stackSize = 4 << 10

// Recovery turns a handler panic into a 500 and logs it with the request id
// set by RequestID, so RequestID must run first.
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
				buf := make([]byte, stackSize)
				buf = buf[:runtime.Stack(buf, false)]

				logger.Error().
					Str("request_id", c.Response().Header().Get(RequestIDHeader)).
					Str("method", c.Request().Method).
					Str("path", c.Path()).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", buf).
					Msg("handler panicked")

				err = echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}()
			return next(c)
		}
	}
}
