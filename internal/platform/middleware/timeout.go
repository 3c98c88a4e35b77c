package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout puts a deadline on each request context. The handler runs on
// the request goroutine; when it gives up because the deadline passed, the
// caller gets 504. Handlers that ignore the context finish normally. A
// non-positive timeout disables the deadline.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if timeout <= 0 {
			return next
		}
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(err, context.DeadlineExceeded) &&
				ctx.Err() != nil && !c.Response().Committed {
				return echo.NewHTTPError(http.StatusGatewayTimeout,
					"request processing exceeded the allowed time limit").SetInternal(err)
			}
			return err
		}
	}
}
