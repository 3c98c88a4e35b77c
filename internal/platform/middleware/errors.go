package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ErrorHandler renders errors as {"error": message}. Internal causes attached
// with SetInternal are logged but never sent to the caller.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = errorMessage(he)
			if he.Internal != nil {
				logger.Debug().Err(he.Internal).
					Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
					Msg("internal error cause")
			}
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, ErrorBody{Error: msg})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func errorMessage(err error) string {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return err.Error()
	}
	switch m := he.Message.(type) {
	case string:
		return m
	case error:
		return m.Error()
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprintf("%v", m)
	}
}
