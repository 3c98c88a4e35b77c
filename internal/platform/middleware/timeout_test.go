package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/getPrediction", nil), httptest.NewRecorder())

	called := false
	handler := func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	}
	if err := RequestTimeout(5 * time.Second)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/fetchDischarge", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	err := RequestTimeout(50 * time.Millisecond)(handler)(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_ContextHasDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return nil
	}
	RequestTimeout(time.Second)(handler)(c)
}

func TestRequestTimeout_DisabledWithZero(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline")
		}
		return nil
	}
	RequestTimeout(0)(handler)(c)
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	want := errors.New("handler failed")
	if err := RequestTimeout(time.Second)(func(c echo.Context) error { return want })(c); err != want {
		t.Errorf("expected handler error, got %v", err)
	}
}

func TestRequestTimeout_WrappedDeadlineBecomes504(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/fetchDischarge", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error {
		<-c.Request().Context().Done()
		cause := fmt.Errorf("search fhir: %w", c.Request().Context().Err())
		return echo.NewHTTPError(http.StatusBadGateway, "upstream failed").SetInternal(cause)
	}

	err := RequestTimeout(10 * time.Millisecond)(handler)(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %v", err)
	}
}

func TestRequestTimeout_LateWriteIsTheOnlyResponse(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(zerolog.Nop())
	e.Use(RequestTimeout(10 * time.Millisecond))
	e.GET("/slow", func(c echo.Context) error {
		time.Sleep(50 * time.Millisecond)
		return c.JSON(http.StatusOK, map[string]string{"late": "yes"})
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"late\":\"yes\"}\n" {
		t.Errorf("expected a single JSON document, got %q", got)
	}
}

func TestRequestTimeout_UnrelatedDeadlineErrorPassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	handler := func(c echo.Context) error { return context.DeadlineExceeded }
	if err := RequestTimeout(time.Second)(handler)(c); err != context.DeadlineExceeded {
		t.Errorf("expected the handler's own error, got %v", err)
	}
}
