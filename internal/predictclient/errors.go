package predictclient

import (
	"fmt"
	"net/http"
)

// ValidationError is returned when a required input is rejected before any
// request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Detail carries the backend's "error"
// field when the body had one.
type ServerError struct {
	Endpoint   string
	StatusCode int
	Status     string
	Detail     string
}

func (e *ServerError) Error() string {
	msg := e.Status
	if msg == "" {
		msg = fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Endpoint, msg, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Endpoint, msg)
}

// Message is the status text without the endpoint prefix, suitable for
// user-facing notifications.
func (e *ServerError) Message() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// EmptyResultError is a success status whose expected payload field was
// missing or null.
type EmptyResultError struct {
	Endpoint string
	Field    string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("%s: %s empty", e.Endpoint, e.Field)
}

// ShapeError is a success status whose payload field had a JSON type the
// client does not accept.
type ShapeError struct {
	Endpoint string
	Field    string
	Got      string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: unexpected %s for %s", e.Endpoint, e.Got, e.Field)
}
