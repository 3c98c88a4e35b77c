// Package predictclient is the client for the discharge prediction backend.
// It issues the two JSON POST calls the backend exposes and normalizes every
// response shape into a tagged value or one of the typed errors in this
// package.
package predictclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	fetchDischargePath = "/fetchDischarge"
	getPredictionPath  = "/getPrediction"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 8 << 20

	// DefaultTimeout bounds each call made with the default http.Client, and
	// any coalesced call whose caller set no deadline.
	DefaultTimeout = 30 * time.Second
)

// DefaultBaseURL is the backend address compiled into the binary. Override
// at build time with:
//
//	go build -ldflags "-X github.com/ehr/discharge-predict/internal/predictclient.DefaultBaseURL=http://10.0.0.5:5001"
var DefaultBaseURL = "http://127.0.0.1:5001"

// Client talks to the prediction backend. It holds no per-call state and is
// safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	token    string
	logger   zerolog.Logger
	coalesce bool
	group    *singleflight.Group
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithBearerToken sends "Authorization: Bearer <token>" on every call.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithLogger sets the logger used for per-call diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCoalescing merges identical in-flight requests into one network call.
// Every caller still gets its own result.
func WithCoalescing() Option {
	return func(c *Client) { c.coalesce = true }
}

// New creates a Client for baseURL. An empty baseURL falls back to
// DefaultBaseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
		group:   &singleflight.Group{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend address the client posts to.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchSummary posts patientID to /fetchDischarge and decodes the
// discharge_summaries union.
func (c *Client) FetchSummary(ctx context.Context, patientID string) (SummaryData, error) {
	if strings.TrimSpace(patientID) == "" {
		return SummaryData{}, &ValidationError{Field: "patient_id", Message: "must not be blank"}
	}

	body, err := c.post(ctx, fetchDischargePath, summaryRequest{PatientID: patientID})
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", fetchDischargePath).Msg("fetch summary failed")
		return SummaryData{}, err
	}
	if body == nil {
		return SummaryData{}, &EmptyResultError{Endpoint: fetchDischargePath, Field: "discharge_summaries"}
	}

	var resp summaryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "body", Got: "non-object JSON"}
	}

	data, err := decodeSummaries(resp.DischargeSummaries)
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", fetchDischargePath).Msg("fetch summary returned no usable data")
		return SummaryData{}, err
	}
	if data.Kind == KindMessage {
		c.logger.Debug().Str("endpoint", fetchDischargePath).Msg("discharge_summaries is a string, not a list")
	}
	return data, nil
}

// RequestPrediction posts text to /getPrediction. Empty text is sent as is.
func (c *Client) RequestPrediction(ctx context.Context, text string) (string, error) {
	body, err := c.post(ctx, getPredictionPath, predictionRequest{Input: text})
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", getPredictionPath).Msg("prediction failed")
		return "", err
	}
	if body == nil {
		return "", &EmptyResultError{Endpoint: getPredictionPath, Field: "prediction"}
	}

	var resp predictionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &ShapeError{Endpoint: getPredictionPath, Field: "prediction", Got: "non-string value"}
	}
	if resp.Prediction == nil {
		return "", &EmptyResultError{Endpoint: getPredictionPath, Field: "prediction"}
	}
	return *resp.Prediction, nil
}

// post sends one JSON request and returns the 2xx body, or nil when the body
// was empty or a JSON null.
func (c *Client) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", path, err)
	}
	if !c.coalesce {
		return c.do(ctx, path, data)
	}

	key := path + "\x00" + string(data)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// The shared call outlives a caller's cancellation but keeps its
		// deadline, or DefaultTimeout when it had none.
		shared, cancel := sharedContext(ctx)
		defer cancel()
		return c.do(shared, path, data)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		body, _ := res.Val.([]byte)
		return body, nil
	case <-ctx.Done():
		return nil, &TransportError{Endpoint: path, Err: ctx.Err()}
	}
}

func sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithTimeout(detached, DefaultTimeout)
}

func (c *Client) do(ctx context.Context, path string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Endpoint: path, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &ServerError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Status:     statusMessage(resp.Status, resp.StatusCode),
		}
		var eb errorResponse
		if json.Unmarshal(body, &eb) == nil {
			serr.Detail = eb.Error
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("endpoint", path).Msg("error response")
		return nil, serr
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return trimmed, nil
}

// statusMessage strips the numeric code from resp.Status ("500 Internal
// Server Error" -> "Internal Server Error").
func statusMessage(status string, code int) string {
	prefix := fmt.Sprintf("%d ", code)
	if strings.HasPrefix(status, prefix) {
		return strings.TrimPrefix(status, prefix)
	}
	if status == "" {
		return http.StatusText(code)
	}
	return status
}
