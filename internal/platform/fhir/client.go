package fhir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MediaType is the FHIR JSON content type.
const MediaType = "application/fhir+json"

// ErrUnexpectedResource is returned when a search does not answer with a Bundle.
var ErrUnexpectedResource = errors.New("unexpected resource type")

// ServerError is a non-2xx reply from a FHIR server. Diagnostics comes from
// the OperationOutcome body when the server sent one.
type ServerError struct {
	StatusCode  int
	Diagnostics string
}

func (e *ServerError) Error() string {
	if e.Diagnostics != "" {
		return fmt.Sprintf("fhir server returned %d: %s", e.StatusCode, e.Diagnostics)
	}
	return fmt.Sprintf("fhir server returned %d", e.StatusCode)
}

// Client performs read-only REST searches against a FHIR R4 server.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithBearerToken sends a bearer token with every search.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient creates a client rooted at baseURL (e.g. https://server.fire.ly).
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server root.
func (c *Client) BaseURL() string { return c.baseURL }

// Search runs GET [base]/[resourceType]?params and decodes the searchset Bundle.
func (c *Client) Search(ctx context.Context, resourceType string, params url.Values) (*Bundle, error) {
	u := c.baseURL + "/" + resourceType
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", MediaType)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", resourceType, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &ServerError{StatusCode: resp.StatusCode}
		var oo OperationOutcome
		if json.Unmarshal(body, &oo) == nil && oo.ResourceType == "OperationOutcome" {
			serr.Diagnostics = oo.Diagnostics()
		}
		return nil, serr
	}

	var bundle Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		return nil, fmt.Errorf("decode search bundle: %w", err)
	}
	if bundle.ResourceType != "Bundle" {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResource, bundle.ResourceType)
	}
	return &bundle, nil
}

// SearchDocumentReferences finds DocumentReferences for a patient with the
// given LOINC type code, newest first.
func (c *Client) SearchDocumentReferences(ctx context.Context, patientID, loincCode string, count int) ([]DocumentReference, error) {
	params := url.Values{}
	params.Set("subject", FormatReference("Patient", patientID))
	params.Set("type", LOINCSystem+"|"+loincCode)
	params.Set("_sort", "-date")
	if count > 0 {
		params.Set("_count", fmt.Sprintf("%d", count))
	}

	bundle, err := c.Search(ctx, "DocumentReference", params)
	if err != nil {
		return nil, err
	}

	var docs []DocumentReference
	for _, raw := range bundle.Matches("DocumentReference") {
		var d DocumentReference
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode DocumentReference: %w", err)
		}
		docs = append(docs, d)
		if count > 0 && len(docs) == count {
			break
		}
	}
	return docs, nil
}
