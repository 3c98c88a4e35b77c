package predictclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingBackend serves canned responses and records what it received.
type recordingBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

type recordedRequest struct {
	Method      string
	Path        string
	ContentType string
	Auth        string
	Body        map[string]interface{}
}

func newBackend(t *testing.T, handler http.HandlerFunc) (*recordingBackend, *httptest.Server) {
	t.Helper()
	b := &recordingBackend{handler: handler}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		b.mu.Lock()
		b.requests = append(b.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			ContentType: r.Header.Get("Content-Type"),
			Auth:        r.Header.Get("Authorization"),
			Body:        body,
		})
		b.mu.Unlock()
		b.handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *recordingBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func jsonBody(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

func TestFetchSummary_PostsPatientID(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusOK, `{"discharge_summaries":["a"]}`))
	c := New(srv.URL)

	if _, err := c.FetchSummary(context.Background(), "patient-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if b.count() != 1 {
		t.Fatalf("expected exactly 1 request, got %d", b.count())
	}
	req := b.requests[0]
	if req.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", req.Method)
	}
	if req.Path != "/fetchDischarge" {
		t.Errorf("expected /fetchDischarge, got %s", req.Path)
	}
	if req.ContentType != "application/json" {
		t.Errorf("expected application/json, got %s", req.ContentType)
	}
	if len(req.Body) != 1 || req.Body["patient_id"] != "patient-42" {
		t.Errorf("unexpected body: %v", req.Body)
	}
}

func TestFetchSummary_List(t *testing.T) {
	_, srv := newBackend(t, jsonBody(http.StatusOK, `{"discharge_summaries":["a","b"]}`))
	c := New(srv.URL)

	data, err := c.FetchSummary(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.Kind != KindSummaries {
		t.Fatalf("expected summaries kind, got %s", data.Kind)
	}
	if len(data.Summaries) != 2 || data.Summaries[0] != "a" || data.Summaries[1] != "b" {
		t.Errorf("expected [a b], got %v", data.Summaries)
	}
}

func TestFetchSummary_StringIsSuccess(t *testing.T) {
	_, srv := newBackend(t, jsonBody(http.StatusOK, `{"discharge_summaries":"some string"}`))
	c := New(srv.URL)

	data, err := c.FetchSummary(context.Background(), "p1")
	if err != nil {
		t.Fatalf("expected success for string payload, got %v", err)
	}
	if data.Kind != KindMessage {
		t.Fatalf("expected message kind, got %s", data.Kind)
	}
	if data.Message != "some string" {
		t.Errorf("expected %q, got %q", "some string", data.Message)
	}
	if data.Text() != "some string" {
		t.Errorf("Text() = %q", data.Text())
	}
}

func TestFetchSummary_ServerErrorNoRetry(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusInternalServerError, `{"error":"fhir server down"}`))
	c := New(srv.URL)

	_, err := c.FetchSummary(context.Background(), "p1")
	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServerError, got %T (%v)", err, err)
	}
	if serr.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", serr.StatusCode)
	}
	if serr.Message() != "Internal Server Error" {
		t.Errorf("expected status message, got %q", serr.Message())
	}
	if serr.Detail != "fhir server down" {
		t.Errorf("expected detail from body, got %q", serr.Detail)
	}
	if !strings.Contains(err.Error(), "Internal Server Error") {
		t.Errorf("error text should carry the status message: %v", err)
	}
	if b.count() != 1 {
		t.Errorf("expected no retry, got %d requests", b.count())
	}
}

func TestFetchSummary_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url)
	calls := 0
	var got error
	done := make(chan struct{})
	scope := NewScope(context.Background())
	Go(scope, func(ctx context.Context) (SummaryData, error) {
		return c.FetchSummary(ctx, "p1")
	}, func(_ SummaryData, err error) {
		calls++
		got = err
		close(done)
	})
	<-done
	scope.Wait()

	if calls != 1 {
		t.Fatalf("expected continuation once, got %d", calls)
	}
	var terr *TransportError
	if !errors.As(got, &terr) {
		t.Fatalf("expected TransportError, got %T (%v)", got, got)
	}
	if terr.Err == nil || !strings.Contains(got.Error(), terr.Err.Error()) {
		t.Errorf("expected underlying error text in %q", got.Error())
	}
}

func TestFetchSummary_BlankPatientID(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusOK, `{"discharge_summaries":["a"]}`))
	c := New(srv.URL)

	_, err := c.FetchSummary(context.Background(), "   ")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if b.count() != 0 {
		t.Errorf("expected no request, got %d", b.count())
	}
}

func TestFetchSummary_NullAndMissing(t *testing.T) {
	for _, body := range []string{`{"discharge_summaries":null}`, `{}`, `null`, ``} {
		t.Run(body, func(t *testing.T) {
			_, srv := newBackend(t, jsonBody(http.StatusOK, body))
			_, err := New(srv.URL).FetchSummary(context.Background(), "p1")
			var eerr *EmptyResultError
			if !errors.As(err, &eerr) {
				t.Fatalf("expected EmptyResultError, got %T (%v)", err, err)
			}
		})
	}
}

func TestFetchSummary_UnexpectedShape(t *testing.T) {
	cases := map[string]string{
		"number":      `{"discharge_summaries":42}`,
		"object":      `{"discharge_summaries":{"a":1}}`,
		"boolean":     `{"discharge_summaries":true}`,
		"mixed array": `{"discharge_summaries":["a",1]}`,
		"null entry":  `{"discharge_summaries":["a",null]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, srv := newBackend(t, jsonBody(http.StatusOK, body))
			_, err := New(srv.URL).FetchSummary(context.Background(), "p1")
			var serr *ShapeError
			if !errors.As(err, &serr) {
				t.Fatalf("expected ShapeError, got %T (%v)", err, err)
			}
			if name == "null entry" && serr.Got != "null array element" {
				t.Errorf("expected null array element, got %q", serr.Got)
			}
		})
	}
}

func TestRequestPrediction_Success(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusOK, `{"prediction":"flu"}`))
	c := New(srv.URL)

	got, err := c.RequestPrediction(context.Background(), "fever and cough")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "flu" {
		t.Errorf("expected flu, got %q", got)
	}
	req := b.requests[0]
	if req.Path != "/getPrediction" || req.Body["input"] != "fever and cough" {
		t.Errorf("unexpected request: %+v", req)
	}
}

func TestRequestPrediction_EmptyTextIsSent(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusOK, `{"prediction":"NO"}`))
	if _, err := New(srv.URL).RequestPrediction(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.count() != 1 {
		t.Fatalf("expected the empty input to be sent")
	}
	if v, ok := b.requests[0].Body["input"]; !ok || v != "" {
		t.Errorf("expected input to be empty string, got %v", v)
	}
}

func TestRequestPrediction_NullPrediction(t *testing.T) {
	for _, body := range []string{`{"prediction":null}`, `{}`, `null`} {
		t.Run(body, func(t *testing.T) {
			_, srv := newBackend(t, jsonBody(http.StatusOK, body))
			got, err := New(srv.URL).RequestPrediction(context.Background(), "x")
			var eerr *EmptyResultError
			if !errors.As(err, &eerr) {
				t.Fatalf("expected EmptyResultError, got %v (value %q)", err, got)
			}
			if !strings.Contains(err.Error(), "prediction empty") {
				t.Errorf("unexpected message: %v", err)
			}
		})
	}
}

func TestRequestPrediction_ServerError(t *testing.T) {
	_, srv := newBackend(t, jsonBody(http.StatusBadRequest, `{"error":"Invalid input format. Expected a JSON with an 'input' key."}`))
	_, err := New(srv.URL).RequestPrediction(context.Background(), "x")
	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serr.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", serr.StatusCode)
	}
	if !strings.Contains(serr.Error(), "400") && !strings.Contains(serr.Error(), "Bad Request") {
		t.Errorf("expected status in error text: %v", serr)
	}
}

func TestRequestPrediction_ConcurrentNoCrossTalk(t *testing.T) {
	release := make(chan struct{})
	_, srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"prediction":"echo:%s"}`, r.Header.Get("X-Test-Input"))
	})

	// Echo the input back through a header so the handler can answer per request.
	hc := &http.Client{Transport: inputHeaderTransport{base: http.DefaultTransport}}
	c := New(srv.URL, WithHTTPClient(hc))

	ctx := context.Background()
	fa := c.RequestPredictionAsync(ctx, "alpha")
	fb := c.RequestPredictionAsync(ctx, "beta")
	time.Sleep(20 * time.Millisecond)
	close(release)

	a, err := fa.Wait(ctx)
	if err != nil {
		t.Fatalf("alpha: %v", err)
	}
	bv, err := fb.Wait(ctx)
	if err != nil {
		t.Fatalf("beta: %v", err)
	}
	if a != "echo:alpha" || bv != "echo:beta" {
		t.Errorf("cross-talk: alpha=%q beta=%q", a, bv)
	}
}

type inputHeaderTransport struct{ base http.RoundTripper }

func (t inputHeaderTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	raw, _ := io.ReadAll(r.Body)
	var body predictionRequest
	_ = json.Unmarshal(raw, &body)
	clone := r.Clone(r.Context())
	clone.Body = io.NopCloser(strings.NewReader(string(raw)))
	clone.Header.Set("X-Test-Input", body.Input)
	return t.base.RoundTrip(clone)
}

func TestBearerToken(t *testing.T) {
	b, srv := newBackend(t, jsonBody(http.StatusOK, `{"prediction":"YES"}`))
	if _, err := New(srv.URL, WithBearerToken("tok")).RequestPrediction(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.requests[0].Auth != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", b.requests[0].Auth)
	}
}

func TestCoalescing_IdenticalRequestsShareOneCall(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	_, srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		jsonBody(http.StatusOK, `{"prediction":"YES"}`)(w, r)
	})
	c := New(srv.URL, WithCoalescing())

	ctx := context.Background()
	f1 := c.RequestPredictionAsync(ctx, "same")
	f2 := c.RequestPredictionAsync(ctx, "same")
	time.Sleep(50 * time.Millisecond)
	close(release)

	for _, f := range []*Future[string]{f1, f2} {
		v, err := f.Wait(ctx)
		if err != nil || v != "YES" {
			t.Fatalf("expected YES, got %q, %v", v, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Errorf("expected 1 backend hit, got %d", n)
	}
}

func TestNew_DefaultBaseURL(t *testing.T) {
	c := New("")
	if c.BaseURL() != DefaultBaseURL {
		t.Errorf("expected %s, got %s", DefaultBaseURL, c.BaseURL())
	}
	c = New("http://example.test:5001/")
	if c.BaseURL() != "http://example.test:5001" {
		t.Errorf("expected trailing slash trimmed, got %s", c.BaseURL())
	}
}

func TestNew_DefaultClientHasTimeout(t *testing.T) {
	if got := New("").http.Timeout; got != DefaultTimeout {
		t.Errorf("expected default timeout %v, got %v", DefaultTimeout, got)
	}
}

func TestCoalescing_SharedCallKeepsCallerDeadline(t *testing.T) {
	gone := make(chan struct{})
	_, srv := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(gone)
		case <-time.After(5 * time.Second):
		}
	})
	c := New(srv.URL, WithCoalescing(), WithHTTPClient(&http.Client{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.RequestPrediction(ctx, "hung")
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TransportError, got %v", err)
	}

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("shared call kept running past the caller's deadline")
	}
}

func TestSharedContext(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := sharedContext(parent)
	defer cancel()
	cancelParent()
	if ctx.Err() != nil {
		t.Error("shared context must survive the caller's cancellation")
	}
	if _, ok := ctx.Deadline(); !ok {
		t.Error("shared context must have a deadline")
	}
}
