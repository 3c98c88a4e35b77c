// Package app drives the two operator flows: look up a patient's discharge
// summary and predict on it, or scan a paper summary, OCR it and predict.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/discharge-predict/internal/ocr"
	"github.com/ehr/discharge-predict/internal/predictclient"
)

// ImageFileName is the capture target inside the cache dir.
const ImageFileName = "temp_image.jpg"

// State is what the screens display.
type State struct {
	PatientID   string
	Summary     string
	HasSummary  bool
	SummaryKind predictclient.SummaryKind
	Prediction  string

	ImagePath      string
	RecognizedText string
	HasRecognized  bool
	ScanPrediction string
}

type SessionConfig struct {
	Client     *predictclient.Client
	Recognizer ocr.Recognizer
	Capturer   ocr.Capturer
	Notifier   Notifier
	Logger     zerolog.Logger
	CacheDir   string
}

// Session owns the in-flight calls for one operator. Every action returns
// immediately; results land in State when they arrive, and after Close they
// are dropped.
type Session struct {
	client     *predictclient.Client
	recognizer ocr.Recognizer
	capturer   ocr.Capturer
	notifier   Notifier
	logger     zerolog.Logger
	cacheDir   string
	scope      *predictclient.Scope

	mu    sync.Mutex
	state State
}

func NewSession(ctx context.Context, cfg SessionConfig) *Session {
	n := cfg.Notifier
	if n == nil {
		n = NotifierFunc(func(string) {})
	}
	return &Session{
		client:     cfg.Client,
		recognizer: cfg.Recognizer,
		capturer:   cfg.Capturer,
		notifier:   n,
		logger:     cfg.Logger,
		cacheDir:   cfg.CacheDir,
		scope:      predictclient.NewScope(ctx),
	}
}

// State returns a copy of the current screen state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

// Wait blocks until every started action has finished.
func (s *Session) Wait() { s.scope.Wait() }

// Close cancels in-flight calls and ignores their results.
func (s *Session) Close() { s.scope.Close() }

// FetchSummary looks up the discharge summary for patientID.
func (s *Session) FetchSummary(patientID string) bool {
	if strings.TrimSpace(patientID) == "" {
		s.notifier.Notify("Please enter a valid Patient ID")
		return false
	}
	s.update(func(st *State) { st.PatientID = patientID })

	return predictclient.Go(s.scope,
		func(ctx context.Context) (predictclient.SummaryData, error) {
			return s.client.FetchSummary(ctx, patientID)
		},
		func(data predictclient.SummaryData, err error) {
			if err != nil {
				s.fetchFailed(err)
				return
			}
			if data.Kind == predictclient.KindMessage {
				s.logger.Warn().Str("patient_id", patientID).Str("message", data.Message).
					Msg("received a string instead of an array")
			}
			s.update(func(st *State) {
				st.Summary = data.Text()
				st.HasSummary = true
				st.SummaryKind = data.Kind
				st.Prediction = ""
			})
		})
}

func (s *Session) fetchFailed(err error) {
	var (
		empty     *predictclient.EmptyResultError
		server    *predictclient.ServerError
		transport *predictclient.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled):
	case errors.As(err, &empty):
		s.notifier.Notify("No discharge summary available")
	case errors.As(err, &server):
		s.notifier.Notify("Failed to fetch discharge summary: " + server.Message())
	case errors.As(err, &transport):
		s.notifier.Notify("Unable to reach server: " + transport.Err.Error())
	default:
		s.notifier.Notify("Failed to fetch discharge summary: " + err.Error())
	}
	s.logger.Error().Err(err).Msg("fetch discharge summary")
}

// PredictSummary requests a prediction for the displayed summary.
func (s *Session) PredictSummary() bool {
	st := s.State()
	if !st.HasSummary {
		s.notifier.Notify("No discharge summary available")
		return false
	}
	return predictclient.Go(s.scope,
		func(ctx context.Context) (string, error) {
			return s.client.RequestPrediction(ctx, st.Summary)
		},
		func(label string, err error) {
			if err != nil {
				s.predictionFailed(err)
				return
			}
			s.update(func(st *State) { st.Prediction = label })
		})
}

// predictionFailed reports a failed prediction and whether it was reported.
func (s *Session) predictionFailed(err error) bool {
	var (
		empty     *predictclient.EmptyResultError
		server    *predictclient.ServerError
		transport *predictclient.TransportError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.As(err, &empty):
		s.notifier.Notify("Prediction result is empty")
	case errors.As(err, &server):
		s.notifier.Notify("Failed to get prediction: " + server.Message())
	case errors.As(err, &transport):
		s.notifier.Notify("Unable to reach server: " + transport.Err.Error())
	default:
		s.notifier.Notify("Failed to get prediction: " + err.Error())
	}
	s.logger.Error().Err(err).Msg("request prediction")
	return true
}

// CaptureImage asks capturer (or the session default when nil) for a
// picture at <cache dir>/temp_image.jpg.
func (s *Session) CaptureImage(capturer ocr.Capturer) bool {
	if capturer == nil {
		capturer = s.capturer
	}
	if capturer == nil {
		s.notifier.Notify("Failed to capture image")
		return false
	}
	if err := os.MkdirAll(s.cacheDir, 0o700); err != nil {
		s.logger.Error().Err(err).Str("dir", s.cacheDir).Msg("create cache dir")
		s.notifier.Notify("Unable to create file for image capture")
		return false
	}
	dest := filepath.Join(s.cacheDir, ImageFileName)
	s.update(func(st *State) { st.ImagePath = dest })

	return predictclient.Go(s.scope,
		func(ctx context.Context) (bool, error) {
			return capturer.Capture(ctx, dest)
		},
		func(ok bool, err error) {
			if err != nil {
				s.logger.Error().Err(err).Msg("capture image")
			}
			if err != nil || !ok {
				s.update(func(st *State) { st.ImagePath = "" })
				if !errors.Is(err, context.Canceled) {
					s.notifier.Notify("Failed to capture image")
				}
			}
		})
}

// PerformOCR recognizes the text in the captured image.
func (s *Session) PerformOCR() bool {
	path := s.State().ImagePath
	if path == "" {
		s.notifier.Notify("No image to perform OCR")
		return false
	}
	if s.recognizer == nil {
		s.notifier.Notify("Error recognizing text")
		return false
	}
	return predictclient.Go(s.scope,
		func(ctx context.Context) (string, error) {
			return s.recognizer.Recognize(ctx, path)
		},
		func(text string, err error) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error().Err(err).Str("image", path).Msg("Error recognizing text")
				s.notifier.Notify("Error recognizing text")
				return
			}
			s.update(func(st *State) {
				st.RecognizedText = text
				st.HasRecognized = true
				st.ScanPrediction = ""
			})
		})
}

// PredictRecognized requests a prediction for the recognized text.
func (s *Session) PredictRecognized() bool {
	st := s.State()
	if !st.HasRecognized {
		s.notifier.Notify("No text recognized for prediction")
		return false
	}
	return predictclient.Go(s.scope,
		func(ctx context.Context) (string, error) {
			return s.client.RequestPrediction(ctx, st.RecognizedText)
		},
		func(label string, err error) {
			if err != nil {
				if s.predictionFailed(err) {
					s.notifier.Notify("Prediction failed")
				}
				return
			}
			s.update(func(st *State) { st.ScanPrediction = label })
			s.notifier.Notify(fmt.Sprintf("Prediction: %s", label))
		})
}
