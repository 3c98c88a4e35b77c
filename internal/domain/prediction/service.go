package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ehr/discharge-predict/internal/classifier"
)

// ErrNoModel is returned when no classifier has been loaded.
var ErrNoModel = errors.New("classifier model not loaded")

// Service labels free text with the current classifier model. The model can
// be swapped while requests are in flight.
type Service struct {
	model atomic.Pointer[classifier.Model]
}

func NewService(m *classifier.Model) *Service {
	s := &Service{}
	if m != nil {
		s.model.Store(m)
	}
	return s
}

// Swap replaces the model after validating it.
func (s *Service) Swap(m *classifier.Model) error {
	if m == nil {
		return ErrNoModel
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("validate model: %w", err)
	}
	s.model.Store(m)
	return nil
}

// Reload loads the model at path and swaps it in.
func (s *Service) Reload(path string) error {
	m, err := classifier.Load(path)
	if err != nil {
		return err
	}
	return s.Swap(m)
}

// Predict cleans text and returns the model's label for it.
func (s *Service) Predict(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m := s.model.Load()
	if m == nil {
		return "", ErrNoModel
	}
	return m.Predict(text), nil
}
