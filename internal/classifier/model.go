// Package classifier scores free text with a linear model over TF-IDF
// features. Models are exported from a fitted vectorizer and linear
// classifier into the JSON layout described by Model.
package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// Model is a binary linear classifier over TF-IDF features.
type Model struct {
	// Labels[0] is returned for a decision value <= 0, Labels[1] otherwise.
	Labels     [2]string      `json:"labels"`
	Vocabulary map[string]int `json:"vocabulary"`
	IDF        []float64      `json:"idf"`
	Coef       []float64      `json:"coef"`
	Intercept  float64        `json:"intercept"`
	// SublinearTF replaces a raw term count tf with 1 + ln(tf).
	SublinearTF bool `json:"sublinear_tf"`
	// Norm is "l2" (default) or "none".
	Norm       string `json:"norm"`
	NgramRange [2]int `json:"ngram_range"`
}

var ErrEmptyModel = errors.New("model has no features")

// Load reads a JSON model from path.
func Load(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m Model
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks that the vectors line up with the vocabulary.
func (m *Model) Validate() error {
	n := len(m.Coef)
	if n == 0 || len(m.Vocabulary) == 0 {
		return ErrEmptyModel
	}
	if len(m.IDF) != n {
		return fmt.Errorf("idf has %d entries, coef has %d", len(m.IDF), n)
	}
	for term, idx := range m.Vocabulary {
		if idx < 0 || idx >= n {
			return fmt.Errorf("vocabulary term %q has index %d outside [0,%d)", term, idx, n)
		}
	}
	if m.Labels[0] == "" || m.Labels[1] == "" {
		return fmt.Errorf("labels must name both classes")
	}
	switch m.Norm {
	case "", "l2", "none":
	default:
		return fmt.Errorf("unsupported norm %q", m.Norm)
	}
	if m.NgramRange[0] > m.NgramRange[1] {
		return fmt.Errorf("invalid ngram_range %v", m.NgramRange)
	}
	return nil
}

// Vectorize returns the sparse TF-IDF vector for already cleaned text,
// keyed by feature index.
func (m *Model) Vectorize(cleaned string) map[int]float64 {
	lo, hi := m.NgramRange[0], m.NgramRange[1]
	if hi == 0 {
		lo, hi = 1, 1
	}
	counts := make(map[int]float64)
	for _, term := range ngrams(Tokenize(cleaned), lo, hi) {
		if idx, ok := m.Vocabulary[term]; ok {
			counts[idx]++
		}
	}

	var sumSq float64
	for idx, tf := range counts {
		if m.SublinearTF {
			tf = 1 + math.Log(tf)
		}
		w := tf * m.IDF[idx]
		counts[idx] = w
		sumSq += w * w
	}
	if m.Norm != "none" && sumSq > 0 {
		norm := math.Sqrt(sumSq)
		for idx := range counts {
			counts[idx] /= norm
		}
	}
	return counts
}

// Decision returns coef.x + intercept for raw text.
func (m *Model) Decision(text string) float64 {
	score := m.Intercept
	for idx, w := range m.Vectorize(Clean(text)) {
		score += m.Coef[idx] * w
	}
	return score
}

// Predict returns the label for raw text.
func (m *Model) Predict(text string) string {
	if m.Decision(text) > 0 {
		return m.Labels[1]
	}
	return m.Labels[0]
}
