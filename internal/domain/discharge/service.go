package discharge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/discharge-predict/internal/platform/fhir"
)

type Service struct {
	repo  SummaryRepository
	limit int
}

// NewService returns at most limit summaries per lookup (at least one).
func NewService(repo SummaryRepository, limit int) *Service {
	if limit < 1 {
		limit = 1
	}
	return &Service{repo: repo, limit: limit}
}

// Limit is the number of summaries returned per lookup.
func (s *Service) Limit() int { return s.limit }

// Fetch returns the newest discharge summaries for patientID.
func (s *Service) Fetch(ctx context.Context, patientID string) ([]DischargeSummary, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}
	items, err := s.repo.ListByPatient(ctx, patientID, s.limit)
	if err != nil {
		return nil, err
	}
	if len(items) > s.limit {
		items = items[:s.limit]
	}
	return items, nil
}

// Import stores a DocumentReference in the local document store. It fails
// when the configured source is not a DocumentRepository.
func (s *Service) Import(ctx context.Context, ref fhir.DocumentReference) (*Document, error) {
	docs, ok := s.repo.(DocumentRepository)
	if !ok {
		return nil, fmt.Errorf("summary source does not accept documents")
	}
	d, err := DocumentFromFHIR(ref)
	if err != nil {
		return nil, fmt.Errorf("DocumentReference/%s: %w", ref.ID, err)
	}
	if _, err := d.Summary(); err != nil {
		return nil, err
	}
	if err := docs.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Document reads one stored document by its FHIR id.
func (s *Service) Document(ctx context.Context, fhirID string) (*Document, error) {
	docs, ok := s.repo.(DocumentRepository)
	if !ok {
		return nil, ErrNotFound
	}
	return docs.GetByFHIRID(ctx, fhirID)
}
