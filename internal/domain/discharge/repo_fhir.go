package discharge

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/discharge-predict/internal/platform/fhir"
)

type fhirRepo struct {
	client *fhir.Client
	logger zerolog.Logger
}

// NewFHIRRepo reads discharge summaries from a remote FHIR server. Documents
// whose first attachment has no inline data are skipped.
func NewFHIRRepo(client *fhir.Client, logger zerolog.Logger) SummaryRepository {
	return &fhirRepo{client: client, logger: logger.With().Str("component", "fhir-source").Logger()}
}

func (r *fhirRepo) ListByPatient(ctx context.Context, patientID string, limit int) ([]DischargeSummary, error) {
	refs, err := r.client.SearchDocumentReferences(ctx, patientID, fhir.LOINCDischargeSummary, limit)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.client.BaseURL(), err)
	}

	var out []DischargeSummary
	for _, ref := range refs {
		s, err := summaryFromReference(ref, patientID)
		if errors.Is(err, ErrNoInlineContent) {
			r.logger.Warn().Str("document_id", ref.ID).Msg("skipping document without inline content")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
