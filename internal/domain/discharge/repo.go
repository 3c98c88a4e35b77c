package discharge

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a patient has no discharge summary.
var ErrNotFound = errors.New("discharge summary not found")

// SummaryRepository looks up a patient's discharge summaries, newest first.
// Implementations return ErrNotFound when there are none.
type SummaryRepository interface {
	ListByPatient(ctx context.Context, patientID string, limit int) ([]DischargeSummary, error)
}

// DocumentRepository stores discharge documents locally.
type DocumentRepository interface {
	SummaryRepository
	Create(ctx context.Context, d *Document) error
	GetByFHIRID(ctx context.Context, fhirID string) (*Document, error)
	ListDocuments(ctx context.Context, patientID string, limit int) ([]*Document, error)
}
