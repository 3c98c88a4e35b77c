package discharge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/discharge-predict/internal/platform/db"
	"github.com/ehr/discharge-predict/internal/platform/fhir"
)

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepoPG(pool *pgxpool.Pool) DocumentRepository {
	return &documentRepoPG{pool: pool}
}

const documentCols = `id, fhir_id, patient_id, status, type_code, type_display,
	date, description, content_type, content_data, content_title, created_at, updated_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.FHIRID, &d.PatientID, &d.Status, &d.TypeCode, &d.TypeDisplay,
		&d.Date, &d.Description, &d.ContentType, &d.ContentData, &d.ContentTitle, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

// Create inserts d, replacing any row with the same fhir_id.
func (r *documentRepoPG) Create(ctx context.Context, d *Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.FHIRID == "" {
		d.FHIRID = d.ID.String()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO discharge_document (id, fhir_id, patient_id, status, type_code, type_display,
			date, description, content_type, content_data, content_title)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (fhir_id) DO UPDATE SET
			patient_id = EXCLUDED.patient_id, status = EXCLUDED.status,
			type_code = EXCLUDED.type_code, type_display = EXCLUDED.type_display,
			date = EXCLUDED.date, description = EXCLUDED.description,
			content_type = EXCLUDED.content_type, content_data = EXCLUDED.content_data,
			content_title = EXCLUDED.content_title, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		d.ID, d.FHIRID, d.PatientID, d.Status, d.TypeCode, d.TypeDisplay,
		d.Date, d.Description, d.ContentType, d.ContentData, d.ContentTitle,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert discharge document %s: %w", d.FHIRID, err)
	}
	return nil
}

func (r *documentRepoPG) GetByFHIRID(ctx context.Context, fhirID string) (*Document, error) {
	d, err := scanDocument(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+documentCols+` FROM discharge_document WHERE fhir_id = $1`, fhirID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get discharge document %s: %w", fhirID, err)
	}
	return d, nil
}

func (r *documentRepoPG) ListDocuments(ctx context.Context, patientID string, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+documentCols+` FROM discharge_document
		WHERE patient_id = $1 AND type_code = $2
		ORDER BY date DESC NULLS LAST, created_at DESC LIMIT $3`,
		patientID, fhir.LOINCDischargeSummary, limit)
	if err != nil {
		return nil, fmt.Errorf("list discharge documents: %w", err)
	}
	defer rows.Close()

	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discharge document: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *documentRepoPG) ListByPatient(ctx context.Context, patientID string, limit int) ([]DischargeSummary, error) {
	docs, err := r.ListDocuments(ctx, patientID, limit)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	out := make([]DischargeSummary, 0, len(docs))
	for _, d := range docs {
		s, err := d.Summary()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
