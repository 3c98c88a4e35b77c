package discharge

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ehr/discharge-predict/internal/platform/fhir"
)

// ErrNoInlineContent marks a document whose first attachment carries no data.
var ErrNoInlineContent = errors.New("document has no inline content")

// ErrNotDischargeSummary is returned for documents typed with another code.
var ErrNotDischargeSummary = errors.New("document is not a LOINC 18842-5 discharge summary")

// DischargeSummary is the decoded text of one discharge summary document.
type DischargeSummary struct {
	DocumentID  string     `json:"document_id"`
	PatientID   string     `json:"patient_id"`
	Date        *time.Time `json:"date,omitempty"`
	ContentType string     `json:"content_type"`
	Text        string     `json:"text"`
}

// Document maps to the discharge_document table.
type Document struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	FHIRID       string     `db:"fhir_id" json:"fhir_id"`
	PatientID    string     `db:"patient_id" json:"patient_id"`
	Status       string     `db:"status" json:"status"`
	TypeCode     string     `db:"type_code" json:"type_code"`
	TypeDisplay  *string    `db:"type_display" json:"type_display,omitempty"`
	Date         *time.Time `db:"date" json:"date,omitempty"`
	Description  *string    `db:"description" json:"description,omitempty"`
	ContentType  string     `db:"content_type" json:"content_type"`
	ContentData  string     `db:"content_data" json:"content_data"`
	ContentTitle *string    `db:"content_title" json:"content_title,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// ToFHIR renders the row as a DocumentReference.
func (d *Document) ToFHIR() fhir.DocumentReference {
	updated := d.UpdatedAt
	ref := fhir.DocumentReference{
		ResourceType: "DocumentReference",
		ID:           d.FHIRID,
		Meta:         &fhir.Meta{LastUpdated: &updated},
		Status:       d.Status,
		Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
			System:  fhir.LOINCSystem,
			Code:    d.TypeCode,
			Display: strVal(d.TypeDisplay),
		}}},
		Subject:     &fhir.Reference{Reference: fhir.FormatReference("Patient", d.PatientID)},
		Date:        d.Date,
		Description: strVal(d.Description),
		Content: []fhir.DocumentReferenceContent{{
			Attachment: fhir.Attachment{
				ContentType: d.ContentType,
				Data:        d.ContentData,
				Title:       strVal(d.ContentTitle),
			},
		}},
	}
	return ref
}

// Summary decodes the stored attachment into text.
func (d *Document) Summary() (DischargeSummary, error) {
	text, err := decodeText(fhir.Attachment{Data: d.ContentData})
	if err != nil {
		return DischargeSummary{}, fmt.Errorf("document %s: %w", d.FHIRID, err)
	}
	return DischargeSummary{
		DocumentID:  d.FHIRID,
		PatientID:   d.PatientID,
		Date:        d.Date,
		ContentType: d.ContentType,
		Text:        text,
	}, nil
}

// DocumentFromFHIR maps a DocumentReference onto a row. The patient id is
// taken from a "Patient/<id>" subject reference. A typed document must carry
// the LOINC discharge summary code; an untyped one is stored as such.
func DocumentFromFHIR(ref fhir.DocumentReference) (*Document, error) {
	if ref.Subject == nil {
		return nil, fmt.Errorf("subject is required")
	}
	patientID, ok := strings.CutPrefix(ref.Subject.Reference, "Patient/")
	if !ok || patientID == "" {
		return nil, fmt.Errorf("subject must reference a Patient, got %q", ref.Subject.Reference)
	}
	if len(ref.Content) == 0 || ref.Content[0].Attachment.Data == "" {
		return nil, ErrNoInlineContent
	}

	att := ref.Content[0].Attachment
	d := &Document{
		FHIRID:      ref.ID,
		PatientID:   patientID,
		Status:      ref.Status,
		TypeCode:    fhir.LOINCDischargeSummary,
		Date:        ref.Date,
		ContentType: att.ContentType,
		ContentData: strings.TrimSpace(att.Data),
	}
	if d.Status == "" {
		d.Status = "current"
	}
	if d.ContentType == "" {
		d.ContentType = "text/plain"
	}
	if ref.Type != nil && len(ref.Type.Coding) > 0 {
		coding, ok := dischargeCoding(*ref.Type)
		if !ok {
			return nil, ErrNotDischargeSummary
		}
		d.TypeDisplay = strPtr(coding.Display)
	}
	d.Description = strPtr(ref.Description)
	d.ContentTitle = strPtr(att.Title)
	return d, nil
}

func dischargeCoding(cc fhir.CodeableConcept) (fhir.Coding, bool) {
	for _, c := range cc.Coding {
		if c.System == fhir.LOINCSystem && c.Code == fhir.LOINCDischargeSummary {
			return c, true
		}
	}
	return fhir.Coding{}, false
}

func summaryFromReference(ref fhir.DocumentReference, patientID string) (DischargeSummary, error) {
	if len(ref.Content) == 0 || ref.Content[0].Attachment.Data == "" {
		return DischargeSummary{}, ErrNoInlineContent
	}
	att := ref.Content[0].Attachment
	text, err := decodeText(att)
	if err != nil {
		return DischargeSummary{}, fmt.Errorf("DocumentReference/%s: %w", ref.ID, err)
	}
	return DischargeSummary{
		DocumentID:  ref.ID,
		PatientID:   patientID,
		Date:        ref.Date,
		ContentType: att.ContentType,
		Text:        text,
	}, nil
}

func decodeText(att fhir.Attachment) (string, error) {
	data, err := att.DecodeData()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("attachment is not valid UTF-8")
	}
	return string(data), nil
}

// EncodeText base64-encodes plain text for storage as attachment data.
func EncodeText(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
