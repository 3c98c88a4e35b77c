package fhir

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Resource is the base FHIR resource representation.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
	Meta         *Meta  `json:"meta,omitempty"`
}

type Meta struct {
	VersionID   string     `json:"versionId,omitempty"`
	LastUpdated *time.Time `json:"lastUpdated,omitempty"`
	Profile     []string   `json:"profile,omitempty"`
}

type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// HasCoding reports whether any coding matches system and code.
func (c CodeableConcept) HasCoding(system, code string) bool {
	for _, cd := range c.Coding {
		if cd.System == system && cd.Code == code {
			return true
		}
	}
	return false
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Attachment carries inline (base64) or referenced document content.
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	Language    string `json:"language,omitempty"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
	Size        int    `json:"size,omitempty"`
	Hash        string `json:"hash,omitempty"`
	Title       string `json:"title,omitempty"`
}

// DecodeData returns the base64-decoded inline payload.
func (a Attachment) DecodeData() ([]byte, error) {
	if a.Data == "" {
		return nil, fmt.Errorf("attachment has no inline data")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(a.Data))
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}
	return data, nil
}

type DocumentReferenceContent struct {
	Attachment Attachment `json:"attachment"`
	Format     *Coding    `json:"format,omitempty"`
}

// DocumentReference is the subset of the FHIR R4 DocumentReference resource
// needed to read clinical notes.
type DocumentReference struct {
	ResourceType string                     `json:"resourceType"`
	ID           string                     `json:"id,omitempty"`
	Meta         *Meta                      `json:"meta,omitempty"`
	Status       string                     `json:"status,omitempty"`
	Type         *CodeableConcept           `json:"type,omitempty"`
	Subject      *Reference                 `json:"subject,omitempty"`
	Date         *time.Time                 `json:"date,omitempty"`
	Description  string                     `json:"description,omitempty"`
	Content      []DocumentReferenceContent `json:"content"`
}

// LOINC codes used when searching for documents.
const (
	LOINCSystem           = "http://loinc.org"
	LOINCDischargeSummary = "18842-5"
)

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string           `json:"severity"`
	Code        string           `json:"code"`
	Details     *CodeableConcept `json:"details,omitempty"`
	Diagnostics string           `json:"diagnostics,omitempty"`
	Expression  []string         `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

// Diagnostics joins the diagnostics (or details text) of every issue.
func (o *OperationOutcome) Diagnostics() string {
	var parts []string
	for _, issue := range o.Issue {
		switch {
		case issue.Diagnostics != "":
			parts = append(parts, issue.Diagnostics)
		case issue.Details != nil && issue.Details.Text != "":
			parts = append(parts, issue.Details.Text)
		}
	}
	return strings.Join(parts, "; ")
}

// FormatReference builds a relative reference such as "Patient/123".
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
