package predictclient

import (
	"bytes"
	"encoding/json"
)

// SummaryKind tags which branch of the discharge_summaries union the backend
// sent.
type SummaryKind int

const (
	// KindSummaries means the backend returned a list of summaries.
	KindSummaries SummaryKind = iota + 1
	// KindMessage means the backend returned a single string. Backends have
	// used this branch both for a lone summary and for error text, so callers
	// decide how to present it.
	KindMessage
)

func (k SummaryKind) String() string {
	switch k {
	case KindSummaries:
		return "summaries"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// SummaryData is the decoded discharge_summaries field.
type SummaryData struct {
	Kind      SummaryKind
	Summaries []string
	Message   string
}

// Text renders the data for display: summaries joined by blank lines, or the
// message as is.
func (d SummaryData) Text() string {
	if d.Kind == KindMessage {
		return d.Message
	}
	var buf bytes.Buffer
	for i, s := range d.Summaries {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(s)
	}
	return buf.String()
}

type summaryRequest struct {
	PatientID string `json:"patient_id"`
}

type summaryResponse struct {
	DischargeSummaries json.RawMessage `json:"discharge_summaries"`
}

type predictionRequest struct {
	Input string `json:"input"`
}

type predictionResponse struct {
	Prediction *string `json:"prediction"`
}

// errorResponse is the body the backend sends with non-2xx statuses.
type errorResponse struct {
	Error string `json:"error"`
}

// decodeSummaries resolves the list-or-string union from the raw field.
func decodeSummaries(raw json.RawMessage) (SummaryData, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return SummaryData{}, &EmptyResultError{Endpoint: fetchDischargePath, Field: "discharge_summaries"}
	}

	switch raw[0] {
	case '[':
		var entries []*string
		if err := json.Unmarshal(raw, &entries); err != nil {
			return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "array element"}
		}
		list := make([]string, len(entries))
		for i, e := range entries {
			if e == nil {
				return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "null array element"}
			}
			list[i] = *e
		}
		return SummaryData{Kind: KindSummaries, Summaries: list}, nil
	case '"':
		var msg string
		if err := json.Unmarshal(raw, &msg); err != nil {
			return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "string"}
		}
		return SummaryData{Kind: KindMessage, Message: msg}, nil
	case '{':
		return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "object"}
	case 't', 'f':
		return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "boolean"}
	default:
		return SummaryData{}, &ShapeError{Endpoint: fetchDischargePath, Field: "discharge_summaries", Got: "number"}
	}
}
