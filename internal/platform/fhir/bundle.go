package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`
}

// NewSearchBundle creates a searchset Bundle from a list of resources.
func NewSearchBundle(resources []interface{}, total int, selfURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, len(resources))
	for i, r := range resources {
		raw, _ := json.Marshal(r)
		entries[i] = BundleEntry{
			FullURL:  extractFullURL(raw),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		}
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link:         []BundleLink{{Relation: "self", URL: selfURL}},
		Entry:        entries,
	}
}

// Matches returns the raw resources of entries whose search mode is "match"
// (or unset) and whose resourceType equals resourceType. Included resources
// and OperationOutcome entries are skipped.
func (b *Bundle) Matches(resourceType string) []json.RawMessage {
	var out []json.RawMessage
	for _, e := range b.Entry {
		if e.Search != nil && e.Search.Mode != "" && e.Search.Mode != "match" {
			continue
		}
		var head Resource
		if err := json.Unmarshal(e.Resource, &head); err != nil {
			continue
		}
		if head.ResourceType == resourceType {
			out = append(out, e.Resource)
		}
	}
	return out
}

// NextLink returns the URL of the "next" page link, if any.
func (b *Bundle) NextLink() string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

// extractFullURL builds a relative fullUrl from a resource's resourceType and id.
func extractFullURL(raw json.RawMessage) string {
	var head Resource
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	if head.ResourceType != "" && head.ID != "" {
		return fmt.Sprintf("%s/%s", head.ResourceType, head.ID)
	}
	return ""
}
