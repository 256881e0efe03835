package draftstore

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Draft record lifecycle states.
const (
	StatusDraft     = "draft"
	StatusSubmitted = "submitted"
	StatusDiscarded = "discarded"
)

// DraftRecord is the durable unit of draft persistence: one per
// (project, document, section, author). Identity fields are immutable after
// creation; only the session controller mutates Patch and BaselineVersion.
type DraftRecord struct {
	DraftKey          string    `json:"draftKey"`
	ProjectSlug       string    `json:"projectSlug"`
	DocumentSlug      string    `json:"documentSlug"`
	SectionTitle      string    `json:"sectionTitle"`
	SectionPath       string    `json:"sectionPath"`
	AuthorID          string    `json:"authorId"`
	BaselineVersion   string    `json:"baselineVersion"`
	Patch             string    `json:"patch"`
	Status            string    `json:"status"`
	SummaryNote       string    `json:"summaryNote,omitempty"`
	ComplianceWarning bool      `json:"complianceWarning"`
	LastEditedAt      time.Time `json:"lastEditedAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// SaveResult reports the upserted record plus any records evicted to stay
// under the storage budget.
type SaveResult struct {
	Record          DraftRecord
	PrunedDraftKeys []string
}

// DocumentState is the bulk rehydration answer for one document/author pair.
type DocumentState struct {
	Sections                 []DraftRecord
	UpdatedAt                time.Time
	RehydratedAt             time.Time
	PendingComplianceWarning bool
}

// DraftKey builds the composite identity. Parts are escaped individually so
// the key stays invertible even when a section title contains a slash.
func DraftKey(projectSlug, documentSlug, sectionTitle, authorID string) string {
	parts := []string{projectSlug, documentSlug, sectionTitle, authorID}
	escaped := make([]string, len(parts))
	for i, part := range parts {
		escaped[i] = url.PathEscape(part)
	}
	return strings.Join(escaped, "/")
}

// ParseDraftKey inverts DraftKey.
func ParseDraftKey(key string) (projectSlug, documentSlug, sectionTitle, authorID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 {
		return "", "", "", "", fmt.Errorf("parse draft key %q: want 4 parts, got %d", key, len(parts))
	}
	decoded := make([]string, 4)
	for i, part := range parts {
		decoded[i], err = url.PathUnescape(part)
		if err != nil {
			return "", "", "", "", fmt.Errorf("parse draft key %q: %w", key, err)
		}
	}
	return decoded[0], decoded[1], decoded[2], decoded[3], nil
}
