// Package remote is the client for the document/section API: draft saves,
// conflict checks, display diffs, conflict logs, and approved snapshots.
// Conflict outcomes are data in the response shapes, never errors; only
// transport and server failures surface as errors.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-conflict failure from the document API. Retryable from
// the caller's perspective; the local draft is untouched.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("document api: %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("document api: status %d", e.Status)
}

// SaveRequest is the body of a draft save.
type SaveRequest struct {
	DraftBaseVersion string `json:"draftBaseVersion"`
	Patch            string `json:"patch"`
	SummaryNote      string `json:"summaryNote,omitempty"`
}

// FormattingAnnotation is a pending formatting or style note attached to a
// save by the server-side pipeline.
type FormattingAnnotation struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SaveResponse answers a draft save. ConflictState is one of the conflict
// package's classifications; on rebase_required or blocked the server also
// reports the latest approved version and a reason.
type SaveResponse struct {
	DraftID               string                 `json:"draftId"`
	DraftVersion          string                 `json:"draftVersion"`
	DraftBaseVersion      string                 `json:"draftBaseVersion"`
	ConflictState         string                 `json:"conflictState"`
	ConflictReason        string                 `json:"conflictReason,omitempty"`
	LatestApprovedVersion string                 `json:"latestApprovedVersion,omitempty"`
	SummaryNote           string                 `json:"summaryNote,omitempty"`
	FormattingAnnotations []FormattingAnnotation `json:"formattingAnnotations,omitempty"`
	SavedAt               time.Time              `json:"savedAt"`
	SavedBy               string                 `json:"savedBy"`
}

// ConflictCheck answers a version probe without saving.
type ConflictCheck struct {
	ConflictState         string `json:"conflictState"`
	LatestApprovedVersion string `json:"latestApprovedVersion"`
	ConflictReason        string `json:"conflictReason,omitempty"`
}

// DiffSegment is one display segment of a server-computed diff. Opaque to
// the engine; passed through to the diff viewer.
type DiffSegment struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// Diff is the server-computed diff between a draft and the latest approved
// content.
type Diff struct {
	Segments []DiffSegment `json:"segments"`
}

// ConflictLogEntry is one server-side conflict event for a section.
type ConflictLogEntry struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
	RecordedBy string    `json:"recordedBy"`
}

// ApprovedSection is the authoritative content snapshot used for rebase.
type ApprovedSection struct {
	Content    string    `json:"content"`
	Version    string    `json:"version"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// Client talks to the document/section API on behalf of one author.
type Client struct {
	baseURL    string
	authorID   string
	httpClient *http.Client
}

// NewClient creates a client. The author id is threaded explicitly; the
// engine never defaults an identity internally.
func NewClient(baseURL, authorID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authorID:   authorID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SaveDraft submits a patch for a section. A conflict comes back as a
// SaveResponse with the conflict classification set, not as an error.
func (c *Client) SaveDraft(ctx context.Context, sectionID string, request SaveRequest) (SaveResponse, error) {
	var response SaveResponse
	err := c.do(ctx, http.MethodPost, "/sections/"+sectionID+"/draft", request, &response)
	if err != nil {
		return SaveResponse{}, fmt.Errorf("save draft: %w", err)
	}
	return response, nil
}

// CheckConflicts probes whether a base version has fallen behind.
func (c *Client) CheckConflicts(ctx context.Context, sectionID, draftBaseVersion string) (ConflictCheck, error) {
	var response ConflictCheck
	request := struct {
		DraftBaseVersion string `json:"draftBaseVersion"`
	}{draftBaseVersion}
	err := c.do(ctx, http.MethodPost, "/sections/"+sectionID+"/conflicts/check", request, &response)
	if err != nil {
		return ConflictCheck{}, fmt.Errorf("check conflicts: %w", err)
	}
	return response, nil
}

// GetDiff fetches the display diff for a section.
func (c *Client) GetDiff(ctx context.Context, sectionID string) (Diff, error) {
	var response Diff
	if err := c.do(ctx, http.MethodGet, "/sections/"+sectionID+"/diff", nil, &response); err != nil {
		return Diff{}, fmt.Errorf("get diff: %w", err)
	}
	return response, nil
}

// ListConflictLogs fetches the server-side conflict event log for a section.
func (c *Client) ListConflictLogs(ctx context.Context, sectionID string) ([]ConflictLogEntry, error) {
	var response struct {
		Events []ConflictLogEntry `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/sections/"+sectionID+"/conflicts/log", nil, &response); err != nil {
		return nil, fmt.Errorf("list conflict logs: %w", err)
	}
	return response.Events, nil
}

// GetApprovedSection fetches the latest approved snapshot for rebase.
func (c *Client) GetApprovedSection(ctx context.Context, sectionID string) (ApprovedSection, error) {
	var response ApprovedSection
	if err := c.do(ctx, http.MethodGet, "/sections/"+sectionID+"/approved", nil, &response); err != nil {
		return ApprovedSection{}, fmt.Errorf("get approved section: %w", err)
	}
	return response, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("X-Author-Id", c.authorID)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("call document api: %w", err)
	}
	defer response.Body.Close()

	// 409 carries a conflict-classified body of the normal response shape.
	if (response.StatusCode >= http.StatusOK && response.StatusCode < 300) || response.StatusCode == http.StatusConflict {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	apiErr := &APIError{Status: response.StatusCode}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(response.Body).Decode(&payload); err == nil {
		apiErr.Code = payload.Error.Code
		apiErr.Message = payload.Error.Message
	}
	return apiErr
}
