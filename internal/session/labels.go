package session

import (
	"fmt"
	"time"

	"inkwell/engine/internal/conflict"
)

// StatusLabel returns the section status shown in the editor chrome.
func (c *Controller) StatusLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return LabelSynced
	}
	if c.gate.PendingFor(c.active.section.Path) != nil {
		return LabelRecovered
	}
	state := c.active.conflicts.Snapshot().ConflictState
	if state == conflict.StateRebaseRequired || state == conflict.StateBlocked {
		return LabelConflict
	}
	if c.active.patchText != "" || c.active.editState == editEditing || c.active.editState == editSaving {
		return LabelPending
	}
	return LabelSynced
}

// Announcement returns the current accessible live-region string. It changes
// on every state transition.
func (c *Controller) Announcement() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.announcement
}

// RequiresConfirmation reports whether the active section is blocked on a
// recovered-draft decision.
func (c *Controller) RequiresConfirmation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return false
	}
	return c.gate.PendingFor(c.active.section.Path) != nil
}

// LastError returns the inline, dismissible save error, if any.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// DismissError clears the inline save error.
func (c *Controller) DismissError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastError = ""
}

// PrunedBanner returns the draft keys named by the most recent quota
// eviction banner, if one is showing.
func (c *Controller) PrunedBanner() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prunedBanner...)
}

// Content returns the active section's current draft content.
func (c *Controller) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.content
}

// BaseVersion returns the approved version the active draft is forked from.
func (c *Controller) BaseVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.baselineVersion
}

// ConflictSnapshot returns the conflict lineage of the active section.
func (c *Controller) ConflictSnapshot() (conflict.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return conflict.State{}, ErrNoActiveSection
	}
	return c.active.conflicts.Snapshot(), nil
}

// LastUpdatedLabel returns a human-readable "last updated" string for the
// active section.
func (c *Controller) LastUpdatedLabel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	at := c.active.lastEditedAt
	if c.active.lastSavedAt.After(at) {
		at = c.active.lastSavedAt
	}
	if at.IsZero() {
		return "Not edited yet"
	}
	return humanizeSince(time.Since(at))
}

func humanizeSince(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "Updated just now"
	case d < 2*time.Minute:
		return "Updated a minute ago"
	case d < time.Hour:
		return fmt.Sprintf("Updated %d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "Updated an hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("Updated %d hours ago", int(d.Hours()))
	default:
		return fmt.Sprintf("Updated %d days ago", int(d.Hours()/24))
	}
}
