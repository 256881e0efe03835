// Package logging builds the engine's zap loggers and fixes the field names
// used across components so structured events stay queryable.
package logging

import "go.uber.org/zap"

// Standard field names. Use these constants instead of raw strings.
const (
	FieldComponent     = "component"
	FieldDraftKey      = "draft_key"
	FieldAuthorID      = "author_id"
	FieldProject       = "project"
	FieldDocument      = "document"
	FieldSection       = "section"
	FieldSectionPath   = "section_path"
	FieldBaseVersion   = "base_version"
	FieldDraftVersion  = "draft_version"
	FieldConflictState = "conflict_state"
	FieldPolicyID      = "policy_id"
	FieldCount         = "count"
	FieldPrunedCount   = "pruned_count"
	FieldEventKind     = "event_kind"
	FieldError         = "error"
)

// New returns the process logger. Development mode switches to the console
// encoder with debug level.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
