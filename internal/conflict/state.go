// Package conflict tracks the version lineage and conflict classification of
// the section currently open for editing. The state is ephemeral, rebuilt
// from server responses, and only mutated through validated transitions:
// every transition is a pure function from previous state plus payload to
// next state, wrapped by a mutex-guarded store that exposes action methods
// and snapshot reads only.
package conflict

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Conflict classifications, as reported by the remote save and
// conflict-check endpoints.
const (
	StateClean          = "clean"
	StateRebaseRequired = "rebase_required"
	StateBlocked        = "blocked"
	StateRebased        = "rebased"
)

var ErrInvalidTransition = errors.New("invalid conflict transition")

// Event is one entry in the ordered transition log.
type Event struct {
	ID     string    `json:"id"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// ServerSnapshot caches approved content at a version referenced by a
// conflict, so a rebase dialog can diff against the exact version that
// caused it.
type ServerSnapshot struct {
	Content    string    `json:"content"`
	CapturedAt time.Time `json:"capturedAt"`
}

// State is one immutable snapshot of the conflict lineage for the active
// section.
type State struct {
	DraftID               string
	DraftVersion          string
	DraftBaseVersion      string
	LatestApprovedVersion string
	ConflictState         string
	ConflictReason        string
	Events                []Event
	RebasedDraft          string
	ServerSnapshots       map[string]ServerSnapshot
}

func newState(baseVersion string) State {
	return State{
		DraftBaseVersion: baseVersion,
		ConflictState:    StateClean,
		ServerSnapshots:  map[string]ServerSnapshot{},
	}
}

func (s State) clone() State {
	next := s
	next.Events = append([]Event(nil), s.Events...)
	next.ServerSnapshots = make(map[string]ServerSnapshot, len(s.ServerSnapshots))
	for version, snapshot := range s.ServerSnapshots {
		next.ServerSnapshots[version] = snapshot
	}
	return next
}

func (s State) withEvent(to, reason string, at time.Time) State {
	s.Events = append(s.Events, Event{
		ID:     uuid.NewString(),
		From:   s.ConflictState,
		To:     to,
		Reason: reason,
		At:     at,
	})
	s.ConflictState = to
	return s
}

// SavedPayload carries a clean save response.
type SavedPayload struct {
	DraftID      string
	DraftVersion string
	SavedAt      time.Time
}

func reduceSaved(prev State, payload SavedPayload) State {
	next := prev.clone().withEvent(StateClean, "", payload.SavedAt)
	next.DraftID = payload.DraftID
	next.DraftVersion = payload.DraftVersion
	next.DraftBaseVersion = payload.DraftVersion
	next.LatestApprovedVersion = payload.DraftVersion
	next.ConflictReason = ""
	next.RebasedDraft = ""
	return next
}

// ConflictPayload carries a rebase_required or blocked response.
type ConflictPayload struct {
	State                 string
	LatestApprovedVersion string
	Reason                string
	DetectedAt            time.Time
}

func reduceConflict(prev State, payload ConflictPayload) State {
	next := prev.clone().withEvent(payload.State, payload.Reason, payload.DetectedAt)
	next.LatestApprovedVersion = payload.LatestApprovedVersion
	next.ConflictReason = payload.Reason
	// DraftBaseVersion deliberately untouched: the local edit is preserved
	// verbatim until the human resolves the conflict.
	return next
}

func reduceRebaseProposed(prev State, content string) State {
	next := prev.clone()
	next.RebasedDraft = content
	return next
}

// RebasedPayload confirms a rebase onto a newer approved version.
type RebasedPayload struct {
	DraftVersion string
	BaseVersion  string
	RebasedAt    time.Time
}

func reduceRebased(prev State, payload RebasedPayload) State {
	next := prev.clone().withEvent(StateRebased, "", payload.RebasedAt)
	next.DraftVersion = payload.DraftVersion
	next.DraftBaseVersion = payload.BaseVersion
	next.LatestApprovedVersion = payload.BaseVersion
	next.ConflictReason = ""
	next.RebasedDraft = ""
	return next
}

func reduceSnapshot(prev State, version, content string, at time.Time) State {
	next := prev.clone()
	next.ServerSnapshots[version] = ServerSnapshot{Content: content, CapturedAt: at}
	return next
}

// Store guards the state of one active section. All mutation goes through
// action methods that validate the transition first.
type Store struct {
	mu    sync.Mutex
	state State
}

// NewStore starts a clean lineage forked from baseVersion.
func NewStore(baseVersion string) *Store {
	return &Store{state: newState(baseVersion)}
}

// Snapshot returns a defensive copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Saved records a clean save response, advancing the base version.
func (s *Store) Saved(payload SavedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload.SavedAt.IsZero() {
		payload.SavedAt = time.Now().UTC()
	}
	s.state = reduceSaved(s.state, payload)
}

// ConflictDetected records a rebase_required or blocked response.
func (s *Store) ConflictDetected(payload ConflictPayload) error {
	if payload.State != StateRebaseRequired && payload.State != StateBlocked {
		return fmt.Errorf("%w: conflict state %q", ErrInvalidTransition, payload.State)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if payload.DetectedAt.IsZero() {
		payload.DetectedAt = time.Now().UTC()
	}
	s.state = reduceConflict(s.state, payload)
	return nil
}

// RebaseProposed stages merged content for the human to confirm. Only valid
// while a rebase is required.
func (s *Store) RebaseProposed(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ConflictState != StateRebaseRequired {
		return fmt.Errorf("%w: rebase proposed in state %q", ErrInvalidTransition, s.state.ConflictState)
	}
	s.state = reduceRebaseProposed(s.state, content)
	return nil
}

// RebaseConfirmed commits a staged rebase, advancing the base version to the
// approved version the merge was built on.
func (s *Store) RebaseConfirmed(payload RebasedPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ConflictState != StateRebaseRequired || s.state.RebasedDraft == "" {
		return fmt.Errorf("%w: no staged rebase to confirm", ErrInvalidTransition)
	}
	if payload.RebasedAt.IsZero() {
		payload.RebasedAt = time.Now().UTC()
	}
	s.state = reduceRebased(s.state, payload)
	return nil
}

// CacheSnapshot stores approved content at a version for later diffing.
func (s *Store) CacheSnapshot(version, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = reduceSnapshot(s.state, version, content, time.Now().UTC())
}
