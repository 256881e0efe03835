package conflict

import (
	"errors"
	"testing"
	"time"
)

func TestSavedAdvancesLineage(t *testing.T) {
	store := NewStore("6")
	store.Saved(SavedPayload{DraftID: "draft-1", DraftVersion: "7"})

	state := store.Snapshot()
	if state.ConflictState != StateClean {
		t.Errorf("expected clean, got %s", state.ConflictState)
	}
	if state.DraftBaseVersion != "7" || state.DraftVersion != "7" {
		t.Errorf("base version not advanced: %+v", state)
	}
	if len(state.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(state.Events))
	}
	if state.Events[0].ID == "" || state.Events[0].At.IsZero() {
		t.Error("event missing id or timestamp")
	}
}

func TestConflictPreservesBaseVersion(t *testing.T) {
	store := NewStore("7")
	err := store.ConflictDetected(ConflictPayload{
		State:                 StateRebaseRequired,
		LatestApprovedVersion: "8",
		Reason:                "approved content changed since fork",
	})
	if err != nil {
		t.Fatalf("ConflictDetected failed: %v", err)
	}

	state := store.Snapshot()
	if state.ConflictState != StateRebaseRequired {
		t.Errorf("expected rebase_required, got %s", state.ConflictState)
	}
	if state.DraftBaseVersion != "7" {
		t.Errorf("conflict must not advance base version, got %s", state.DraftBaseVersion)
	}
	if state.LatestApprovedVersion != "8" {
		t.Errorf("latest approved version not recorded: %s", state.LatestApprovedVersion)
	}
	if state.ConflictReason == "" {
		t.Error("conflict reason missing")
	}
}

func TestConflictRejectsUnknownState(t *testing.T) {
	store := NewStore("7")
	err := store.ConflictDetected(ConflictPayload{State: "merged"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRebaseLifecycle(t *testing.T) {
	store := NewStore("7")

	// Staging a rebase before any conflict is invalid.
	if err := store.RebaseProposed("merged content"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if err := store.RebaseConfirmed(RebasedPayload{DraftVersion: "9", BaseVersion: "8"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	if err := store.ConflictDetected(ConflictPayload{State: StateRebaseRequired, LatestApprovedVersion: "8"}); err != nil {
		t.Fatalf("ConflictDetected failed: %v", err)
	}
	if err := store.RebaseProposed("approved v8 content plus local edits"); err != nil {
		t.Fatalf("RebaseProposed failed: %v", err)
	}
	if got := store.Snapshot().RebasedDraft; got != "approved v8 content plus local edits" {
		t.Errorf("staged rebase mismatch: %q", got)
	}

	if err := store.RebaseConfirmed(RebasedPayload{DraftVersion: "9", BaseVersion: "8"}); err != nil {
		t.Fatalf("RebaseConfirmed failed: %v", err)
	}
	state := store.Snapshot()
	if state.ConflictState != StateRebased {
		t.Errorf("expected rebased, got %s", state.ConflictState)
	}
	if state.DraftBaseVersion != "8" || state.RebasedDraft != "" || state.ConflictReason != "" {
		t.Errorf("rebase did not settle lineage: %+v", state)
	}
}

func TestEventLogOrdered(t *testing.T) {
	store := NewStore("6")
	store.Saved(SavedPayload{DraftVersion: "7", SavedAt: time.Now().Add(-time.Minute)})
	if err := store.ConflictDetected(ConflictPayload{State: StateBlocked, LatestApprovedVersion: "8", Reason: "section locked"}); err != nil {
		t.Fatalf("ConflictDetected failed: %v", err)
	}

	events := store.Snapshot().Events
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].To != StateClean || events[1].To != StateBlocked {
		t.Errorf("transition order wrong: %s then %s", events[0].To, events[1].To)
	}
	if events[1].At.Before(events[0].At) {
		t.Error("events out of time order")
	}
	if events[1].From != StateClean {
		t.Errorf("second event should record prior state, got %s", events[1].From)
	}
}

func TestSnapshotCacheAndIsolation(t *testing.T) {
	store := NewStore("7")
	store.CacheSnapshot("8", "approved content at v8")

	first := store.Snapshot()
	if first.ServerSnapshots["8"].Content != "approved content at v8" {
		t.Fatalf("snapshot not cached: %+v", first.ServerSnapshots)
	}

	// Mutating a snapshot copy must not leak back into the store.
	first.ServerSnapshots["8"] = ServerSnapshot{Content: "tampered"}
	first.Events = append(first.Events, Event{ID: "bogus"})
	second := store.Snapshot()
	if second.ServerSnapshots["8"].Content != "approved content at v8" {
		t.Error("snapshot copy leaked mutation into store")
	}
	if len(second.Events) != 0 {
		t.Error("event slice copy leaked mutation into store")
	}
}
