// Package rehydrate reconciles durable draft records against the document a
// tab has loaded, after a reload or a cross-tab storage event. Records that
// represent genuine unconfirmed edits are queued for explicit human
// confirmation; automatic adoption is blocked so a stale draft can never
// silently overwrite freshly-typed content.
package rehydrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inkwell/engine/internal/draftstore"
	"inkwell/engine/internal/logging"

	"go.uber.org/zap"
)

// Recovery lifecycle states.
const (
	StatusPending   = "pending"
	StatusApplied   = "applied"
	StatusDiscarded = "discarded"
)

type gateStore interface {
	RehydrateDocumentState(ctx context.Context, projectSlug, documentSlug, authorID string) (draftstore.DocumentState, error)
	ClearedAt(ctx context.Context, draftKey string) (time.Time, bool, error)
	RecentCleanAt(ctx context.Context, draftKey string) (time.Time, bool, error)
	RemoveDraft(ctx context.Context, draftKey string) error
	MarkCleared(ctx context.Context, draftKey string, at time.Time) error
}

// RecoveredDraft is one pending recovery awaiting a human decision.
type RecoveredDraft struct {
	Key             string
	SectionTitle    string
	SectionPath     string
	BaselineVersion string
	LastEditedAt    time.Time
	Status          string

	record draftstore.DraftRecord
	gate   *Gate
}

// Record returns the stored record without resolving the recovery.
func (r *RecoveredDraft) Record() draftstore.DraftRecord {
	return r.record
}

// Confirm resolves the recovery as applied and hands the record back so the
// caller re-applies its content into the live edit session.
func (r *RecoveredDraft) Confirm() (draftstore.DraftRecord, error) {
	if r.Status != StatusPending {
		return draftstore.DraftRecord{}, fmt.Errorf("recovery for %s already %s", r.Key, r.Status)
	}
	r.Status = StatusApplied
	r.gate.resolve(r.Key)
	return r.record, nil
}

// Discard removes the stored draft and stamps a fresh cleared marker so the
// same record can never resurface.
func (r *RecoveredDraft) Discard(ctx context.Context) error {
	if r.Status != StatusPending {
		return fmt.Errorf("recovery for %s already %s", r.Key, r.Status)
	}
	if err := r.gate.store.RemoveDraft(ctx, r.Key); err != nil {
		return err
	}
	if err := r.gate.store.MarkCleared(ctx, r.Key, time.Now().UTC()); err != nil {
		return err
	}
	r.Status = StatusDiscarded
	r.gate.resolve(r.Key)
	return nil
}

// Gate owns the transient recovery queue for one tab.
type Gate struct {
	store gateStore
	log   *zap.Logger

	mu      sync.Mutex
	pending map[string]*RecoveredDraft // draft key → recovery
}

// NewGate creates a gate over the shared draft store.
func NewGate(store gateStore, log *zap.Logger) *Gate {
	return &Gate{
		store:   store,
		log:     log.Named("rehydrate"),
		pending: make(map[string]*RecoveredDraft),
	}
}

// Run reconciles stored records for one author/document pair against the
// sections of the loaded document and returns the pending recoveries. A
// record is suppressed when a cleared or recent-clean marker is at least as
// new as its last edit (equal timestamps favor suppression), or when its
// section is not part of the loaded document. An empty sectionPaths means
// the whole document is loaded.
func (g *Gate) Run(ctx context.Context, projectSlug, documentSlug, authorID string, sectionPaths []string) ([]*RecoveredDraft, error) {
	state, err := g.store.RehydrateDocumentState(ctx, projectSlug, documentSlug, authorID)
	if err != nil {
		return nil, fmt.Errorf("rehydrate document state: %w", err)
	}

	loaded := make(map[string]struct{}, len(sectionPaths))
	for _, path := range sectionPaths {
		loaded[path] = struct{}{}
	}

	var recoveries []*RecoveredDraft
	for _, record := range state.Sections {
		if len(loaded) > 0 {
			if _, ok := loaded[record.SectionPath]; !ok {
				continue
			}
		}
		suppressed, err := g.suppressed(ctx, record)
		if err != nil {
			return nil, err
		}
		if suppressed {
			continue
		}

		recovery := &RecoveredDraft{
			Key:             record.DraftKey,
			SectionTitle:    record.SectionTitle,
			SectionPath:     record.SectionPath,
			BaselineVersion: record.BaselineVersion,
			LastEditedAt:    record.LastEditedAt,
			Status:          StatusPending,
			record:          record,
			gate:            g,
		}
		recoveries = append(recoveries, recovery)
	}

	g.mu.Lock()
	for _, recovery := range recoveries {
		g.pending[recovery.Key] = recovery
	}
	g.mu.Unlock()

	if len(recoveries) > 0 {
		g.log.Info("recovered drafts awaiting confirmation",
			zap.String(logging.FieldAuthorID, authorID),
			zap.String(logging.FieldDocument, documentSlug),
			zap.Int(logging.FieldCount, len(recoveries)),
		)
	}
	return recoveries, nil
}

func (g *Gate) suppressed(ctx context.Context, record draftstore.DraftRecord) (bool, error) {
	cleared, ok, err := g.store.ClearedAt(ctx, record.DraftKey)
	if err != nil {
		return false, err
	}
	if ok && !cleared.Before(record.LastEditedAt) {
		return true, nil
	}
	clean, ok, err := g.store.RecentCleanAt(ctx, record.DraftKey)
	if err != nil {
		return false, err
	}
	if ok && !clean.Before(record.LastEditedAt) {
		return true, nil
	}
	return false, nil
}

// Pending returns the open recoveries.
func (g *Gate) Pending() []*RecoveredDraft {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*RecoveredDraft, 0, len(g.pending))
	for _, recovery := range g.pending {
		out = append(out, recovery)
	}
	return out
}

// PendingFor returns the open recovery for a section path, if any.
func (g *Gate) PendingFor(sectionPath string) *RecoveredDraft {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, recovery := range g.pending {
		if recovery.SectionPath == sectionPath {
			return recovery
		}
	}
	return nil
}

// ClearAuthor drops any pending recoveries for an author. Used on logout,
// after the store purge.
func (g *Gate) ClearAuthor(authorID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, recovery := range g.pending {
		if recovery.record.AuthorID == authorID {
			recovery.Status = StatusDiscarded
			delete(g.pending, key)
		}
	}
}

func (g *Gate) resolve(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, key)
}
