// Package session orchestrates edits for the section an author currently has
// open: it buffers content changes, computes patches against the cached
// approved baseline, persists draft records, drives the remote save and
// conflict-check endpoints, and feeds every result into the conflict state
// store. Remote failures are converted into UI-facing state at this boundary;
// local persistence failures degrade to in-memory editing.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"inkwell/engine/internal/broadcast"
	"inkwell/engine/internal/conflict"
	"inkwell/engine/internal/draftstore"
	"inkwell/engine/internal/logging"
	"inkwell/engine/internal/patch"
	"inkwell/engine/internal/rehydrate"
	"inkwell/engine/internal/remote"

	"go.uber.org/zap"
)

// Edit states of the active section.
const (
	editIdle    = "idle"
	editEditing = "editing"
	editSaving  = "saving"
)

// Status labels exposed to the presentation layer.
const (
	LabelSynced    = "Synced"
	LabelPending   = "Draft pending"
	LabelRecovered = "Review recovered draft"
	LabelConflict  = "Conflict"
)

var (
	ErrNoActiveSection = errors.New("no active section")
	ErrSaveInFlight    = errors.New("save already in flight for this section")
	ErrConflictPending = errors.New("conflict must be resolved before saving")
	ErrRecoveryPending = errors.New("recovered draft awaits confirmation")
	ErrPurgeFailed     = errors.New("logout purge failed")
	ErrNoStagedRebase  = errors.New("no staged rebase to confirm")
)

type sessionStore interface {
	SaveDraft(ctx context.Context, record draftstore.DraftRecord) (draftstore.SaveResult, error)
	RemoveDraft(ctx context.Context, draftKey string) error
	MarkCleared(ctx context.Context, draftKey string, at time.Time) error
	MarkRecentClean(ctx context.Context, draftKey string, at time.Time) error
	ClearAuthorDrafts(ctx context.Context, authorID string) error
}

type documentAPI interface {
	SaveDraft(ctx context.Context, sectionID string, request remote.SaveRequest) (remote.SaveResponse, error)
	CheckConflicts(ctx context.Context, sectionID, draftBaseVersion string) (remote.ConflictCheck, error)
	GetDiff(ctx context.Context, sectionID string) (remote.Diff, error)
	ListConflictLogs(ctx context.Context, sectionID string) ([]remote.ConflictLogEntry, error)
	GetApprovedSection(ctx context.Context, sectionID string) (remote.ApprovedSection, error)
}

type broadcaster interface {
	Publish(ctx context.Context, kind, draftKey, authorID string) error
}

type recordObserver interface {
	Observe(ctx context.Context, record draftstore.DraftRecord) (bool, error)
	ObserveAll(ctx context.Context, records []draftstore.DraftRecord) int
}

// Section identifies and seeds the section being opened for editing.
type Section struct {
	SectionID       string
	Title           string
	Path            string
	BaselineContent string
	BaselineVersion string
}

// SaveOutcome reports a ManualSave or ConfirmRebase result to the caller.
// Remote failures appear here as a retryable message, never as a returned
// error, so the local draft is visibly untouched.
type SaveOutcome struct {
	ConflictState   string
	DraftVersion    string
	PrunedDraftKeys []string
	Annotations     []remote.FormattingAnnotation
	ErrorMessage    string
	Retryable       bool
}

type sectionSession struct {
	section         Section
	baseline        string
	baselineVersion string
	content         string
	patchText       string
	editState       string
	lastEditedAt    time.Time
	lastSavedAt     time.Time
	conflicts       *conflict.Store

	fetchMu sync.Mutex
	cancels []context.CancelFunc
}

func (s *sectionSession) fetchContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	s.fetchMu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.fetchMu.Unlock()
	return ctx, cancel
}

func (s *sectionSession) cancelFetches() {
	s.fetchMu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.fetchMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Controller drives the draft lifecycle for one author editing one document.
type Controller struct {
	store   sessionStore
	api     documentAPI
	channel broadcaster
	gate    *rehydrate.Gate
	monitor recordObserver
	log     *zap.Logger

	authorID     string
	projectSlug  string
	documentSlug string

	mu              sync.Mutex
	active          *sectionSession
	saving          map[string]bool
	announcement    string
	lastError       string
	persistDegraded bool
	quotaExhausted  bool
	prunedBanner    []string
}

// NewController creates a controller. Author identity is required and
// threaded into every call; it is never defaulted.
func NewController(store sessionStore, api documentAPI, channel broadcaster, gate *rehydrate.Gate, monitor recordObserver, log *zap.Logger, projectSlug, documentSlug, authorID string) *Controller {
	return &Controller{
		store:        store,
		api:          api,
		channel:      channel,
		gate:         gate,
		monitor:      monitor,
		log:          log.Named("session"),
		authorID:     authorID,
		projectSlug:  projectSlug,
		documentSlug: documentSlug,
		saving:       make(map[string]bool),
	}
}

// OpenSection makes a section active, cancelling any pending diff or rebase
// fetches for the section being left. An in-flight save for the old section
// keeps running and its result is still persisted.
func (c *Controller) OpenSection(section Section) {
	c.mu.Lock()
	previous := c.active
	c.active = &sectionSession{
		section:         section,
		baseline:        section.BaselineContent,
		baselineVersion: section.BaselineVersion,
		content:         section.BaselineContent,
		editState:       editIdle,
		conflicts:       conflict.NewStore(section.BaselineVersion),
	}
	c.announce(fmt.Sprintf("Editing section %q at version %s", section.Title, section.BaselineVersion))
	c.mu.Unlock()

	if previous != nil {
		previous.cancelFetches()
	}
}

// DraftKey returns the composite key of the active section's draft.
func (c *Controller) DraftKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return draftstore.DraftKey(c.projectSlug, c.documentSlug, c.active.section.Title, c.authorID)
}

// UpdateDraft buffers a content change and recomputes the patch against the
// cached baseline. Nothing is persisted until ManualSave.
func (c *Controller) UpdateDraft(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ErrNoActiveSection
	}
	if c.gate.PendingFor(c.active.section.Path) != nil {
		return ErrRecoveryPending
	}
	c.active.content = content
	c.active.patchText = patch.Create(c.active.baseline, content).Text()
	c.active.editState = editEditing
	c.active.lastEditedAt = time.Now().UTC()
	c.announce(fmt.Sprintf("Draft pending for section %q", c.active.section.Title))
	return nil
}

// ManualSave persists the draft locally, submits it to the document API, and
// classifies the response. A second save for the same section while one is
// in flight is rejected. On a conflict the local content and base version
// are left byte-for-byte untouched.
func (c *Controller) ManualSave(ctx context.Context, summaryNote string) (SaveOutcome, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return SaveOutcome{}, ErrNoActiveSection
	}
	active := c.active
	if c.gate.PendingFor(active.section.Path) != nil {
		c.mu.Unlock()
		return SaveOutcome{}, ErrRecoveryPending
	}
	snapshot := active.conflicts.Snapshot()
	if snapshot.ConflictState == conflict.StateRebaseRequired || snapshot.ConflictState == conflict.StateBlocked {
		c.mu.Unlock()
		return SaveOutcome{}, ErrConflictPending
	}

	key := draftstore.DraftKey(c.projectSlug, c.documentSlug, active.section.Title, c.authorID)
	if c.saving[key] {
		c.mu.Unlock()
		return SaveOutcome{}, ErrSaveInFlight
	}
	c.saving[key] = true
	active.editState = editSaving

	record := draftstore.DraftRecord{
		DraftKey:        key,
		ProjectSlug:     c.projectSlug,
		DocumentSlug:    c.documentSlug,
		SectionTitle:    active.section.Title,
		SectionPath:     active.section.Path,
		AuthorID:        c.authorID,
		BaselineVersion: active.baselineVersion,
		Patch:           active.patchText,
		Status:          draftstore.StatusDraft,
		SummaryNote:     summaryNote,
		LastEditedAt:    active.lastEditedAt,
	}
	baseVersion := active.baselineVersion
	patchText := active.patchText
	submitted := active.content
	sectionID := active.section.SectionID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.saving, key)
		c.mu.Unlock()
	}()

	outcome := SaveOutcome{}
	outcome.PrunedDraftKeys = c.persistRecord(ctx, record)

	response, err := c.api.SaveDraft(ctx, sectionID, remote.SaveRequest{
		DraftBaseVersion: baseVersion,
		Patch:            patchText,
		SummaryNote:      summaryNote,
	})
	if err != nil {
		return c.saveFailed(active, outcome, err), nil
	}

	switch response.ConflictState {
	case conflict.StateClean:
		return c.saveClean(ctx, active, record, submitted, response, outcome)
	case conflict.StateRebaseRequired, conflict.StateBlocked:
		return c.saveConflicted(active, response, outcome)
	default:
		return c.saveFailed(active, outcome, fmt.Errorf("unknown conflict state %q", response.ConflictState)), nil
	}
}

// persistRecord writes the draft locally, best-effort. Storage trouble is a
// warning, not a failure: editing continues in memory.
func (c *Controller) persistRecord(ctx context.Context, record draftstore.DraftRecord) []string {
	result, err := c.store.SaveDraft(ctx, record)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.persistDegraded = true
		c.log.Warn("draft persistence degraded",
			zap.String(logging.FieldDraftKey, record.DraftKey),
			zap.Error(err),
		)
		if errors.Is(err, draftstore.ErrQuotaExhausted) {
			c.quotaExhausted = true
			c.announce("Draft too large for local storage; it will not survive a reload")
			c.publish(ctx, broadcast.EventQuotaExhausted, record.DraftKey)
		} else {
			c.announce("Your draft may not survive a reload: local storage is unavailable")
		}
		return nil
	}
	c.persistDegraded = false
	if c.quotaExhausted {
		c.quotaExhausted = false
		c.publish(ctx, broadcast.EventQuotaCleared, record.DraftKey)
	}
	if len(result.PrunedDraftKeys) > 0 {
		c.prunedBanner = result.PrunedDraftKeys
		c.announce("Older drafts were pruned to stay within storage limits")
		c.log.Info("quota eviction pruned drafts",
			zap.Int(logging.FieldPrunedCount, len(result.PrunedDraftKeys)),
		)
		for _, pruned := range result.PrunedDraftKeys {
			c.publish(ctx, broadcast.EventQuotaExceeded, pruned)
		}
	}
	if c.monitor != nil {
		if _, err := c.monitor.Observe(ctx, result.Record); err != nil {
			c.log.Warn("retention check failed", zap.Error(err))
		}
	}
	return result.PrunedDraftKeys
}

func (c *Controller) saveClean(ctx context.Context, active *sectionSession, record draftstore.DraftRecord, submitted string, response remote.SaveResponse, outcome SaveOutcome) (SaveOutcome, error) {
	now := time.Now().UTC()

	c.mu.Lock()
	active.conflicts.Saved(conflict.SavedPayload{
		DraftID:      response.DraftID,
		DraftVersion: response.DraftVersion,
		SavedAt:      response.SavedAt,
	})
	// The server approved exactly the submitted content; that is the new
	// baseline. Keystrokes typed while the save was on the wire become a
	// fresh draft against it.
	active.baselineVersion = response.DraftVersion
	active.baseline = submitted
	residual := patch.Create(submitted, active.content).Text()
	active.patchText = residual
	if residual == "" {
		active.editState = editIdle
	} else {
		active.editState = editEditing
	}
	active.lastSavedAt = now
	editedAt := active.lastEditedAt
	c.lastError = ""
	if c.active == active {
		if residual == "" {
			c.announce(fmt.Sprintf("Section %q synced at version %s", active.section.Title, response.DraftVersion))
		} else {
			c.announce(fmt.Sprintf("Section %q synced at version %s; newer edits are still pending", active.section.Title, response.DraftVersion))
		}
	}
	c.mu.Unlock()

	// The durable record reflects the new lineage even if the author has
	// already switched sections.
	record.BaselineVersion = response.DraftVersion
	record.Patch = residual
	if residual == "" {
		record.Status = draftstore.StatusSubmitted
	} else {
		record.Status = draftstore.StatusDraft
		record.LastEditedAt = editedAt
	}
	if _, err := c.store.SaveDraft(ctx, record); err != nil {
		c.log.Warn("post-save record update failed", zap.String(logging.FieldDraftKey, record.DraftKey), zap.Error(err))
	}
	if residual == "" {
		if err := c.store.MarkRecentClean(ctx, record.DraftKey, now); err != nil {
			c.log.Warn("recent-clean marker failed", zap.String(logging.FieldDraftKey, record.DraftKey), zap.Error(err))
		}
	}
	c.mu.Lock()
	c.publish(ctx, broadcast.EventUpdated, record.DraftKey)
	c.mu.Unlock()

	outcome.ConflictState = conflict.StateClean
	outcome.DraftVersion = response.DraftVersion
	outcome.Annotations = response.FormattingAnnotations
	return outcome, nil
}

func (c *Controller) saveConflicted(active *sectionSession, response remote.SaveResponse, outcome SaveOutcome) (SaveOutcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := active.conflicts.ConflictDetected(conflict.ConflictPayload{
		State:                 response.ConflictState,
		LatestApprovedVersion: response.LatestApprovedVersion,
		Reason:                response.ConflictReason,
	}); err != nil {
		c.log.Warn("rejected conflict transition", zap.Error(err))
	}
	active.editState = editEditing
	c.announce(fmt.Sprintf("Conflict detected for section %q: %s", active.section.Title, response.ConflictReason))
	c.log.Info("save returned conflict",
		zap.String(logging.FieldSection, active.section.Title),
		zap.String(logging.FieldConflictState, response.ConflictState),
		zap.String(logging.FieldBaseVersion, active.baselineVersion),
		zap.String(logging.FieldDraftVersion, response.LatestApprovedVersion),
	)

	outcome.ConflictState = response.ConflictState
	return outcome, nil
}

func (c *Controller) saveFailed(active *sectionSession, outcome SaveOutcome, err error) SaveOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	active.editState = editEditing
	c.lastError = fmt.Sprintf("Save failed: %v. Your draft is unchanged; retry when ready.", err)
	c.announce(c.lastError)
	c.log.Warn("remote save failed",
		zap.String(logging.FieldSection, active.section.Title),
		zap.Error(err),
	)
	outcome.ErrorMessage = c.lastError
	outcome.Retryable = true
	return outcome
}

// CheckConflicts probes whether the active draft's base version has fallen
// behind the approved lineage, without saving. A stale answer moves the
// section into the conflict flow exactly as a rejected save would.
func (c *Controller) CheckConflicts(ctx context.Context) (remote.ConflictCheck, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return remote.ConflictCheck{}, ErrNoActiveSection
	}
	active := c.active
	baseVersion := active.baselineVersion
	c.mu.Unlock()

	fetchCtx, done := active.fetchContext(ctx)
	defer done()
	check, err := c.api.CheckConflicts(fetchCtx, active.section.SectionID, baseVersion)
	if err != nil {
		return remote.ConflictCheck{}, fmt.Errorf("check conflicts: %w", err)
	}

	if check.ConflictState == conflict.StateRebaseRequired || check.ConflictState == conflict.StateBlocked {
		c.mu.Lock()
		if err := active.conflicts.ConflictDetected(conflict.ConflictPayload{
			State:                 check.ConflictState,
			LatestApprovedVersion: check.LatestApprovedVersion,
			Reason:                check.ConflictReason,
		}); err != nil {
			c.log.Warn("rejected conflict transition", zap.Error(err))
		}
		if c.active == active {
			c.announce(fmt.Sprintf("Conflict detected for section %q: %s", active.section.Title, check.ConflictReason))
		}
		c.mu.Unlock()
	}
	return check, nil
}

// RefreshDiff fetches the display diff between the draft and the latest
// approved content. It never mutates conflict state, and it is cancelled if
// the author switches sections.
func (c *Controller) RefreshDiff(ctx context.Context) (remote.Diff, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return remote.Diff{}, ErrNoActiveSection
	}
	active := c.active
	c.mu.Unlock()

	fetchCtx, done := active.fetchContext(ctx)
	defer done()
	return c.api.GetDiff(fetchCtx, active.section.SectionID)
}

// ConflictLog fetches the server-side conflict events for the active section.
func (c *Controller) ConflictLog(ctx context.Context) ([]remote.ConflictLogEntry, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return nil, ErrNoActiveSection
	}
	active := c.active
	c.mu.Unlock()

	fetchCtx, done := active.fetchContext(ctx)
	defer done()
	return c.api.ListConflictLogs(fetchCtx, active.section.SectionID)
}

// ResolveConflicts fetches the latest approved snapshot and stages a rebased
// draft: the approved content with the author's patch reapplied. The staged
// content is returned for the confirmation dialog; nothing is persisted
// until ConfirmRebase.
func (c *Controller) ResolveConflicts(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return "", ErrNoActiveSection
	}
	active := c.active
	patchText := active.patchText
	c.mu.Unlock()

	fetchCtx, done := active.fetchContext(ctx)
	defer done()
	approved, err := c.api.GetApprovedSection(fetchCtx, active.section.SectionID)
	if err != nil {
		return "", fmt.Errorf("fetch approved snapshot: %w", err)
	}
	active.conflicts.CacheSnapshot(approved.Version, approved.Content)

	parsed, err := patch.Parse(patchText)
	if err != nil {
		return "", err
	}
	proposal, err := patch.Apply(approved.Content, parsed)
	if err != nil {
		return "", fmt.Errorf("rebase draft onto version %s: %w", approved.Version, err)
	}
	if err := active.conflicts.RebaseProposed(proposal); err != nil {
		return "", err
	}
	return proposal, nil
}

// ConfirmRebase commits the staged rebase: the merged content becomes the
// draft, forked from the approved version it was built on, and is saved.
func (c *Controller) ConfirmRebase(ctx context.Context, summaryNote string) (SaveOutcome, error) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return SaveOutcome{}, ErrNoActiveSection
	}
	active := c.active
	snapshot := active.conflicts.Snapshot()
	if snapshot.RebasedDraft == "" {
		c.mu.Unlock()
		return SaveOutcome{}, ErrNoStagedRebase
	}
	approvedVersion := snapshot.LatestApprovedVersion
	approved, ok := snapshot.ServerSnapshots[approvedVersion]
	if !ok {
		c.mu.Unlock()
		return SaveOutcome{}, ErrNoStagedRebase
	}

	active.baseline = approved.Content
	active.baselineVersion = approvedVersion
	active.content = snapshot.RebasedDraft
	active.patchText = patch.Create(approved.Content, snapshot.RebasedDraft).Text()
	active.lastEditedAt = time.Now().UTC()
	key := draftstore.DraftKey(c.projectSlug, c.documentSlug, active.section.Title, c.authorID)

	record := draftstore.DraftRecord{
		DraftKey:        key,
		ProjectSlug:     c.projectSlug,
		DocumentSlug:    c.documentSlug,
		SectionTitle:    active.section.Title,
		SectionPath:     active.section.Path,
		AuthorID:        c.authorID,
		BaselineVersion: approvedVersion,
		Patch:           active.patchText,
		Status:          draftstore.StatusDraft,
		SummaryNote:     summaryNote,
		LastEditedAt:    active.lastEditedAt,
	}
	patchText := active.patchText
	submitted := active.content
	sectionID := active.section.SectionID
	c.mu.Unlock()

	outcome := SaveOutcome{}
	outcome.PrunedDraftKeys = c.persistRecord(ctx, record)

	response, err := c.api.SaveDraft(ctx, sectionID, remote.SaveRequest{
		DraftBaseVersion: approvedVersion,
		Patch:            patchText,
		SummaryNote:      summaryNote,
	})
	if err != nil {
		return c.saveFailed(active, outcome, err), nil
	}
	if response.ConflictState != conflict.StateClean {
		// Approved content moved again while the dialog was open.
		return c.saveConflicted(active, response, outcome)
	}

	if err := active.conflicts.RebaseConfirmed(conflict.RebasedPayload{
		DraftVersion: response.DraftVersion,
		BaseVersion:  approvedVersion,
	}); err != nil {
		c.log.Warn("rejected rebase transition", zap.Error(err))
	}
	return c.saveClean(ctx, active, record, submitted, response, outcome)
}

// RevertToPublished drops the draft and returns the section to its approved
// content.
func (c *Controller) RevertToPublished(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveSection
	}
	active := c.active
	key := draftstore.DraftKey(c.projectSlug, c.documentSlug, active.section.Title, c.authorID)
	c.mu.Unlock()

	if err := c.store.RemoveDraft(ctx, key); err != nil && !errors.Is(err, draftstore.ErrNotFound) {
		return fmt.Errorf("revert to published: %w", err)
	}
	if err := c.store.MarkCleared(ctx, key, time.Now().UTC()); err != nil {
		return fmt.Errorf("revert to published: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	active.content = active.baseline
	active.patchText = ""
	active.editState = editIdle
	c.publish(ctx, broadcast.EventUpdated, key)
	c.announce(fmt.Sprintf("Section %q reverted to the published version", active.section.Title))
	return nil
}

// HandleLogout purges every draft for this author. A failed purge is a
// data-retention risk: it is retried once and then surfaced, never swallowed.
func (c *Controller) HandleLogout(ctx context.Context) error {
	err := c.store.ClearAuthorDrafts(ctx, c.authorID)
	if err != nil {
		c.log.Warn("logout purge failed, retrying", zap.String(logging.FieldAuthorID, c.authorID), zap.Error(err))
		err = c.store.ClearAuthorDrafts(ctx, c.authorID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPurgeFailed, err)
	}

	c.gate.ClearAuthor(c.authorID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
	c.publish(ctx, broadcast.EventUpdated, "")
	c.announce("All local drafts were removed at logout")
	return nil
}

// Rehydrate reconciles stored drafts for this author/document against the
// loaded section paths, returning the recoveries that need confirmation.
func (c *Controller) Rehydrate(ctx context.Context, sectionPaths []string) ([]*rehydrate.RecoveredDraft, error) {
	recoveries, err := c.gate.Run(ctx, c.projectSlug, c.documentSlug, c.authorID, sectionPaths)
	if err != nil {
		return nil, err
	}
	if c.monitor != nil {
		records := make([]draftstore.DraftRecord, 0, len(recoveries))
		for _, recovery := range recoveries {
			records = append(records, recovery.Record())
		}
		c.monitor.ObserveAll(ctx, records)
	}
	if len(recoveries) > 0 {
		c.mu.Lock()
		c.announce("Recovered drafts await your review")
		c.mu.Unlock()
	}
	return recoveries, nil
}

// ConfirmRecoveredDraft re-applies a recovered draft into the live edit
// session for its section.
func (c *Controller) ConfirmRecoveredDraft(sectionPath string) error {
	recovery := c.gate.PendingFor(sectionPath)
	if recovery == nil {
		return fmt.Errorf("no pending recovery for %s", sectionPath)
	}
	record, err := recovery.Confirm()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.section.Path != sectionPath {
		// Confirmed for a section that is not open; the record stays durable
		// and will materialize when the section is opened.
		return nil
	}

	parsed, err := patch.Parse(record.Patch)
	if err != nil {
		return err
	}
	content, err := patch.Apply(c.active.baseline, parsed)
	if err != nil {
		return fmt.Errorf("recovered draft no longer applies to the current baseline: %w", err)
	}
	c.active.content = content
	c.active.patchText = record.Patch
	c.active.editState = editEditing
	c.active.lastEditedAt = record.LastEditedAt
	c.announce(fmt.Sprintf("Recovered draft restored for section %q", c.active.section.Title))
	return nil
}

// DiscardRecoveredDraft drops a recovered draft and suppresses it for good.
func (c *Controller) DiscardRecoveredDraft(ctx context.Context, sectionPath string) error {
	recovery := c.gate.PendingFor(sectionPath)
	if recovery == nil {
		return fmt.Errorf("no pending recovery for %s", sectionPath)
	}
	if err := recovery.Discard(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publish(ctx, broadcast.EventUpdated, recovery.Key)
	c.announce(fmt.Sprintf("Recovered draft for %q discarded", recovery.SectionTitle))
	return nil
}

// publish is fire-and-forget; a broadcast failure never blocks an edit.
// Callers hold c.mu.
func (c *Controller) publish(ctx context.Context, kind, draftKey string) {
	if c.channel == nil {
		return
	}
	if err := c.channel.Publish(ctx, kind, draftKey, c.authorID); err != nil {
		c.log.Warn("broadcast publish failed",
			zap.String(logging.FieldEventKind, kind),
			zap.Error(err),
		)
	}
}

func (c *Controller) announce(message string) {
	c.announcement = message
}
