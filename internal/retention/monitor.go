// Package retention watches rehydrated and freshly-saved draft records for a
// pending data-retention policy outcome and emits a one-time structured
// warning when the policy resolves to "warn". The warning is advisory, never
// an error.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"inkwell/engine/internal/draftstore"
	"inkwell/engine/internal/logging"

	"go.uber.org/zap"
)

// Policy outcomes as resolved by the (asynchronous, external) determination.
const (
	OutcomeNone    = "none"
	OutcomePending = "pending"
	OutcomeWarn    = "warn"
)

// Policy is the resolved retention policy for one project/document/author.
type Policy struct {
	ID      string
	Outcome string
}

// PolicyResolver answers the retention determination made elsewhere.
type PolicyResolver interface {
	Resolve(ctx context.Context, projectSlug, documentSlug, authorID string) (Policy, error)
}

type warningStore interface {
	SetComplianceWarning(ctx context.Context, draftKey string) error
}

// Monitor deduplicates compliance warnings per record revision. A record
// that already carries the sticky flag is not re-warned until a newer
// revision triggers a fresh escalation.
type Monitor struct {
	resolver PolicyResolver
	store    warningStore
	log      *zap.Logger

	mu     sync.Mutex
	warned map[string]time.Time // draft key → revision last warned for
}

// NewMonitor creates a monitor.
func NewMonitor(resolver PolicyResolver, store warningStore, log *zap.Logger) *Monitor {
	return &Monitor{
		resolver: resolver,
		store:    store,
		log:      log.Named("retention"),
		warned:   make(map[string]time.Time),
	}
}

// Observe runs the policy check for one record and reports whether a
// warning was emitted.
func (m *Monitor) Observe(ctx context.Context, record draftstore.DraftRecord) (bool, error) {
	policy, err := m.resolver.Resolve(ctx, record.ProjectSlug, record.DocumentSlug, record.AuthorID)
	if err != nil {
		return false, fmt.Errorf("resolve retention policy: %w", err)
	}
	if policy.Outcome != OutcomeWarn {
		return false, nil
	}

	revision := record.LastEditedAt
	m.mu.Lock()
	if last, ok := m.warned[record.DraftKey]; ok && !revision.After(last) {
		m.mu.Unlock()
		return false, nil
	}
	if _, ok := m.warned[record.DraftKey]; !ok && record.ComplianceWarning {
		// Flagged in an earlier session; remember the revision so only a
		// newer edit can re-arm.
		m.warned[record.DraftKey] = revision
		m.mu.Unlock()
		return false, nil
	}
	m.warned[record.DraftKey] = revision
	m.mu.Unlock()

	m.log.Warn("retention policy escalation pending",
		zap.String(logging.FieldPolicyID, policy.ID),
		zap.String(logging.FieldAuthorID, record.AuthorID),
		zap.String(logging.FieldDocument, record.DocumentSlug),
		zap.String(logging.FieldSection, record.SectionTitle),
		zap.String(logging.FieldDraftKey, record.DraftKey),
	)

	if err := m.store.SetComplianceWarning(ctx, record.DraftKey); err != nil {
		return true, fmt.Errorf("persist compliance warning: %w", err)
	}
	return true, nil
}

// ObserveAll runs Observe over a rehydration result, continuing past
// per-record failures.
func (m *Monitor) ObserveAll(ctx context.Context, records []draftstore.DraftRecord) int {
	emitted := 0
	for _, record := range records {
		warnedNow, err := m.Observe(ctx, record)
		if err != nil {
			m.log.Warn("retention check failed",
				zap.String(logging.FieldDraftKey, record.DraftKey),
				zap.Error(err),
			)
			continue
		}
		if warnedNow {
			emitted++
		}
	}
	return emitted
}
