package draftstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T, capacity int, byteBudget int64) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), capacity, byteBudget)
	if err != nil {
		t.Fatalf("failed to create draft store: %v", err)
	}
	return store, s
}

func testRecord(section string, editedAt time.Time) DraftRecord {
	return DraftRecord{
		ProjectSlug:     "acme-policies",
		DocumentSlug:    "adr-142",
		SectionTitle:    section,
		SectionPath:     "body/" + section,
		AuthorID:        "author-1",
		BaselineVersion: "6",
		Patch:           "@@ -1,4 +1,9 @@\n+edit ",
		Status:          StatusDraft,
		LastEditedAt:    editedAt,
	}
}

func TestDraftKeyRoundTrip(t *testing.T) {
	key := DraftKey("acme-policies", "adr-142", "Enforcement / Response Codes", "author-1")
	project, document, section, author, err := ParseDraftKey(key)
	if err != nil {
		t.Fatalf("ParseDraftKey failed: %v", err)
	}
	if project != "acme-policies" || document != "adr-142" || author != "author-1" {
		t.Errorf("identity parts mismatch: %s %s %s", project, document, author)
	}
	if section != "Enforcement / Response Codes" {
		t.Errorf("section title mismatch: %q", section)
	}
	// Deterministic: same parts always produce the same key.
	if key != DraftKey("acme-policies", "adr-142", "Enforcement / Response Codes", "author-1") {
		t.Error("draft key is not deterministic")
	}
}

func TestSaveAndGetDraft(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	result, err := store.SaveDraft(ctx, testRecord("Overview", time.Now()))
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if result.Record.DraftKey == "" {
		t.Fatal("expected draft key to be derived")
	}
	if len(result.PrunedDraftKeys) != 0 {
		t.Errorf("unexpected pruning: %v", result.PrunedDraftKeys)
	}

	got, err := store.GetDraft(ctx, result.Record.DraftKey)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if got.Patch != result.Record.Patch || got.BaselineVersion != "6" {
		t.Errorf("record round trip mismatch: %+v", got)
	}
}

func TestSaveSameKeyOverwrites(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	record := testRecord("Overview", time.Now())
	first, err := store.SaveDraft(ctx, record)
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	record.Patch = "@@ -1,4 +1,12 @@\n+second edit "
	if _, err := store.SaveDraft(ctx, record); err != nil {
		t.Fatalf("second SaveDraft failed: %v", err)
	}

	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after overwrite, got %d", len(records))
	}
	if records[0].Patch == first.Record.Patch {
		t.Error("overwrite did not replace patch")
	}
}

func TestEvictionBound(t *testing.T) {
	const capacity = 5
	store, s := setupTestStore(t, capacity, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	var oldestKey string
	for i := 0; i < capacity+1; i++ {
		record := testRecord(fmt.Sprintf("Section %02d", i), base.Add(time.Duration(i)*time.Minute))
		result, err := store.SaveDraft(ctx, record)
		if err != nil {
			t.Fatalf("SaveDraft %d failed: %v", i, err)
		}
		if i == 0 {
			oldestKey = result.Record.DraftKey
		}
		if i < capacity && len(result.PrunedDraftKeys) != 0 {
			t.Errorf("write %d pruned unexpectedly: %v", i, result.PrunedDraftKeys)
		}
		if i == capacity {
			if len(result.PrunedDraftKeys) != 1 {
				t.Fatalf("expected exactly 1 pruned key, got %v", result.PrunedDraftKeys)
			}
			if result.PrunedDraftKeys[0] != oldestKey {
				t.Errorf("pruned %s, want oldest %s", result.PrunedDraftKeys[0], oldestKey)
			}
		}
	}

	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) != capacity {
		t.Errorf("expected store to settle at %d records, got %d", capacity, len(records))
	}
}

func TestEvictionNeverPrunesJustWritten(t *testing.T) {
	store, s := setupTestStore(t, 1, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	old, err := store.SaveDraft(ctx, testRecord("Old", time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	// The new record has the oldest edit time in the store; even so the
	// write itself must survive and the other record is evicted instead.
	fresh, err := store.SaveDraft(ctx, testRecord("Fresh", time.Now().Add(-2*time.Hour)))
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if len(fresh.PrunedDraftKeys) != 1 || fresh.PrunedDraftKeys[0] != old.Record.DraftKey {
		t.Fatalf("expected old record pruned, got %v", fresh.PrunedDraftKeys)
	}
	if _, err := store.GetDraft(ctx, fresh.Record.DraftKey); err != nil {
		t.Errorf("just-written record was evicted: %v", err)
	}
}

func TestByteBudgetEviction(t *testing.T) {
	store, s := setupTestStore(t, 0, 2048)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	bigPatch := make([]byte, 900)
	for i := range bigPatch {
		bigPatch[i] = 'x'
	}
	for i := 0; i < 4; i++ {
		record := testRecord(fmt.Sprintf("Bulk %d", i), base.Add(time.Duration(i)*time.Minute))
		record.Patch = string(bigPatch)
		if _, err := store.SaveDraft(ctx, record); err != nil {
			t.Fatalf("SaveDraft %d failed: %v", i, err)
		}
	}

	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) >= 4 {
		t.Errorf("byte budget did not evict: %d records remain", len(records))
	}
	for _, record := range records {
		if record.SectionTitle == "Bulk 0" {
			t.Error("oldest record survived byte-budget eviction")
		}
	}
}

func TestOversizedRecordRejected(t *testing.T) {
	store, s := setupTestStore(t, 0, 512)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	record := testRecord("Overview", time.Now())
	record.Patch = strings.Repeat("x", 1024)

	_, err := store.SaveDraft(ctx, record)
	if !errors.Is(err, ErrQuotaExhausted) {
		t.Fatalf("expected ErrQuotaExhausted, got %v", err)
	}
	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rejected record must not be stored, got %d records", len(records))
	}
}

func TestRehydrateDocumentState(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	warned := testRecord("Overview", time.Now())
	warned.ComplianceWarning = true
	if _, err := store.SaveDraft(ctx, warned); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	other := testRecord("Tiers", time.Now())
	other.DocumentSlug = "rfc-auth"
	if _, err := store.SaveDraft(ctx, other); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	state, err := store.RehydrateDocumentState(ctx, "acme-policies", "adr-142", "author-1")
	if err != nil {
		t.Fatalf("RehydrateDocumentState failed: %v", err)
	}
	if len(state.Sections) != 1 {
		t.Fatalf("expected 1 section for adr-142, got %d", len(state.Sections))
	}
	if !state.PendingComplianceWarning {
		t.Error("expected pending compliance warning")
	}
	if state.RehydratedAt.IsZero() || state.UpdatedAt.IsZero() {
		t.Error("expected freshness timestamps")
	}
}

func TestClearAuthorDrafts(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	var keys []string
	for _, section := range []string{"Overview", "Tiers", "Enforcement"} {
		result, err := store.SaveDraft(ctx, testRecord(section, time.Now()))
		if err != nil {
			t.Fatalf("SaveDraft failed: %v", err)
		}
		keys = append(keys, result.Record.DraftKey)
	}

	if err := store.ClearAuthorDrafts(ctx, "author-1"); err != nil {
		t.Fatalf("ClearAuthorDrafts failed: %v", err)
	}

	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records after purge, got %d", len(records))
	}
	for _, key := range keys {
		if _, err := store.GetDraft(ctx, key); !errors.Is(err, ErrNotFound) {
			t.Errorf("record %s survived purge", key)
		}
		if _, ok, err := store.ClearedAt(ctx, key); err != nil || !ok {
			t.Errorf("expected cleared marker for %s (ok=%v err=%v)", key, ok, err)
		}
	}
}

func TestRemoveDraft(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	result, err := store.SaveDraft(ctx, testRecord("Overview", time.Now()))
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	if err := store.RemoveDraft(ctx, result.Record.DraftKey); err != nil {
		t.Fatalf("RemoveDraft failed: %v", err)
	}
	if _, err := store.GetDraft(ctx, result.Record.DraftKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	records, err := store.ListDrafts(ctx, "author-1")
	if err != nil {
		t.Fatalf("ListDrafts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("author index still lists removed draft")
	}
}

func TestMarkerRoundTrips(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	key := DraftKey("acme-policies", "adr-142", "Overview", "author-1")

	if _, ok, err := store.ClearedAt(ctx, key); err != nil || ok {
		t.Fatalf("expected no cleared marker yet (ok=%v err=%v)", ok, err)
	}

	stamp := time.Now().UTC().Truncate(time.Microsecond)
	if err := store.MarkCleared(ctx, key, stamp); err != nil {
		t.Fatalf("MarkCleared failed: %v", err)
	}
	at, ok, err := store.ClearedAt(ctx, key)
	if err != nil || !ok {
		t.Fatalf("ClearedAt failed (ok=%v err=%v)", ok, err)
	}
	if !at.Equal(stamp) {
		t.Errorf("cleared marker mismatch: got %v want %v", at, stamp)
	}

	if err := store.MarkRecentClean(ctx, key, stamp); err != nil {
		t.Fatalf("MarkRecentClean failed: %v", err)
	}
	if _, ok, err := store.RecentCleanAt(ctx, key); err != nil || !ok {
		t.Errorf("RecentCleanAt failed (ok=%v err=%v)", ok, err)
	}
}

func TestSetComplianceWarningSticky(t *testing.T) {
	store, s := setupTestStore(t, 0, 0)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	result, err := store.SaveDraft(ctx, testRecord("Overview", time.Now()))
	if err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.SetComplianceWarning(ctx, result.Record.DraftKey); err != nil {
			t.Fatalf("SetComplianceWarning failed: %v", err)
		}
	}
	got, err := store.GetDraft(ctx, result.Record.DraftKey)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if !got.ComplianceWarning {
		t.Error("expected sticky compliance warning")
	}
	if !got.LastEditedAt.Equal(result.Record.LastEditedAt) {
		t.Error("compliance flag must not disturb edit timestamp")
	}
}
