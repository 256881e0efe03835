// Package draftstore provides the durable per-section draft record store
// shared by every open tab of the editor. Records live in Redis keyed by the
// composite draft key, with an author index, an eviction index ordered by
// last edit time, and two marker namespaces used for stale-recovery
// suppression.
package draftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound       = errors.New("draft not found")
	ErrQuotaExhausted = errors.New("draft storage quota exhausted")
)

const (
	recordPrefix  = "draft:"
	clearedPrefix = "cleared:"
	cleanPrefix   = "clean:"
	authorPrefix  = "drafts:author:"
	editedIndex   = "drafts:edited"
	sizeIndex     = "drafts:size"
	bytesTotal    = "drafts:bytes"
)

// RedisStore implements draft record storage using Redis.
type RedisStore struct {
	client     *redis.Client
	capacity   int
	byteBudget int64
}

// NewRedisStore creates a Redis-backed draft store. A capacity or byte
// budget of zero disables that bound.
func NewRedisStore(redisURL string, capacity int, byteBudget int64) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, capacity: capacity, byteBudget: byteBudget}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, capacity int, byteBudget int64) *RedisStore {
	return &RedisStore{client: client, capacity: capacity, byteBudget: byteBudget}
}

func recordKey(draftKey string) string  { return recordPrefix + draftKey }
func clearedKey(draftKey string) string { return clearedPrefix + draftKey }
func cleanKey(draftKey string) string   { return cleanPrefix + draftKey }
func authorKey(authorID string) string  { return authorPrefix + authorID }

// SaveDraft upserts a record under its draft key (last writer wins) and then
// enforces the storage budget, evicting the least-recently-edited records
// other than the one just written. Evicted keys are returned so callers can
// announce the pruning. A record that alone exceeds the byte budget is
// rejected with ErrQuotaExhausted: no amount of eviction could make it fit.
func (s *RedisStore) SaveDraft(ctx context.Context, record DraftRecord) (SaveResult, error) {
	now := time.Now().UTC()
	if record.DraftKey == "" {
		record.DraftKey = DraftKey(record.ProjectSlug, record.DocumentSlug, record.SectionTitle, record.AuthorID)
	}
	if record.Status == "" {
		record.Status = StatusDraft
	}
	if record.LastEditedAt.IsZero() {
		record.LastEditedAt = now
	}
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return SaveResult{}, fmt.Errorf("marshal draft record: %w", err)
	}
	size := int64(len(payload))
	if s.byteBudget > 0 && size > s.byteBudget {
		return SaveResult{}, fmt.Errorf("save draft record: %w", ErrQuotaExhausted)
	}

	prevSize, err := s.client.HGet(ctx, sizeIndex, record.DraftKey).Int64()
	if err != nil && err != redis.Nil {
		return SaveResult{}, fmt.Errorf("read draft size: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(record.DraftKey), payload, 0)
		pipe.SAdd(ctx, authorKey(record.AuthorID), record.DraftKey)
		pipe.ZAdd(ctx, editedIndex, redis.Z{
			Score:  float64(record.LastEditedAt.UnixMicro()),
			Member: record.DraftKey,
		})
		pipe.HSet(ctx, sizeIndex, record.DraftKey, size)
		pipe.IncrBy(ctx, bytesTotal, size-prevSize)
		return nil
	})
	if err != nil {
		return SaveResult{}, fmt.Errorf("save draft record: %w", err)
	}

	pruned, err := s.enforceBudget(ctx, record.DraftKey)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Record: record, PrunedDraftKeys: pruned}, nil
}

// enforceBudget evicts oldest-first by last edit time until both the record
// count and byte budget hold, never touching the record just written.
func (s *RedisStore) enforceBudget(ctx context.Context, justWritten string) ([]string, error) {
	if s.capacity <= 0 && s.byteBudget <= 0 {
		return nil, nil
	}

	members, err := s.client.ZRange(ctx, editedIndex, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read eviction index: %w", err)
	}
	total, err := s.client.Get(ctx, bytesTotal).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read byte total: %w", err)
	}

	count := len(members)
	var pruned []string
	for _, key := range members {
		overCount := s.capacity > 0 && count > s.capacity
		overBytes := s.byteBudget > 0 && total > s.byteBudget
		if !overCount && !overBytes {
			break
		}
		if key == justWritten {
			continue
		}
		size, err := s.removeDraftKey(ctx, key)
		if err != nil {
			return pruned, err
		}
		pruned = append(pruned, key)
		count--
		total -= size
	}
	return pruned, nil
}

// removeDraftKey deletes one record and all of its index entries, returning
// the freed byte count.
func (s *RedisStore) removeDraftKey(ctx context.Context, draftKey string) (int64, error) {
	_, _, _, authorID, err := ParseDraftKey(draftKey)
	if err != nil {
		return 0, err
	}
	size, err := s.client.HGet(ctx, sizeIndex, draftKey).Int64()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("read draft size: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(draftKey))
		pipe.SRem(ctx, authorKey(authorID), draftKey)
		pipe.ZRem(ctx, editedIndex, draftKey)
		pipe.HDel(ctx, sizeIndex, draftKey)
		pipe.DecrBy(ctx, bytesTotal, size)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove draft record: %w", err)
	}
	return size, nil
}

// GetDraft returns one record by key.
func (s *RedisStore) GetDraft(ctx context.Context, draftKey string) (DraftRecord, error) {
	payload, err := s.client.Get(ctx, recordKey(draftKey)).Result()
	if err == redis.Nil {
		return DraftRecord{}, ErrNotFound
	}
	if err != nil {
		return DraftRecord{}, fmt.Errorf("get draft record: %w", err)
	}
	var record DraftRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return DraftRecord{}, fmt.Errorf("unmarshal draft record: %w", err)
	}
	return record, nil
}

// RehydrateDocumentState returns every live record for one document/author
// pair plus a freshness timestamp and whether any record carries a
// compliance warning.
func (s *RedisStore) RehydrateDocumentState(ctx context.Context, projectSlug, documentSlug, authorID string) (DocumentState, error) {
	records, err := s.ListDrafts(ctx, authorID)
	if err != nil {
		return DocumentState{}, err
	}

	state := DocumentState{RehydratedAt: time.Now().UTC()}
	for _, record := range records {
		if record.ProjectSlug != projectSlug || record.DocumentSlug != documentSlug {
			continue
		}
		state.Sections = append(state.Sections, record)
		if record.UpdatedAt.After(state.UpdatedAt) {
			state.UpdatedAt = record.UpdatedAt
		}
		if record.ComplianceWarning {
			state.PendingComplianceWarning = true
		}
	}
	return state, nil
}

// ListDrafts returns every live record for an author.
func (s *RedisStore) ListDrafts(ctx context.Context, authorID string) ([]DraftRecord, error) {
	keys, err := s.client.SMembers(ctx, authorKey(authorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list author drafts: %w", err)
	}
	records := make([]DraftRecord, 0, len(keys))
	for _, key := range keys {
		record, err := s.GetDraft(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Index can briefly outlive a record pruned by another tab.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ClearAuthorDrafts deletes every record for an author in one transaction
// and stamps a cleared marker per key, so no tab can observe a partial
// purge or resurface a purged draft.
func (s *RedisStore) ClearAuthorDrafts(ctx context.Context, authorID string) error {
	keys, err := s.client.SMembers(ctx, authorKey(authorID)).Result()
	if err != nil {
		return fmt.Errorf("list author drafts: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, recordKey(key))
			pipe.ZRem(ctx, editedIndex, key)
			size, sizeErr := s.client.HGet(ctx, sizeIndex, key).Int64()
			if sizeErr == nil {
				pipe.DecrBy(ctx, bytesTotal, size)
			}
			pipe.HDel(ctx, sizeIndex, key)
			pipe.Set(ctx, clearedKey(key), now, 0)
			pipe.Del(ctx, cleanKey(key))
		}
		pipe.Del(ctx, authorKey(authorID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear author drafts: %w", err)
	}
	return nil
}

// RemoveDraft deletes one record. Marker writes are the caller's decision.
func (s *RedisStore) RemoveDraft(ctx context.Context, draftKey string) error {
	if _, err := s.removeDraftKey(ctx, draftKey); err != nil {
		return err
	}
	return nil
}

// SetComplianceWarning marks a record's sticky compliance flag without
// disturbing its edit timestamp, so the flag does not affect eviction
// ordering or recovery suppression.
func (s *RedisStore) SetComplianceWarning(ctx context.Context, draftKey string) error {
	record, err := s.GetDraft(ctx, draftKey)
	if err != nil {
		return err
	}
	if record.ComplianceWarning {
		return nil
	}
	record.ComplianceWarning = true
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal draft record: %w", err)
	}
	prevSize, err := s.client.HGet(ctx, sizeIndex, draftKey).Int64()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("read draft size: %w", err)
	}
	size := int64(len(payload))
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(draftKey), payload, 0)
		pipe.HSet(ctx, sizeIndex, draftKey, size)
		pipe.IncrBy(ctx, bytesTotal, size-prevSize)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set compliance warning: %w", err)
	}
	return nil
}

// MarkCleared stamps the cleared marker for a key. Written on revert,
// logout purge, and recovered-draft discard.
func (s *RedisStore) MarkCleared(ctx context.Context, draftKey string, at time.Time) error {
	if err := s.client.Set(ctx, clearedKey(draftKey), at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("mark cleared: %w", err)
	}
	return nil
}

// ClearedAt returns the cleared marker for a key, if any.
func (s *RedisStore) ClearedAt(ctx context.Context, draftKey string) (time.Time, bool, error) {
	return s.markerAt(ctx, clearedKey(draftKey))
}

// MarkRecentClean stamps the recent-clean marker for a key. Written on a
// successful clean save so the same session does not flag a just-saved
// section as needing recovery.
func (s *RedisStore) MarkRecentClean(ctx context.Context, draftKey string, at time.Time) error {
	if err := s.client.Set(ctx, cleanKey(draftKey), at.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("mark recent clean: %w", err)
	}
	return nil
}

// RecentCleanAt returns the recent-clean marker for a key, if any.
func (s *RedisStore) RecentCleanAt(ctx context.Context, draftKey string) (time.Time, bool, error) {
	return s.markerAt(ctx, cleanKey(draftKey))
}

func (s *RedisStore) markerAt(ctx context.Context, key string) (time.Time, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read marker: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse marker timestamp: %w", err)
	}
	return at, true, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
