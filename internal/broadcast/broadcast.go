// Package broadcast announces draft storage mutations to every other open
// tab sharing the same durable store. Delivery is best-effort and advisory:
// a tab that misses an event converges the next time it rehydrates.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event kinds carried on the channel.
const (
	EventUpdated        = "draft-storage:updated"
	EventQuotaExceeded  = "draft-storage:quota-exceeded"
	EventQuotaExhausted = "draft-storage:quota-exhausted"
	EventQuotaCleared   = "draft-storage:quota-cleared"
)

const defaultChannel = "draft-storage:events"

// Event is one storage mutation announcement. DraftKey is empty for events
// that concern the whole store (logout purge).
type Event struct {
	Kind      string    `json:"kind"`
	DraftKey  string    `json:"draftKey,omitempty"`
	AuthorID  string    `json:"authorId,omitempty"`
	Origin    string    `json:"origin"`
	EmittedAt time.Time `json:"emittedAt"`
}

// Channel is one tab's handle on the shared event channel. Each Channel has
// a unique origin id so a tab never reacts to its own announcements.
type Channel struct {
	client  *redis.Client
	channel string
	origin  string
	log     *zap.Logger
}

// NewChannel creates a tab-scoped handle on the shared channel.
func NewChannel(client *redis.Client, log *zap.Logger) *Channel {
	return &Channel{
		client:  client,
		channel: defaultChannel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

// Origin returns this tab's origin id.
func (c *Channel) Origin() string {
	return c.origin
}

// Publish announces one event. Fire-and-forget from the caller's
// perspective; the error is for logging only and never blocks a save.
func (c *Channel) Publish(ctx context.Context, kind, draftKey, authorID string) error {
	event := Event{
		Kind:      kind,
		DraftKey:  draftKey,
		AuthorID:  authorID,
		Origin:    c.origin,
		EmittedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal broadcast event: %w", err)
	}
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast event: %w", err)
	}
	return nil
}

// Listen delivers foreign events to handler until ctx is cancelled.
// Run it on its own goroutine.
func (c *Channel) Listen(ctx context.Context, handler func(Event)) error {
	pubsub := c.client.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	// Confirm the subscription before the caller proceeds past startup.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe broadcast channel: %w", err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
				c.log.Warn("dropping malformed broadcast event", zap.Error(err))
				continue
			}
			if event.Origin == c.origin {
				continue
			}
			handler(event)
		}
	}
}
