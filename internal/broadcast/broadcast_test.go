package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupClients(t *testing.T) (*redis.Client, *redis.Client) {
	s := miniredis.RunT(t)
	a := redis.NewClient(&redis.Options{Addr: s.Addr()})
	b := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func TestPublishReachesOtherTab(t *testing.T) {
	clientA, clientB := setupClients(t)
	tabA := NewChannel(clientA, zap.NewNop())
	tabB := NewChannel(clientB, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan Event, 1)
	go func() {
		_ = tabB.Listen(ctx, func(event Event) {
			received <- event
		})
	}()
	// Give the subscriber a moment to register.
	time.Sleep(50 * time.Millisecond)

	if err := tabA.Publish(ctx, EventUpdated, "acme/adr-142/Overview/author-1", "author-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		if event.Kind != EventUpdated {
			t.Errorf("expected %s, got %s", EventUpdated, event.Kind)
		}
		if event.DraftKey != "acme/adr-142/Overview/author-1" {
			t.Errorf("draft key mismatch: %s", event.DraftKey)
		}
		if event.Origin != tabA.Origin() {
			t.Errorf("origin mismatch: %s", event.Origin)
		}
		if event.EmittedAt.IsZero() {
			t.Error("missing emitted timestamp")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestOwnEventsFiltered(t *testing.T) {
	clientA, _ := setupClients(t)
	tab := NewChannel(clientA, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	received := make(chan Event, 1)
	go func() {
		_ = tab.Listen(ctx, func(event Event) {
			received <- event
		})
	}()
	time.Sleep(50 * time.Millisecond)

	if err := tab.Publish(ctx, EventQuotaExceeded, "some/key/here/author-1", "author-1"); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-received:
		t.Fatalf("tab received its own event: %+v", event)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestListenStopsOnCancel(t *testing.T) {
	clientA, _ := setupClients(t)
	tab := NewChannel(clientA, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tab.Listen(ctx, func(Event) {})
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not stop on cancel")
	}
}
