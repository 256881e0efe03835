package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"inkwell/engine/internal/broadcast"
	"inkwell/engine/internal/config"
	"inkwell/engine/internal/draftstore"
	"inkwell/engine/internal/logging"
	"inkwell/engine/internal/rehydrate"
	"inkwell/engine/internal/remote"
	"inkwell/engine/internal/retention"
	"inkwell/engine/internal/session"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// envResolver answers the retention determination from configuration until
// the policy service exposes an endpoint this engine can poll.
type envResolver struct {
	outcome string
}

func (r envResolver) Resolve(_ context.Context, _, _, _ string) (retention.Policy, error) {
	outcome := r.outcome
	if outcome == "" {
		outcome = retention.OutcomeNone
	}
	return retention.Policy{ID: "retention-default", Outcome: outcome}, nil
}

func main() {
	cfg := config.Load()
	if cfg.AuthorID == "" || cfg.ProjectSlug == "" || cfg.DocumentSlug == "" {
		log.Fatalf("INKWELL_AUTHOR_ID, INKWELL_PROJECT and INKWELL_DOCUMENT are required")
	}

	logger, err := logging.New(cfg.Development)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := draftstore.NewRedisStoreWithClient(client, cfg.DraftCapacity, cfg.DraftByteBudget)
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	channel := broadcast.NewChannel(client, logger)
	api := remote.NewClient(cfg.APIBaseURL, cfg.AuthorID, cfg.SaveTimeout)
	gate := rehydrate.NewGate(store, logger)
	monitor := retention.NewMonitor(envResolver{outcome: os.Getenv("INKWELL_RETENTION_OUTCOME")}, store, logger)
	controller := session.NewController(store, api, channel, gate, monitor, logger,
		cfg.ProjectSlug, cfg.DocumentSlug, cfg.AuthorID)

	recoveries, err := controller.Rehydrate(ctx, nil)
	if err != nil {
		logger.Warn("initial rehydration failed", zap.Error(err))
	} else if len(recoveries) > 0 {
		logger.Info("drafts awaiting recovery review", zap.Int(logging.FieldCount, len(recoveries)))
	}

	go func() {
		err := channel.Listen(ctx, func(event broadcast.Event) {
			logger.Info("storage event from another tab",
				zap.String(logging.FieldEventKind, event.Kind),
				zap.String(logging.FieldDraftKey, event.DraftKey),
			)
			if _, err := controller.Rehydrate(ctx, nil); err != nil {
				logger.Warn("rehydration after storage event failed", zap.Error(err))
			}
		})
		if err != nil && err != context.Canceled {
			logger.Warn("broadcast listener stopped", zap.Error(err))
		}
	}()

	logger.Info("draft engine ready",
		zap.String(logging.FieldAuthorID, cfg.AuthorID),
		zap.String(logging.FieldProject, cfg.ProjectSlug),
		zap.String(logging.FieldDocument, cfg.DocumentSlug),
	)

	<-ctx.Done()
	logger.Info("shutting down")
}
