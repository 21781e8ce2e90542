package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/syndexlabs/syndex-messaging/internal/auth"
	"github.com/syndexlabs/syndex-messaging/internal/config"
	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/metrics"
	"github.com/syndexlabs/syndex-messaging/internal/middleware"
	"github.com/syndexlabs/syndex-messaging/internal/notify"
	"github.com/syndexlabs/syndex-messaging/internal/pins"
	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

func main() {
	// .env is optional; real deployments configure the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := data.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatalf("failed to connect to MongoDB: %v", err)
	}
	defer func() {
		_ = db.Close(context.Background())
	}()

	if err := db.EnsureIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	// Stores
	msgStore := data.NewMessagesStore(db.Messages())
	profileStore := data.NewProfilesStore(db.Profiles())
	dealStore := data.NewDealsStore(db.Deals())

	// Pin state lives in an embedded Pebble keyspace next to the process.
	pinStore, err := pins.OpenPebble(cfg.PinDBPath)
	if err != nil {
		log.Fatalf("failed to open pin store: %v", err)
	}
	defer func() {
		_ = pinStore.Close()
	}()

	// Realtime plumbing
	broker := realtime.NewBroker(logger)
	presenceCh := realtime.NewPresenceChannel()

	// The change stream is the production change feed; if it drops, retry
	// until shutdown. Sessions degrade to what they observe through their
	// own sends in the meantime.
	go func() {
		for {
			if err := realtime.WatchMessages(ctx, db.Messages(), broker, logger); err != nil {
				logger.Error("message watcher stopped", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()

	// Notifications
	var dispatcher *notify.Dispatcher
	if cfg.EmailAPIURL != "" {
		sender := notify.NewHTTPSender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom)
		dispatcher = notify.NewDispatcher(profileStore, sender, cfg.AppBaseURL, logger)
		dispatcher.OnFailure = metrics.NotificationFailures.Inc
	} else {
		logger.Warn("EMAIL_API_URL not set; message notifications disabled")
	}

	sendLimiter := middleware.NewLimiterStore(cfg.SendRatePerMinute, 5, time.Minute)
	defer sendLimiter.Stop()

	verifier := auth.NewTokenVerifier(cfg.JWTSecret, 24*time.Hour)

	app := newApp(&appDeps{
		store:       msgStore,
		broker:      broker,
		presenceCh:  presenceCh,
		profiles:    profileStore,
		deals:       dealStore,
		pins:        pinStore,
		notifier:    dispatcher,
		sendLimiter: sendLimiter,
		verifier:    verifier,
		logger:      logger,
	})

	go func() {
		logger.Info("messaging gateway listening", "addr", cfg.Addr)
		if err := app.Listen(cfg.Addr); err != nil {
			log.Fatalf("server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
