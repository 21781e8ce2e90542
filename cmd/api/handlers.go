package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/syndexlabs/syndex-messaging/internal/auth"
	"github.com/syndexlabs/syndex-messaging/internal/inbox"
	"github.com/syndexlabs/syndex-messaging/internal/middleware"
	"github.com/syndexlabs/syndex-messaging/internal/notify"
	"github.com/syndexlabs/syndex-messaging/internal/pins"
	"github.com/syndexlabs/syndex-messaging/internal/realtime"
	"github.com/syndexlabs/syndex-messaging/internal/thread"
)

// messageStore is the persistence surface the gateway needs; both the
// MongoDB store and the in-memory store satisfy it.
type messageStore interface {
	thread.Store
	inbox.Store
	CountUnread(ctx context.Context, viewerID string) (int64, error)
}

// appDeps bundles the collaborators every session shares.
type appDeps struct {
	store       messageStore
	broker      *realtime.Broker
	presenceCh  *realtime.PresenceChannel
	profiles    inbox.ProfileResolver
	deals       thread.DealResolver
	pins        pins.Store
	notifier    *notify.Dispatcher
	sendLimiter *middleware.LimiterStore
	verifier    *auth.TokenVerifier
	logger      *slog.Logger
}

// newApp assembles the fiber application: health and metrics endpoints,
// the authenticated REST surface, and the websocket gateway.
func newApp(deps *appDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
		BodyLimit:    256 * 1024,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api", middleware.SessionAuth(deps.verifier))
	api.Get("/inbox", handleInboxSnapshot(deps))
	api.Get("/unread", handleUnreadCount(deps))

	app.Get("/ws/messaging", middleware.SessionAuth(deps.verifier), handleWS(deps))

	return app
}

// handleInboxSnapshot serves a one-shot conversation list for clients that
// want the initial render before the websocket is up.
func handleInboxSnapshot(deps *appDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := middleware.ClaimsFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing claims")
		}

		eng := inbox.NewEngine(claims.UserID, deps.store, deps.profiles, nil,
			deps.pins, deps.broker, nil, deps.logger)
		defer eng.Close()
		if err := eng.Load(c.Context()); err != nil {
			deps.logger.Error("build inbox snapshot", "user_id", claims.UserID, "error", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to build inbox")
		}
		return c.JSON(fiber.Map{"conversations": eng.Snapshot()})
	}
}

// handleUnreadCount serves the viewer's total unread count, e.g. for a
// navigation badge.
func handleUnreadCount(deps *appDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := middleware.ClaimsFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing claims")
		}
		count, err := deps.store.CountUnread(c.Context(), claims.UserID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to count unread")
		}
		return c.JSON(fiber.Map{"unread": count})
	}
}

// handleWS upgrades the connection and runs the messaging session.
func handleWS(deps *appDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		claims, ok := middleware.ClaimsFromCtx(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing claims")
		}
		c.Locals("claims", claims)

		return websocket.New(func(conn *websocket.Conn) {
			claims, _ := conn.Locals("claims").(*auth.Claims)
			if claims == nil {
				_ = conn.Close()
				return
			}
			s := newSession(claims, conn, deps)
			s.run()
		})(c)
	}
}
