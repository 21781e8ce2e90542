package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/syndexlabs/syndex-messaging/internal/auth"
	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/inbox"
	"github.com/syndexlabs/syndex-messaging/internal/metrics"
	"github.com/syndexlabs/syndex-messaging/internal/presence"
	"github.com/syndexlabs/syndex-messaging/internal/thread"
)

// clientFrame is a message from the client to the gateway.
type clientFrame struct {
	Type            string `json:"type"`
	CorrespondentID string `json:"correspondent_id,omitempty"`
	Text            string `json:"text,omitempty"`
	DealID          string `json:"deal_id,omitempty"`
	Query           string `json:"query,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Role            string `json:"role,omitempty"`
}

// serverFrame is a message from the gateway to the client.
type serverFrame struct {
	Type            string               `json:"type"`
	CorrespondentID string               `json:"correspondent_id,omitempty"`
	Conversations   []inbox.Conversation `json:"conversations,omitempty"`
	Entries         []thread.Entry       `json:"entries,omitempty"`
	Message         *thread.Entry        `json:"message,omitempty"`
	Draft           string               `json:"draft,omitempty"`
	Typing          *bool                `json:"typing,omitempty"`
	Error           string               `json:"error,omitempty"`
}

// session is one connected websocket client: the viewer's presence
// membership, their inbox engine, and at most one open thread engine.
type session struct {
	claims *auth.Claims
	conn   *websocket.Conn
	deps   *appDeps
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte

	tracker *presence.Tracker
	inbox   *inbox.Engine
	thread  *thread.Engine
}

func newSession(claims *auth.Claims, conn *websocket.Conn, deps *appDeps) *session {
	s := &session{
		claims: claims,
		conn:   conn,
		deps:   deps,
		logger: deps.logger.With("user_id", claims.UserID),
		send:   make(chan []byte, 256),
	}

	s.tracker = presence.NewTracker(deps.presenceCh)
	s.inbox = inbox.NewEngine(claims.UserID, deps.store, deps.profiles, s.tracker,
		deps.pins, deps.broker, s.pushInbox, s.logger)
	s.thread = thread.NewEngine(claims.UserID, deps.store, deps.broker, s.onThreadEvent, thread.Options{
		Deals:  deps.deals,
		Logger: s.logger,
		OnSent: func(m data.Message) {
			metrics.MessagesSent.Inc()
			if deps.notifier != nil {
				deps.notifier.MessageSent(m)
			}
		},
	})
	return s
}

// run drives the session: a writer goroutine drains the send channel while
// the reader loop dispatches client frames. Returns when the connection
// drops; all subscriptions are torn down on the way out.
func (s *session) run() {
	metrics.SessionsOpen.Inc()
	defer metrics.SessionsOpen.Dec()

	s.tracker.Join(s.claims.UserID)
	defer s.tracker.Close()
	defer s.inbox.Close()
	defer s.thread.Close()
	defer func() {
		s.mu.Lock()
		s.closed = true
		close(s.send)
		s.mu.Unlock()
	}()

	go func() {
		for msg := range s.send {
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}()

	ctx := context.Background()
	if err := s.inbox.Load(ctx); err != nil {
		s.logger.Error("load inbox", "error", err)
		s.pushError("failed to load inbox")
	}

	s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.pushError("malformed frame")
			continue
		}
		s.handle(ctx, frame)
	}
}

func (s *session) handle(ctx context.Context, frame clientFrame) {
	switch frame.Type {
	case "ping":
		s.push(serverFrame{Type: "pong"})

	case "open":
		if frame.CorrespondentID == "" {
			s.pushError("correspondent_id required")
			return
		}
		if err := s.thread.Open(ctx, frame.CorrespondentID); err != nil {
			s.logger.Error("open thread", "correspondent", frame.CorrespondentID, "error", err)
			s.pushError("failed to open conversation")
			return
		}
		s.push(serverFrame{
			Type:            "thread",
			CorrespondentID: frame.CorrespondentID,
			Entries:         s.thread.Entries(),
		})

	case "close":
		s.thread.Close()

	case "send":
		if !s.deps.sendLimiter.Allow(s.claims.UserID) {
			s.pushError("sending too fast")
			return
		}
		if err := s.thread.Send(ctx, frame.Text); err != nil {
			s.pushError(err.Error())
		}

	case "typing":
		s.thread.InputActivity()

	case "set_deal":
		if frame.DealID == "" {
			s.thread.SetDealContext(nil)
			return
		}
		deal, err := s.deps.deals.Resolve(ctx, frame.DealID)
		if err != nil {
			s.pushError("unknown deal")
			return
		}
		s.thread.SetDealContext(&data.DealRef{ID: deal.ID, Title: deal.Title, Slug: deal.Slug})

	case "pin":
		if err := s.inbox.Pin(ctx, frame.CorrespondentID); err != nil {
			s.pushError("failed to save pin")
		}

	case "unpin":
		if err := s.inbox.Unpin(ctx, frame.CorrespondentID); err != nil {
			s.pushError("failed to save pin")
		}

	case "mark_all_read":
		if err := s.inbox.MarkAllRead(ctx); err != nil {
			s.pushError("failed to mark all read")
		}

	case "filter":
		s.push(serverFrame{
			Type:          "inbox",
			Conversations: s.inbox.Filter(frame.Query, parseFilterMode(frame.Mode), frame.Role),
		})

	default:
		s.logger.Warn("unknown frame type", "type", frame.Type)
	}
}

func parseFilterMode(mode string) inbox.FilterMode {
	switch mode {
	case "unread":
		return inbox.FilterUnread
	case "role":
		return inbox.FilterRole
	default:
		return inbox.FilterAll
	}
}

// onThreadEvent translates engine events into outbound frames.
func (s *session) onThreadEvent(ev thread.Event) {
	switch ev.Kind {
	case thread.EventLoaded:
		// The full entry list goes out from the open handler.
	case thread.EventAppended:
		s.push(serverFrame{Type: "message_appended", CorrespondentID: ev.Correspondent,
			Message: &thread.Entry{Message: ev.Message}})
	case thread.EventReconciled:
		s.push(serverFrame{Type: "message_confirmed", CorrespondentID: ev.Correspondent,
			Message: &thread.Entry{Message: ev.Message}})
	case thread.EventReadFlipped:
		s.push(serverFrame{Type: "message_read", CorrespondentID: ev.Correspondent,
			Message: &thread.Entry{Message: ev.Message}})
	case thread.EventSendFailed:
		metrics.SendFailures.Inc()
		s.push(serverFrame{Type: "send_failed", CorrespondentID: ev.Correspondent,
			Draft: ev.Draft, Error: "message could not be sent"})
	case thread.EventTyping:
		typing := ev.Typing
		s.push(serverFrame{Type: "peer_typing", CorrespondentID: ev.Correspondent, Typing: &typing})
	}
}

// pushInbox sends the current conversation list. Registered as the inbox
// engine's change callback.
func (s *session) pushInbox() {
	s.push(serverFrame{Type: "inbox", Conversations: s.inbox.Snapshot()})
}

func (s *session) pushError(msg string) {
	s.push(serverFrame{Type: "error", Error: msg})
}

func (s *session) push(frame serverFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("marshal frame", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- raw:
	default:
		s.logger.Warn("dropping frame for slow client", "type", frame.Type)
	}
}
