// Package notify implements the best-effort email notification side
// effect: after a message is persisted, the recipient may get an email
// with a preview. Failures here are logged and otherwise invisible; they
// can never undo or block a send.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/normalize"
)

// previewLimit caps the message preview included in the email.
const previewLimit = 120

// EmailSender is the external email dispatch boundary.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ProfileResolver resolves the recipient's address, preference and the
// sender's display info.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (data.Profile, error)
}

// Dispatcher requests email notifications for delivered messages.
type Dispatcher struct {
	profiles ProfileResolver
	sender   EmailSender
	baseURL  string
	timeout  time.Duration
	logger   *slog.Logger

	// OnFailure is invoked (if set) when a dispatch fails, after logging.
	// The metrics counter hangs off this hook.
	OnFailure func()
}

// NewDispatcher wires a dispatcher. baseURL is the marketplace origin used
// to build deal links in the email body.
func NewDispatcher(profiles ProfileResolver, sender EmailSender, baseURL string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		profiles: profiles,
		sender:   sender,
		baseURL:  baseURL,
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// MessageSent requests a notification for a freshly persisted message.
// Fire and forget: the work runs on its own goroutine with its own
// timeout, and every failure path ends in a log line.
func (d *Dispatcher) MessageSent(msg data.Message) {
	go d.dispatch(msg)
}

func (d *Dispatcher) dispatch(msg data.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	recipient, err := d.profiles.Resolve(ctx, msg.ReceiverID)
	if err != nil {
		d.fail("resolve recipient", msg, err)
		return
	}
	if !recipient.EmailNotify || recipient.Email == "" {
		return
	}

	sender, err := d.profiles.Resolve(ctx, msg.SenderID)
	if err != nil {
		d.fail("resolve sender", msg, err)
		return
	}

	subject := fmt.Sprintf("New message from %s", sender.DisplayName)
	body := buildBody(sender, msg, d.baseURL)
	if err := d.sender.Send(ctx, normalize.Email(recipient.Email), subject, body); err != nil {
		d.fail("send email", msg, err)
		return
	}
}

func (d *Dispatcher) fail(stage string, msg data.Message, err error) {
	d.logger.Warn("notification dispatch failed",
		"stage", stage, "message_id", msg.ID, "receiver_id", msg.ReceiverID, "error", err)
	if d.OnFailure != nil {
		d.OnFailure()
	}
}

// buildBody renders the templated payload: sender display name and role, a
// truncated content preview, the deal title and link when present, and a
// human-readable timestamp.
func buildBody(sender data.Profile, msg data.Message, baseURL string) string {
	preview := msg.Content
	if runes := []rune(preview); len(runes) > previewLimit {
		preview = string(runes[:previewLimit]) + "…"
	}

	body := fmt.Sprintf("%s (%s) sent you a message on %s:\n\n%q\n",
		sender.DisplayName, sender.Role,
		msg.CreatedAt.Format("January 2, 2006 at 3:04 PM"),
		preview)

	if msg.Deal != nil && msg.Deal.Title != "" {
		body += fmt.Sprintf("\nRegarding: %s\n%s/deals/%s\n", msg.Deal.Title, baseURL, msg.Deal.Slug)
	}
	body += fmt.Sprintf("\nReply at %s/inbox\n", baseURL)
	return body
}
