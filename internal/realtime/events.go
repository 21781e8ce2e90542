// Package realtime provides the typed event streams that connect the
// message store, the presence channel and the engines: message change
// events (insert/update), ephemeral typing signals and presence sync
// snapshots. Every subscription carries an explicit cancellation handle so
// owning views can tear down without leaking handlers.
package realtime

import "github.com/syndexlabs/syndex-messaging/internal/data"

// EventKind distinguishes message change events.
type EventKind int

const (
	// MessageInserted signals a newly persisted message.
	MessageInserted EventKind = iota
	// MessageUpdated signals a change to an existing message; in practice
	// only the read flag (and deal enrichment) ever changes.
	MessageUpdated
)

// MessageEvent is a change notification for a single message record.
type MessageEvent struct {
	Kind    EventKind
	Message data.Message
}

// TypingSignal is an ephemeral broadcast: the subject user started or
// stopped typing. It is never persisted and is only meaningful while the
// receiving subscription is live.
type TypingSignal struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// MessageSub is a live subscription to message change events for one user.
type MessageSub struct {
	C      <-chan MessageEvent
	cancel func()
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *MessageSub) Cancel() { s.cancel() }

// TypingSub is a live subscription to typing signals addressed to one user.
type TypingSub struct {
	C      <-chan TypingSignal
	cancel func()
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *TypingSub) Cancel() { s.cancel() }

// PresenceSub is a live subscription to presence sync snapshots. Each
// element on C is the complete set of currently tracked user ids.
type PresenceSub struct {
	C      <-chan []string
	cancel func()
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *PresenceSub) Cancel() { s.cancel() }
