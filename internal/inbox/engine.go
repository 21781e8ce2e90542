// Package inbox builds and incrementally maintains the viewer's
// conversation list from the raw message stream, presence and the local
// pin set. Conversations are computed per viewer, never stored.
package inbox

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

// Store is the message persistence boundary the inbox depends on.
type Store interface {
	QueryAll(ctx context.Context, viewerID string) ([]data.Message, error)
	MarkAllRead(ctx context.Context, viewerID string) error
}

// ProfileResolver resolves correspondent display info.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID string) (data.Profile, error)
}

// Presence answers whether a user is currently online.
type Presence interface {
	IsOnline(userID string) bool
}

// PinStore is the injected pin-state collaborator: a per-user persisted
// set of correspondent ids, independent of the message history.
type PinStore interface {
	Read(ctx context.Context, userID string) (map[string]bool, error)
	Write(ctx context.Context, userID string, pins map[string]bool) error
}

// Feed provides the global message-change subscription.
type Feed interface {
	SubscribeMessages(userID string) *realtime.MessageSub
}

// Conversation is one row of the inbox.
type Conversation struct {
	CorrespondentID string        `json:"correspondent_id"`
	DisplayName     string        `json:"display_name"`
	AvatarURL       string        `json:"avatar_url,omitempty"`
	Role            string        `json:"role"`
	LastMessage     data.Message  `json:"last_message"`
	Unread          int           `json:"unread"`
	Online          bool          `json:"online"`
	Pinned          bool          `json:"pinned"`
	Deal            *data.DealRef `json:"deal,omitempty"`
}

// conversation is the internal mutable state for one correspondent.
// Unread is tracked as the set of unread message ids rather than a bare
// counter, which makes event application idempotent under at-least-once
// delivery.
type conversation struct {
	correspondentID string
	profile         data.Profile
	last            data.Message
	unreadIDs       map[string]struct{}
	deal            *data.DealRef
}

// Engine maintains the conversation list for one viewer.
type Engine struct {
	viewerID string
	store    Store
	profiles ProfileResolver
	presence Presence
	pins     PinStore
	feed     Feed
	onChange func()
	logger   *slog.Logger

	mu     sync.Mutex
	convs  map[string]*conversation
	pinned map[string]bool
	loaded bool
	sub    *realtime.MessageSub
	done   chan struct{}
}

// NewEngine wires an inbox engine. onChange is invoked, outside the engine
// lock, whenever the conversation list changes; it may be nil.
func NewEngine(viewerID string, store Store, profiles ProfileResolver, presence Presence, pins PinStore, feed Feed, onChange func(), logger *slog.Logger) *Engine {
	if onChange == nil {
		onChange = func() {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		viewerID: viewerID,
		store:    store,
		profiles: profiles,
		presence: presence,
		pins:     pins,
		feed:     feed,
		onChange: onChange,
		logger:   logger,
		convs:    make(map[string]*conversation),
		pinned:   make(map[string]bool),
	}
}

// Load builds the conversation list from the viewer's full bidirectional
// history, the pin set and correspondent profiles, then subscribes to the
// message stream for incremental maintenance.
func (e *Engine) Load(ctx context.Context) error {
	pins, err := e.pins.Read(ctx, e.viewerID)
	if err != nil {
		e.logger.Warn("read pins", "error", err)
		pins = map[string]bool{}
	}

	messages, err := e.store.QueryAll(ctx, e.viewerID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.pinned = pins
	e.convs = make(map[string]*conversation)
	e.rebuildLocked(messages)
	e.loaded = true
	if e.sub == nil {
		e.sub = e.feed.SubscribeMessages(e.viewerID)
		e.done = make(chan struct{})
		go e.pump(e.sub)
	}
	e.mu.Unlock()

	e.resolveMissingProfiles(ctx)
	e.onChange()
	return nil
}

// rebuildLocked regroups messages (ascending by creation time) into
// conversation state. The deal context keeps the first reference seen for
// each correspondent.
func (e *Engine) rebuildLocked(messages []data.Message) {
	for _, m := range messages {
		corr := m.CorrespondentOf(e.viewerID)
		c, ok := e.convs[corr]
		if !ok {
			c = &conversation{correspondentID: corr, unreadIDs: make(map[string]struct{})}
			e.convs[corr] = c
		}
		if c.last.ID == "" || !m.CreatedAt.Before(c.last.CreatedAt) {
			c.last = m
		}
		if m.ReceiverID == e.viewerID && !m.Read {
			c.unreadIDs[m.ID] = struct{}{}
		}
		if c.deal == nil && m.Deal != nil {
			c.deal = m.Deal
		}
	}
}

// resolveMissingProfiles fills in correspondent display info for any
// conversation that does not have it yet.
func (e *Engine) resolveMissingProfiles(ctx context.Context) {
	e.mu.Lock()
	var missing []string
	for id, c := range e.convs {
		if c.profile.ID == "" {
			missing = append(missing, id)
		}
	}
	e.mu.Unlock()

	for _, id := range missing {
		profile, err := e.profiles.Resolve(ctx, id)
		if err != nil {
			e.logger.Warn("resolve profile", "user_id", id, "error", err)
			continue
		}
		e.mu.Lock()
		if c, ok := e.convs[id]; ok {
			c.profile = profile
		}
		e.mu.Unlock()
	}
}

func (e *Engine) pump(sub *realtime.MessageSub) {
	defer close(e.done)
	for ev := range sub.C {
		e.Apply(ev)
	}
}

// Apply folds one message event into the conversation list. Applying the
// same event twice produces the same state as applying it once.
func (e *Engine) Apply(ev realtime.MessageEvent) {
	m := ev.Message
	if m.SenderID != e.viewerID && m.ReceiverID != e.viewerID {
		return
	}
	corr := m.CorrespondentOf(e.viewerID)

	e.mu.Lock()
	c, known := e.convs[corr]
	if !known {
		if ev.Kind == realtime.MessageUpdated {
			// An update for an unknown conversation: nothing to patch.
			e.mu.Unlock()
			return
		}
		c = &conversation{correspondentID: corr, unreadIDs: make(map[string]struct{})}
		e.convs[corr] = c
	}

	switch ev.Kind {
	case realtime.MessageInserted:
		if c.last.ID == "" || !m.CreatedAt.Before(c.last.CreatedAt) {
			c.last = m
		}
		if m.ReceiverID == e.viewerID && !m.Read {
			c.unreadIDs[m.ID] = struct{}{}
		}
		if c.deal == nil && m.Deal != nil {
			c.deal = m.Deal
		}
	case realtime.MessageUpdated:
		if m.Read {
			delete(c.unreadIDs, m.ID)
			if c.last.ID == m.ID {
				c.last.Read = true
			}
		}
	}
	needsProfile := !known && c.profile.ID == ""
	e.mu.Unlock()

	if needsProfile {
		// New correspondent: fetch display info lazily.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		profile, err := e.profiles.Resolve(ctx, corr)
		cancel()
		if err != nil {
			e.logger.Warn("resolve profile", "user_id", corr, "error", err)
		} else {
			e.mu.Lock()
			if cc, ok := e.convs[corr]; ok {
				cc.profile = profile
			}
			e.mu.Unlock()
		}
	}
	e.onChange()
}

// Pin marks the correspondent pinned and persists the pin set.
func (e *Engine) Pin(ctx context.Context, correspondentID string) error {
	return e.setPinned(ctx, correspondentID, true)
}

// Unpin clears the pin and persists the pin set.
func (e *Engine) Unpin(ctx context.Context, correspondentID string) error {
	return e.setPinned(ctx, correspondentID, false)
}

func (e *Engine) setPinned(ctx context.Context, correspondentID string, pinned bool) error {
	e.mu.Lock()
	if pinned {
		e.pinned[correspondentID] = true
	} else {
		delete(e.pinned, correspondentID)
	}
	snapshot := make(map[string]bool, len(e.pinned))
	for k, v := range e.pinned {
		snapshot[k] = v
	}
	e.mu.Unlock()

	if err := e.pins.Write(ctx, e.viewerID, snapshot); err != nil {
		return err
	}
	e.onChange()
	return nil
}

// MarkAllRead optimistically zeroes every conversation's unread count,
// then issues the bulk persistence update. On failure the list is rebuilt
// from the store rather than guessing at partial state.
func (e *Engine) MarkAllRead(ctx context.Context) error {
	e.mu.Lock()
	for _, c := range e.convs {
		c.unreadIDs = make(map[string]struct{})
		if c.last.ReceiverID == e.viewerID {
			c.last.Read = true
		}
	}
	e.mu.Unlock()
	e.onChange()

	if err := e.store.MarkAllRead(ctx, e.viewerID); err != nil {
		e.logger.Warn("mark all read failed, refetching", "error", err)
		if reloadErr := e.reload(ctx); reloadErr != nil {
			e.logger.Error("reload after failed mark-all-read", "error", reloadErr)
		}
		return err
	}
	return nil
}

// reload rebuilds conversation state from the store, keeping resolved
// profiles and the pin set.
func (e *Engine) reload(ctx context.Context) error {
	messages, err := e.store.QueryAll(ctx, e.viewerID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	profiles := make(map[string]data.Profile, len(e.convs))
	for id, c := range e.convs {
		profiles[id] = c.profile
	}
	e.convs = make(map[string]*conversation)
	e.rebuildLocked(messages)
	for id, p := range profiles {
		if c, ok := e.convs[id]; ok {
			c.profile = p
		}
	}
	e.mu.Unlock()
	e.onChange()
	return nil
}

// Snapshot returns the conversation list: pinned conversations first, each
// tier ordered by last-message time descending. Presence is consulted at
// read time so the online flag is always current.
func (e *Engine) Snapshot() []Conversation {
	e.mu.Lock()
	out := make([]Conversation, 0, len(e.convs))
	for _, c := range e.convs {
		out = append(out, Conversation{
			CorrespondentID: c.correspondentID,
			DisplayName:     c.profile.DisplayName,
			AvatarURL:       c.profile.AvatarURL,
			Role:            c.profile.Role,
			LastMessage:     c.last,
			Unread:          len(c.unreadIDs),
			Pinned:          e.pinned[c.correspondentID],
			Deal:            c.deal,
		})
	}
	e.mu.Unlock()

	if e.presence != nil {
		for i := range out {
			out[i].Online = e.presence.IsOnline(out[i].CorrespondentID)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pinned != out[j].Pinned {
			return out[i].Pinned
		}
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out
}

// TotalUnread sums the per-conversation unread counts. By construction it
// equals the count of all unread messages addressed to the viewer.
func (e *Engine) TotalUnread() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, c := range e.convs {
		total += len(c.unreadIDs)
	}
	return total
}

// Close cancels the message subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	sub, done := e.sub, e.done
	e.sub = nil
	e.mu.Unlock()
	if sub != nil {
		sub.Cancel()
		<-done
	}
}
