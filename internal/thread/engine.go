// Package thread implements the per-conversation message thread engine:
// optimistic sends with in-place reconciliation, incoming event dedupe,
// read-state updates, the typing protocol and date-bucketed display
// grouping.
package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

// State is the thread lifecycle state.
type State int

const (
	// StateIdle means no conversation is open.
	StateIdle State = iota
	// StateLoading means Open is fetching the initial history.
	StateLoading
	// StateReady means the thread is interactive.
	StateReady
	// StateSending means at least one optimistic send awaits persistence.
	StateSending
)

var (
	// ErrEmptyMessage rejects blank or whitespace-only sends.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotOpen is returned when sending without an open conversation.
	ErrNotOpen = errors.New("no open conversation")
)

// EventKind distinguishes engine notifications.
type EventKind int

const (
	// EventLoaded fires when the history fetch completes and the thread
	// becomes interactive.
	EventLoaded EventKind = iota
	// EventAppended fires when a new entry joins the thread (an optimistic
	// send or an incoming message).
	EventAppended
	// EventReconciled fires when an entry is confirmed or patched in place.
	EventReconciled
	// EventReadFlipped fires when an entry's read indicator changes.
	EventReadFlipped
	// EventSendFailed fires when persistence fails; Draft carries the
	// original text so the caller can restore the input.
	EventSendFailed
	// EventTyping fires when the correspondent's typing indicator changes.
	EventTyping
)

// Event is an engine notification delivered through the notify callback.
type Event struct {
	Kind          EventKind
	Correspondent string
	Message       data.Message // Appended, Reconciled, ReadFlipped
	Draft         string       // SendFailed
	Err           error        // SendFailed
	Typing        bool         // Typing
}

// Store is the message persistence boundary the engine depends on.
type Store interface {
	History(ctx context.Context, viewerID, correspondentID string) ([]data.Message, error)
	Persist(ctx context.Context, msg data.Message) (data.Message, error)
	MarkConversationRead(ctx context.Context, viewerID, correspondentID string) error
}

// Feed is the realtime boundary: message change subscriptions plus the
// typing broadcast channel. *realtime.Broker satisfies it.
type Feed interface {
	SubscribeMessages(userID string) *realtime.MessageSub
	SubscribeTyping(userID string) *realtime.TypingSub
	PublishTyping(toUserID string, sig realtime.TypingSignal)
}

// DealResolver resolves listing references for enrichment. Optional.
type DealResolver interface {
	Resolve(ctx context.Context, dealID string) (data.Deal, error)
}

// Options tune the typing protocol and wire optional collaborators.
type Options struct {
	// TypingInterval is the rolling window for outgoing is-typing=true
	// broadcasts: at most one per window while input stays active.
	TypingInterval time.Duration
	// TypingIdle is how long after the last input activity the debounced
	// is-typing=false broadcast fires.
	TypingIdle time.Duration
	// TypingStale bounds how long the peer's indicator stays raised with
	// no further signal; a stale true degrades to an implicit false.
	TypingStale time.Duration

	// Deals enables in-place deal enrichment of incoming messages.
	Deals DealResolver
	// OnSent is invoked after a send is confirmed by the store, outside
	// the engine lock. The notification dispatcher hangs off this hook; it
	// can never affect message state.
	OnSent func(data.Message)

	Logger *slog.Logger
}

func (o *Options) fill() {
	if o.TypingInterval <= 0 {
		o.TypingInterval = 3 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 3 * time.Second
	}
	if o.TypingStale <= 0 {
		o.TypingStale = 6 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Engine is the per-conversation state machine. One engine serves one
// viewer; Open switches it between correspondents, tearing down the
// previous conversation's subscriptions first.
type Engine struct {
	viewerID string
	store    Store
	feed     Feed
	opts     Options
	notify   func(Event)

	mu            sync.Mutex
	state         State
	correspondent string
	epoch         int
	entries       *arena
	pendingSends  int
	tmpSeq        int64
	draftDeal     *data.DealRef

	msgSub *realtime.MessageSub
	typSub *realtime.TypingSub

	typingLimiter *rate.Limiter
	idleTimer     *time.Timer
	staleTimer    *time.Timer
	peerTyping    bool
}

// NewEngine returns an engine for the given viewer. notify receives engine
// events and is always called outside the engine lock; it may be nil.
func NewEngine(viewerID string, store Store, feed Feed, notify func(Event), opts Options) *Engine {
	opts.fill()
	if notify == nil {
		notify = func(Event) {}
	}
	return &Engine{
		viewerID: viewerID,
		store:    store,
		feed:     feed,
		opts:     opts,
		notify:   notify,
		entries:  newArena(),
	}
}

// Open switches the engine to the given correspondent: previous
// subscriptions are torn down first, then the subscriptions for the new
// conversation are established and the full ascending history is fetched.
// Unread messages from the correspondent are marked read in one batch,
// off the critical path.
//
// A concurrent Open supersedes this one; the late history result is then
// discarded by epoch check rather than by trusting callback order.
func (e *Engine) Open(ctx context.Context, correspondentID string) error {
	e.mu.Lock()
	e.teardownLocked()
	e.epoch++
	epoch := e.epoch
	e.correspondent = correspondentID
	e.state = StateLoading
	e.entries = newArena()
	e.pendingSends = 0
	e.peerTyping = false
	e.typingLimiter = rate.NewLimiter(rate.Every(e.opts.TypingInterval), 1)

	// Subscribe before fetching so nothing slips between the snapshot and
	// the live feed; the id dedupe makes the overlap harmless.
	e.msgSub = e.feed.SubscribeMessages(e.viewerID)
	e.typSub = e.feed.SubscribeTyping(e.viewerID)
	msgSub, typSub := e.msgSub, e.typSub
	e.mu.Unlock()

	go e.pumpMessages(epoch, msgSub)
	go e.pumpTyping(epoch, typSub)

	history, err := e.store.History(ctx, e.viewerID, correspondentID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	e.mu.Lock()
	if e.epoch != epoch {
		// Superseded while the fetch was in flight.
		e.mu.Unlock()
		return nil
	}
	for _, m := range history {
		if e.entries.has(m.ID) {
			continue
		}
		e.entries.insert(Entry{Message: m})
	}
	e.state = StateReady
	e.mu.Unlock()

	// Mark-read is fire and forget: the viewer's thread is already usable.
	go func() {
		if err := e.store.MarkConversationRead(context.WithoutCancel(ctx), e.viewerID, correspondentID); err != nil {
			e.opts.Logger.Error("mark conversation read", "correspondent", correspondentID, "error", err)
		}
	}()

	e.notify(Event{Kind: EventLoaded, Correspondent: correspondentID})
	return nil
}

// Close tears down the open conversation's subscriptions and timers.
func (e *Engine) Close() {
	e.mu.Lock()
	e.teardownLocked()
	e.epoch++
	e.correspondent = ""
	e.state = StateIdle
	e.entries = newArena()
	e.mu.Unlock()
}

func (e *Engine) teardownLocked() {
	if e.msgSub != nil {
		e.msgSub.Cancel()
		e.msgSub = nil
	}
	if e.typSub != nil {
		e.typSub.Cancel()
		e.typSub = nil
	}
	if e.idleTimer != nil {
		e.idleTimer.Stop()
		e.idleTimer = nil
	}
	if e.staleTimer != nil {
		e.staleTimer.Stop()
		e.staleTimer = nil
	}
}

// SetDealContext attaches a listing reference to subsequent sends, for
// messages composed from a deal page. Pass nil to clear.
func (e *Engine) SetDealContext(ref *data.DealRef) {
	e.mu.Lock()
	e.draftDeal = ref
	e.mu.Unlock()
}

// Send appends an optimistic entry immediately and persists it in the
// background; it never blocks on the network. On confirmation the entry is
// swapped in place for the canonical record. On failure the entry is
// removed and an EventSendFailed carries the draft back to the caller.
// There is no automatic retry.
func (e *Engine) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	e.mu.Lock()
	if e.correspondent == "" || e.state == StateIdle {
		e.mu.Unlock()
		return ErrNotOpen
	}
	epoch := e.epoch
	e.tmpSeq++
	optimistic := data.Message{
		ID:         fmt.Sprintf("tmp-%d-%d", time.Now().UnixNano(), e.tmpSeq),
		SenderID:   e.viewerID,
		ReceiverID: e.correspondent,
		Content:    text,
		CreatedAt:  time.Now().UTC(),
		Deal:       e.draftDeal,
	}
	e.entries.insert(Entry{Message: optimistic, Pending: true})
	e.pendingSends++
	e.state = StateSending
	corr := e.correspondent
	e.mu.Unlock()

	e.notify(Event{Kind: EventAppended, Correspondent: corr, Message: optimistic})

	go e.persist(ctx, epoch, optimistic, text)
	return nil
}

func (e *Engine) persist(ctx context.Context, epoch int, optimistic data.Message, draft string) {
	saved, err := e.store.Persist(context.WithoutCancel(ctx), optimistic)

	e.mu.Lock()
	if e.epoch != epoch {
		// The conversation changed under us. The optimistic entry is gone
		// with the old arena; the message itself is persisted (or not) and
		// the new conversation will see it through its own feed.
		e.mu.Unlock()
		return
	}
	e.pendingSends--
	if e.pendingSends == 0 && e.state == StateSending {
		e.state = StateReady
	}
	corr := e.correspondent

	if err != nil {
		e.entries.remove(optimistic.ID)
		e.mu.Unlock()
		e.opts.Logger.Warn("send failed", "correspondent", corr, "error", err)
		e.notify(Event{Kind: EventSendFailed, Correspondent: corr, Draft: draft, Err: err})
		return
	}

	if e.entries.has(saved.ID) {
		// The realtime echo beat the persistence response: the canonical
		// record is already in place, so the stale optimistic entry is
		// simply dropped.
		e.entries.remove(optimistic.ID)
	} else {
		e.entries.replace(optimistic.ID, saved)
	}
	e.mu.Unlock()

	e.notify(Event{Kind: EventReconciled, Correspondent: corr, Message: saved})
	if e.opts.OnSent != nil {
		e.opts.OnSent(saved)
	}
}

func (e *Engine) pumpMessages(epoch int, sub *realtime.MessageSub) {
	for ev := range sub.C {
		e.mu.Lock()
		if e.epoch != epoch {
			e.mu.Unlock()
			return
		}
		if !ev.Message.Involves(e.viewerID, e.correspondent) {
			e.mu.Unlock()
			continue
		}
		switch ev.Kind {
		case realtime.MessageInserted:
			e.applyInsertLocked(ev.Message)
		case realtime.MessageUpdated:
			e.applyUpdateLocked(ev.Message)
		}
		e.mu.Unlock()
	}
}

// applyInsertLocked applies an insert event. Re-delivery of an applied
// event is a no-op; an event for a known id patches the existing entry in
// place rather than re-inserting.
func (e *Engine) applyInsertLocked(msg data.Message) {
	corr := e.correspondent
	if e.entries.has(msg.ID) {
		e.patchLocked(msg)
		return
	}
	e.entries.insert(Entry{Message: msg})
	epoch := e.epoch
	e.mu.Unlock()
	e.notify(Event{Kind: EventAppended, Correspondent: corr, Message: msg})
	if msg.Deal != nil && msg.Deal.Title == "" && e.opts.Deals != nil {
		go e.enrichDeal(epoch, msg)
	}
	e.mu.Lock()
}

func (e *Engine) applyUpdateLocked(msg data.Message) {
	if !e.entries.has(msg.ID) {
		return
	}
	e.patchLocked(msg)
}

// patchLocked folds the event's record into the existing entry and emits
// the matching notifications. The read flag is monotonic, so a flip is
// only ever false -> true.
func (e *Engine) patchLocked(msg data.Message) {
	corr := e.correspondent
	var readFlipped, changed bool
	e.entries.patch(msg.ID, func(m *data.Message) {
		if msg.Read && !m.Read {
			m.Read = true
			readFlipped = true
		}
		if msg.Deal != nil && (m.Deal == nil || m.Deal.Title == "") {
			m.Deal = msg.Deal
			changed = true
		}
	})
	entry, _ := e.entries.get(msg.ID)
	e.mu.Unlock()
	if readFlipped {
		e.notify(Event{Kind: EventReadFlipped, Correspondent: corr, Message: entry.Message})
	} else if changed {
		e.notify(Event{Kind: EventReconciled, Correspondent: corr, Message: entry.Message})
	}
	e.mu.Lock()
}

// enrichDeal resolves a bare listing reference and patches the entry in
// place; the message is never re-inserted.
func (e *Engine) enrichDeal(epoch int, msg data.Message) {
	deal, err := e.opts.Deals.Resolve(context.Background(), msg.Deal.ID)
	if err != nil {
		e.opts.Logger.Warn("resolve deal", "deal_id", msg.Deal.ID, "error", err)
		return
	}
	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return
	}
	corr := e.correspondent
	ok := e.entries.patch(msg.ID, func(m *data.Message) {
		m.Deal = &data.DealRef{ID: deal.ID, Title: deal.Title, Slug: deal.Slug}
	})
	entry, _ := e.entries.get(msg.ID)
	e.mu.Unlock()
	if ok {
		e.notify(Event{Kind: EventReconciled, Correspondent: corr, Message: entry.Message})
	}
}

func (e *Engine) pumpTyping(epoch int, sub *realtime.TypingSub) {
	for sig := range sub.C {
		e.mu.Lock()
		if e.epoch != epoch {
			e.mu.Unlock()
			return
		}
		// Only the currently open correspondent may raise the indicator.
		if sig.UserID != e.correspondent {
			e.mu.Unlock()
			continue
		}
		changed := e.peerTyping != sig.Typing
		e.peerTyping = sig.Typing
		corr := e.correspondent
		if e.staleTimer != nil {
			e.staleTimer.Stop()
			e.staleTimer = nil
		}
		if sig.Typing {
			// A "true" with no follow-up within the stale window degrades
			// to an implicit "false".
			e.staleTimer = time.AfterFunc(e.opts.TypingStale, func() {
				e.clearStaleTyping(epoch)
			})
		}
		e.mu.Unlock()
		if changed {
			e.notify(Event{Kind: EventTyping, Correspondent: corr, Typing: sig.Typing})
		}
	}
}

func (e *Engine) clearStaleTyping(epoch int) {
	e.mu.Lock()
	if e.epoch != epoch || !e.peerTyping {
		e.mu.Unlock()
		return
	}
	e.peerTyping = false
	corr := e.correspondent
	e.mu.Unlock()
	e.notify(Event{Kind: EventTyping, Correspondent: corr, Typing: false})
}

// InputActivity records local typing activity. While input stays active an
// is-typing=true broadcast goes out at most once per rolling window; after
// the idle timeout with no further activity a debounced is-typing=false
// broadcast fires. With no messages sent, the peer sees the indicator
// appear and then disappear.
func (e *Engine) InputActivity() {
	e.mu.Lock()
	if e.correspondent == "" || e.typingLimiter == nil {
		e.mu.Unlock()
		return
	}
	corr := e.correspondent
	send := e.typingLimiter.Allow()
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.opts.TypingIdle, func() {
		e.feed.PublishTyping(corr, realtime.TypingSignal{UserID: e.viewerID, Typing: false})
	})
	e.mu.Unlock()

	if send {
		e.feed.PublishTyping(corr, realtime.TypingSignal{UserID: e.viewerID, Typing: true})
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Correspondent returns the open correspondent id, or "".
func (e *Engine) Correspondent() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.correspondent
}

// PeerTyping reports whether the correspondent's typing indicator is up.
func (e *Engine) PeerTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerTyping
}

// Entries returns the thread's entries in display order (ascending by
// creation time).
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.entries.snapshot()
}

// Sections returns the thread partitioned into date buckets for display.
func (e *Engine) Sections(now time.Time) []Section {
	return BuildSections(e.Entries(), now)
}
