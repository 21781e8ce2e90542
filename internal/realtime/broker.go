package realtime

import (
	"log/slog"
	"sync"
)

// subBuffer is the per-subscription channel depth. A subscriber that falls
// this far behind starts losing events rather than blocking publishers.
const subBuffer = 64

// Broker fans message events and typing signals out to per-user
// subscriptions. It maps user ids to one or more live subscriptions so a
// user connected from several sessions receives events on all of them.
//
// Delivery is best effort: a full subscriber channel drops the event
// instead of blocking the publisher.
type Broker struct {
	mu      sync.RWMutex
	nextID  int64
	msgSubs map[string]map[int64]chan MessageEvent
	typSubs map[string]map[int64]chan TypingSignal
	logger  *slog.Logger
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		msgSubs: make(map[string]map[int64]chan MessageEvent),
		typSubs: make(map[string]map[int64]chan TypingSignal),
		logger:  logger,
	}
}

// SubscribeMessages registers a subscription for message change events
// involving the given user (as sender or receiver).
func (b *Broker) SubscribeMessages(userID string) *MessageSub {
	ch := make(chan MessageEvent, subBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if _, ok := b.msgSubs[userID]; !ok {
		b.msgSubs[userID] = make(map[int64]chan MessageEvent)
	}
	b.msgSubs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return &MessageSub{
		C: ch,
		cancel: func() {
			once.Do(func() {
				b.mu.Lock()
				if subs, ok := b.msgSubs[userID]; ok {
					delete(subs, id)
					if len(subs) == 0 {
						delete(b.msgSubs, userID)
					}
				}
				b.mu.Unlock()
				close(ch)
			})
		},
	}
}

// SubscribeTyping registers a subscription for typing signals addressed to
// the given user.
func (b *Broker) SubscribeTyping(userID string) *TypingSub {
	ch := make(chan TypingSignal, subBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if _, ok := b.typSubs[userID]; !ok {
		b.typSubs[userID] = make(map[int64]chan TypingSignal)
	}
	b.typSubs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return &TypingSub{
		C: ch,
		cancel: func() {
			once.Do(func() {
				b.mu.Lock()
				if subs, ok := b.typSubs[userID]; ok {
					delete(subs, id)
					if len(subs) == 0 {
						delete(b.typSubs, userID)
					}
				}
				b.mu.Unlock()
				close(ch)
			})
		},
	}
}

// PublishMessage delivers the event to every subscription of the sender
// and of the receiver. Both parties observe the same change feed, which is
// what lets the sender's thread reconcile its own echo and the receiver's
// inbox update its summary from a single publish.
func (b *Broker) PublishMessage(ev MessageEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := map[string]bool{}
	for _, userID := range []string{ev.Message.SenderID, ev.Message.ReceiverID} {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		for _, ch := range b.msgSubs[userID] {
			select {
			case ch <- ev:
			default:
				b.logger.Warn("dropping message event for slow subscriber",
					"user_id", userID, "message_id", ev.Message.ID)
			}
		}
	}
}

// PublishTyping delivers a typing signal to every subscription of the
// recipient.
func (b *Broker) PublishTyping(toUserID string, sig TypingSignal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.typSubs[toUserID] {
		select {
		case ch <- sig:
		default:
			// Typing signals are ephemeral; losing one is harmless.
		}
	}
}
