// Package presence tracks which users are currently online via the shared
// presence channel.
package presence

import (
	"sync"

	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

// Tracker follows the presence channel's sync snapshots for one session.
// It answers IsOnline from the last synchronized membership set; once the
// tracker is closed (or before Join) every peer reads as offline. Online
// status is only ever confirmed by a sync event, never fabricated.
type Tracker struct {
	channel *realtime.PresenceChannel

	mu     sync.RWMutex
	online map[string]bool
	joined bool

	sub   *realtime.PresenceSub
	leave func()
	done  chan struct{}
}

// NewTracker returns a tracker bound to the given presence channel.
func NewTracker(channel *realtime.PresenceChannel) *Tracker {
	return &Tracker{channel: channel, online: make(map[string]bool)}
}

// Join marks the caller online on the shared channel and starts following
// membership sync events. Calling Join twice is a no-op.
func (t *Tracker) Join(selfID string) {
	t.mu.Lock()
	if t.joined {
		t.mu.Unlock()
		return
	}
	t.joined = true
	t.leave = t.channel.Track(selfID)
	t.sub = t.channel.SubscribeSync()
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.follow()
}

func (t *Tracker) follow() {
	defer close(t.done)
	for snapshot := range t.sub.C {
		next := make(map[string]bool, len(snapshot))
		for _, id := range snapshot {
			next[id] = true
		}
		t.mu.Lock()
		t.online = next
		t.mu.Unlock()
	}
	// Channel closed: the subscription is gone, so nothing can confirm a
	// peer is still online. Degrade everyone to offline.
	t.mu.Lock()
	t.online = make(map[string]bool)
	t.mu.Unlock()
}

// IsOnline reports whether the user was present in the last synchronized
// membership set.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// Close leaves the channel and cancels the sync subscription. After Close
// returns, IsOnline reports false for everyone.
func (t *Tracker) Close() {
	t.mu.Lock()
	if !t.joined {
		t.mu.Unlock()
		return
	}
	sub, leave, done := t.sub, t.leave, t.done
	t.mu.Unlock()

	leave()
	sub.Cancel()
	<-done
}
