package realtime

import "sync"

// PresenceChannel is the shared channel users join to announce themselves
// online. Membership is reference counted per user so a user connected
// from two sessions stays online until both leave. Every join and leave
// publishes a fresh membership snapshot to all sync subscribers.
type PresenceChannel struct {
	mu      sync.Mutex
	nextID  int64
	members map[string]int
	subs    map[int64]chan []string
}

// NewPresenceChannel creates an empty presence channel.
func NewPresenceChannel() *PresenceChannel {
	return &PresenceChannel{
		members: make(map[string]int),
		subs:    make(map[int64]chan []string),
	}
}

// Track marks the user online and returns a leave function that must be
// called when the owning session ends.
func (p *PresenceChannel) Track(userID string) (leave func()) {
	p.mu.Lock()
	p.members[userID]++
	p.broadcastLocked()
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.members[userID]--
			if p.members[userID] <= 0 {
				delete(p.members, userID)
			}
			p.broadcastLocked()
			p.mu.Unlock()
		})
	}
}

// SubscribeSync registers for membership snapshots. The current snapshot
// is delivered immediately so new subscribers do not wait for the next
// join or leave.
func (p *PresenceChannel) SubscribeSync() *PresenceSub {
	ch := make(chan []string, subBuffer)

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs[id] = ch
	ch <- p.snapshotLocked()
	p.mu.Unlock()

	var once sync.Once
	return &PresenceSub{
		C: ch,
		cancel: func() {
			once.Do(func() {
				p.mu.Lock()
				delete(p.subs, id)
				p.mu.Unlock()
				close(ch)
			})
		},
	}
}

func (p *PresenceChannel) snapshotLocked() []string {
	out := make([]string, 0, len(p.members))
	for id := range p.members {
		out = append(out, id)
	}
	return out
}

func (p *PresenceChannel) broadcastLocked() {
	snap := p.snapshotLocked()
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
