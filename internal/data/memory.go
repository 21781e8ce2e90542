package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory message store with the same method set as
// MessagesStore. The engine tests run against it;
// it can also back a single-process deployment without MongoDB.
//
// OnInsert and OnUpdate, when set, are invoked for every persisted insert
// and every read-flag flip. Wiring them to a realtime broker reproduces
// the change feed the MongoDB watcher provides in production.
type MemoryStore struct {
	mu       sync.Mutex
	messages []Message
	seq      int

	OnInsert func(Message)
	OnUpdate func(Message)

	// FailPersist, when non-nil, makes the next Persist call fail with the
	// given error. Used to simulate persistence failures in tests.
	FailPersist error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Persist stores the message, assigns a server id and creation time, and
// fires OnInsert.
func (s *MemoryStore) Persist(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	if s.FailPersist != nil {
		err := s.FailPersist
		s.FailPersist = nil
		s.mu.Unlock()
		return Message{}, err
	}
	s.seq++
	msg.ID = fmt.Sprintf("m%d", s.seq)
	msg.CreatedAt = time.Now().UTC()
	msg.Read = false
	s.messages = append(s.messages, msg)
	onInsert := s.OnInsert
	s.mu.Unlock()

	if onInsert != nil {
		onInsert(msg)
	}
	return msg, nil
}

// Seed inserts a message as-is (id, timestamp and read flag preserved)
// without firing hooks. Test setup helper.
func (s *MemoryStore) Seed(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		s.seq++
		msg.ID = fmt.Sprintf("m%d", s.seq)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg
}

// History returns the conversation between two users, oldest first.
func (s *MemoryStore) History(ctx context.Context, viewerID, correspondentID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.Involves(viewerID, correspondentID) {
			out = append(out, m)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// QueryAll returns every message the viewer sent or received, oldest first.
func (s *MemoryStore) QueryAll(ctx context.Context, viewerID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for _, m := range s.messages {
		if m.SenderID == viewerID || m.ReceiverID == viewerID {
			out = append(out, m)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// MarkConversationRead flips the read flag on unread messages from the
// correspondent to the viewer and fires OnUpdate per flipped message.
func (s *MemoryStore) MarkConversationRead(ctx context.Context, viewerID, correspondentID string) error {
	return s.markRead(func(m Message) bool {
		return m.SenderID == correspondentID && m.ReceiverID == viewerID
	})
}

// MarkAllRead flips the read flag on every unread message addressed to
// the viewer.
func (s *MemoryStore) MarkAllRead(ctx context.Context, viewerID string) error {
	return s.markRead(func(m Message) bool {
		return m.ReceiverID == viewerID
	})
}

func (s *MemoryStore) markRead(match func(Message) bool) error {
	s.mu.Lock()
	var flipped []Message
	for i := range s.messages {
		if !s.messages[i].Read && match(s.messages[i]) {
			s.messages[i].Read = true
			flipped = append(flipped, s.messages[i])
		}
	}
	onUpdate := s.OnUpdate
	s.mu.Unlock()

	if onUpdate != nil {
		for _, m := range flipped {
			onUpdate(m)
		}
	}
	return nil
}

// CountUnread returns the number of unread messages addressed to the viewer.
func (s *MemoryStore) CountUnread(ctx context.Context, viewerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == viewerID && !m.Read {
			n++
		}
	}
	return n, nil
}

func sortByCreatedAt(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
