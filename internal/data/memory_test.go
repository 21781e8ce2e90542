package data

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryPersistAssignsServerFields(t *testing.T) {
	s := NewMemoryStore()
	saved, err := s.Persist(context.Background(), Message{ID: "tmp-1-1", SenderID: "alice", ReceiverID: "bob", Content: "hi", Read: true})
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if saved.ID == "tmp-1-1" || saved.ID == "" {
		t.Errorf("id = %q, want a server-assigned one", saved.ID)
	}
	if saved.Read {
		t.Errorf("new message must start unread")
	}
	if saved.CreatedAt.IsZero() {
		t.Errorf("CreatedAt not assigned")
	}
}

func TestMemoryHistoryIsBidirectional(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	s.Seed(Message{SenderID: "alice", ReceiverID: "bob", Content: "one", CreatedAt: base})
	s.Seed(Message{SenderID: "bob", ReceiverID: "alice", Content: "two", CreatedAt: base.Add(time.Minute)})
	s.Seed(Message{SenderID: "carol", ReceiverID: "alice", Content: "other", CreatedAt: base.Add(2 * time.Minute)})

	history, err := s.History(context.Background(), "alice", "bob")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "one" || history[1].Content != "two" {
		t.Fatalf("history order = [%s %s]", history[0].Content, history[1].Content)
	}
}

func TestMemoryHooksFire(t *testing.T) {
	s := NewMemoryStore()
	var inserts, updates []Message
	s.OnInsert = func(m Message) { inserts = append(inserts, m) }
	s.OnUpdate = func(m Message) { updates = append(updates, m) }

	if _, err := s.Persist(context.Background(), Message{SenderID: "bob", ReceiverID: "alice", Content: "hi"}); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if len(inserts) != 1 {
		t.Fatalf("OnInsert fired %d times", len(inserts))
	}

	if err := s.MarkConversationRead(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("MarkConversationRead failed: %v", err)
	}
	if len(updates) != 1 || !updates[0].Read {
		t.Fatalf("OnUpdate = %+v", updates)
	}

	// Already-read messages do not fire again.
	if err := s.MarkConversationRead(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("second MarkConversationRead failed: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("OnUpdate fired for an already-read message")
	}
}

func TestMemoryFailPersistOnce(t *testing.T) {
	s := NewMemoryStore()
	s.FailPersist = errors.New("boom")

	if _, err := s.Persist(context.Background(), Message{SenderID: "a", ReceiverID: "b", Content: "x"}); err == nil {
		t.Fatalf("expected injected failure")
	}
	if _, err := s.Persist(context.Background(), Message{SenderID: "a", ReceiverID: "b", Content: "x"}); err != nil {
		t.Fatalf("failure injection must be one-shot: %v", err)
	}
}

func TestCorrespondentOf(t *testing.T) {
	m := Message{SenderID: "alice", ReceiverID: "bob"}
	if got := m.CorrespondentOf("alice"); got != "bob" {
		t.Errorf("CorrespondentOf(alice) = %q", got)
	}
	if got := m.CorrespondentOf("bob"); got != "alice" {
		t.Errorf("CorrespondentOf(bob) = %q", got)
	}
	if !m.Involves("bob", "alice") || m.Involves("alice", "carol") {
		t.Errorf("Involves misclassified the pair")
	}
}
