package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syndexlabs/syndex-messaging/internal/data"
	"github.com/syndexlabs/syndex-messaging/internal/pins"
	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]data.Profile
	calls    int
}

func (f *fakeProfiles) Resolve(ctx context.Context, userID string) (data.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.profiles[userID]
	if !ok {
		return data.Profile{}, data.ErrNotFound
	}
	return p, nil
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (f *fakePresence) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakePresence) set(userID string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.online == nil {
		f.online = make(map[string]bool)
	}
	f.online[userID] = on
}

func newTestRig() (*data.MemoryStore, *realtime.Broker) {
	store := data.NewMemoryStore()
	broker := realtime.NewBroker(nil)
	store.OnInsert = func(m data.Message) {
		broker.PublishMessage(realtime.MessageEvent{Kind: realtime.MessageInserted, Message: m})
	}
	store.OnUpdate = func(m data.Message) {
		broker.PublishMessage(realtime.MessageEvent{Kind: realtime.MessageUpdated, Message: m})
	}
	return store, broker
}

func testProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: map[string]data.Profile{
		"bob":   {ID: "bob", DisplayName: "Bob Okafor", Role: "sponsor"},
		"carol": {ID: "carol", DisplayName: "Carol Mensah", Role: "investor"},
		"dave":  {ID: "dave", DisplayName: "Dave Lin", Role: "investor"},
	}}
}

func seedHistory(store *data.MemoryStore) {
	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	store.Seed(data.Message{SenderID: "bob", ReceiverID: "alice", Content: "first from bob", CreatedAt: base})
	store.Seed(data.Message{SenderID: "alice", ReceiverID: "bob", Content: "reply to bob", CreatedAt: base.Add(time.Minute), Read: true})
	store.Seed(data.Message{SenderID: "bob", ReceiverID: "alice", Content: "latest from bob", CreatedAt: base.Add(2 * time.Minute)})
	store.Seed(data.Message{SenderID: "carol", ReceiverID: "alice", Content: "hello from carol", CreatedAt: base.Add(3 * time.Minute), Deal: &data.DealRef{ID: "d1", Title: "Harbor Lofts", Slug: "harbor-lofts"}})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestLoadGroupsByCorrespondent(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), &fakePresence{}, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := eng.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(snap))
	}

	// Most recent activity first.
	if snap[0].CorrespondentID != "carol" || snap[1].CorrespondentID != "bob" {
		t.Fatalf("order = [%s %s], want [carol bob]", snap[0].CorrespondentID, snap[1].CorrespondentID)
	}
	if snap[0].DisplayName != "Carol Mensah" {
		t.Errorf("profile not resolved: %q", snap[0].DisplayName)
	}
	if snap[0].Deal == nil || snap[0].Deal.Slug != "harbor-lofts" {
		t.Errorf("deal context missing: %+v", snap[0].Deal)
	}
	if snap[1].LastMessage.Content != "latest from bob" {
		t.Errorf("last message = %q", snap[1].LastMessage.Content)
	}
	if snap[1].Unread != 2 {
		t.Errorf("bob unread = %d, want 2", snap[1].Unread)
	}
}

func TestTotalUnreadMatchesStore(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want, _ := store.CountUnread(context.Background(), "alice")
	if got := eng.TotalUnread(); int64(got) != want {
		t.Fatalf("TotalUnread = %d, store says %d", got, want)
	}
}

func TestIncomingMessageMovesConversationUp(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	store.Persist(context.Background(), data.Message{SenderID: "bob", ReceiverID: "alice", Content: "bump"})

	waitFor(t, "bob first", func() bool {
		snap := eng.Snapshot()
		return len(snap) == 2 && snap[0].CorrespondentID == "bob" && snap[0].Unread == 3
	})
}

func TestIncomingMessageFromNewCorrespondent(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	store.Persist(context.Background(), data.Message{SenderID: "dave", ReceiverID: "alice", Content: "new here"})

	waitFor(t, "dave conversation synthesized", func() bool {
		snap := eng.Snapshot()
		return len(snap) == 3 && snap[0].CorrespondentID == "dave" && snap[0].DisplayName == "Dave Lin" && snap[0].Unread == 1
	})
}

func TestApplyIsIdempotent(t *testing.T) {
	store, broker := newTestRig()
	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	msg := data.Message{ID: "m1", SenderID: "bob", ReceiverID: "alice", Content: "hi", CreatedAt: time.Now()}
	ev := realtime.MessageEvent{Kind: realtime.MessageInserted, Message: msg}
	eng.Apply(ev)
	eng.Apply(ev)

	if got := eng.TotalUnread(); got != 1 {
		t.Fatalf("duplicate event inflated unread: %d", got)
	}

	read := msg
	read.Read = true
	upd := realtime.MessageEvent{Kind: realtime.MessageUpdated, Message: read}
	eng.Apply(upd)
	eng.Apply(upd)
	if got := eng.TotalUnread(); got != 0 {
		t.Fatalf("unread after read updates = %d", got)
	}
}

func TestPinnedConversationsStayOnTop(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	pinStore := pins.NewMemory()
	eng := NewEngine("alice", store, testProfiles(), nil, pinStore, broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := eng.Pin(context.Background(), "bob"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}

	snap := eng.Snapshot()
	if snap[0].CorrespondentID != "bob" || !snap[0].Pinned {
		t.Fatalf("pinned conversation not first: %+v", snap[0])
	}

	// New activity in an unpinned conversation moves it to the top of its
	// own tier only.
	store.Persist(context.Background(), data.Message{SenderID: "carol", ReceiverID: "alice", Content: "still below the pin"})
	waitFor(t, "pin holds the top", func() bool {
		snap := eng.Snapshot()
		return snap[0].CorrespondentID == "bob" && snap[1].CorrespondentID == "carol"
	})

	if err := eng.Unpin(context.Background(), "bob"); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	snap = eng.Snapshot()
	if snap[0].CorrespondentID != "carol" {
		t.Fatalf("after unpin, order = %s first", snap[0].CorrespondentID)
	}
}

func TestPinsSurviveReload(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)
	pinStore := pins.NewMemory()

	eng := NewEngine("alice", store, testProfiles(), nil, pinStore, broker, nil, nil)
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := eng.Pin(context.Background(), "bob"); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	eng.Close()

	// A fresh engine over the same pin store sees the pin.
	eng2 := NewEngine("alice", store, testProfiles(), nil, pinStore, broker, nil, nil)
	defer eng2.Close()
	if err := eng2.Load(context.Background()); err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	snap := eng2.Snapshot()
	if snap[0].CorrespondentID != "bob" || !snap[0].Pinned {
		t.Fatalf("pin did not survive reload: %+v", snap[0])
	}
}

func TestMarkAllRead(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := eng.MarkAllRead(context.Background()); err != nil {
		t.Fatalf("MarkAllRead failed: %v", err)
	}
	if got := eng.TotalUnread(); got != 0 {
		t.Fatalf("unread after mark-all-read = %d", got)
	}
	if n, _ := store.CountUnread(context.Background(), "alice"); n != 0 {
		t.Fatalf("store still reports %d unread", n)
	}

	// A fresh engine over the same store reproduces the all-zero counts.
	fresh := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer fresh.Close()
	if err := fresh.Load(context.Background()); err != nil {
		t.Fatalf("fresh Load failed: %v", err)
	}
	if got := fresh.TotalUnread(); got != 0 {
		t.Fatalf("fresh engine unread = %d", got)
	}
}

type failingMarkAllStore struct {
	*data.MemoryStore
	fail bool
}

func (s *failingMarkAllStore) MarkAllRead(ctx context.Context, viewerID string) error {
	if s.fail {
		return errors.New("write concern error")
	}
	return s.MemoryStore.MarkAllRead(ctx, viewerID)
}

func TestMarkAllReadFailureRefetches(t *testing.T) {
	mem, broker := newTestRig()
	seedHistory(mem)
	store := &failingMarkAllStore{MemoryStore: mem, fail: true}

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	before := eng.TotalUnread()

	if err := eng.MarkAllRead(context.Background()); err == nil {
		t.Fatalf("expected MarkAllRead to surface the store error")
	}

	// The optimistic zeroing is rolled back by refetching true state.
	if got := eng.TotalUnread(); got != before {
		t.Fatalf("unread after failed mark-all-read = %d, want %d", got, before)
	}
}

func TestSnapshotReflectsPresence(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)
	presence := &fakePresence{}

	eng := NewEngine("alice", store, testProfiles(), presence, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	presence.set("bob", true)
	for _, c := range eng.Snapshot() {
		want := c.CorrespondentID == "bob"
		if c.Online != want {
			t.Errorf("%s online = %v, want %v", c.CorrespondentID, c.Online, want)
		}
	}

	presence.set("bob", false)
	for _, c := range eng.Snapshot() {
		if c.Online {
			t.Errorf("%s still online after presence drop", c.CorrespondentID)
		}
	}
}

func TestFilters(t *testing.T) {
	store, broker := newTestRig()
	seedHistory(store)

	eng := NewEngine("alice", store, testProfiles(), nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := eng.Filter("CAROL", FilterAll, ""); len(got) != 1 || got[0].CorrespondentID != "carol" {
		t.Errorf("name query: got %d rows", len(got))
	}
	if got := eng.Filter("", FilterUnread, ""); len(got) != 2 {
		t.Errorf("unread filter: got %d rows, want 2", len(got))
	}
	if got := eng.Filter("", FilterRole, "sponsor"); len(got) != 1 || got[0].CorrespondentID != "bob" {
		t.Errorf("role filter: got %d rows", len(got))
	}
	if got := eng.Filter("carol", FilterRole, "sponsor"); len(got) != 0 {
		t.Errorf("combined filters must intersect, got %d rows", len(got))
	}
}

func TestOfflineRecipientSeesMessageOnNextLoad(t *testing.T) {
	store, broker := newTestRig()

	// Bob is offline: nothing is subscribed for him when alice sends.
	store.Persist(context.Background(), data.Message{SenderID: "alice", ReceiverID: "bob", Content: "while you were out"})

	profiles := &fakeProfiles{profiles: map[string]data.Profile{
		"alice": {ID: "alice", DisplayName: "Alice Ngata", Role: "investor"},
	}}
	eng := NewEngine("bob", store, profiles, nil, pins.NewMemory(), broker, nil, nil)
	defer eng.Close()
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	snap := eng.Snapshot()
	if len(snap) != 1 || snap[0].Unread != 1 || snap[0].LastMessage.Content != "while you were out" {
		t.Fatalf("offline delivery snapshot = %+v", snap)
	}
}
