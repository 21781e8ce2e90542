package presence

import (
	"testing"
	"time"

	"github.com/syndexlabs/syndex-messaging/internal/realtime"
)

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

func TestTrackerSeesPeersJoinAndLeave(t *testing.T) {
	channel := realtime.NewPresenceChannel()

	alice := NewTracker(channel)
	alice.Join("alice")
	defer alice.Close()

	if alice.IsOnline("bob") {
		t.Fatalf("bob online before joining")
	}

	bob := NewTracker(channel)
	bob.Join("bob")
	waitFor(t, "bob online", func() bool { return alice.IsOnline("bob") })
	waitFor(t, "alice online from bob's side", func() bool { return bob.IsOnline("alice") })

	bob.Close()
	waitFor(t, "bob offline", func() bool { return !alice.IsOnline("bob") })
}

func TestTrackerSelfIsOnline(t *testing.T) {
	channel := realtime.NewPresenceChannel()
	tr := NewTracker(channel)
	tr.Join("alice")
	defer tr.Close()

	waitFor(t, "self online", func() bool { return tr.IsOnline("alice") })
}

func TestTrackerJoinIsIdempotent(t *testing.T) {
	channel := realtime.NewPresenceChannel()
	tr := NewTracker(channel)
	tr.Join("alice")
	tr.Join("alice")
	tr.Close()

	// A double join must not leave a stray membership behind.
	observer := NewTracker(channel)
	observer.Join("observer")
	defer observer.Close()
	time.Sleep(20 * time.Millisecond)
	if observer.IsOnline("alice") {
		t.Fatalf("closed tracker still counted online")
	}
}

func TestClosedTrackerDegradesToOffline(t *testing.T) {
	channel := realtime.NewPresenceChannel()

	bob := NewTracker(channel)
	bob.Join("bob")
	defer bob.Close()

	alice := NewTracker(channel)
	alice.Join("alice")
	waitFor(t, "bob online", func() bool { return alice.IsOnline("bob") })

	// Once the subscription is gone nothing can confirm presence, so
	// every peer reads as offline rather than frozen at the last state.
	alice.Close()
	if alice.IsOnline("bob") {
		t.Fatalf("closed tracker still reports peers online")
	}
}
