package middleware

import (
	"testing"
	"time"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	s := NewLimiterStore(60, 3, time.Minute)
	defer s.Stop()

	for i := 0; i < 3; i++ {
		if !s.Allow("alice") {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if s.Allow("alice") {
		t.Fatalf("request beyond burst allowed")
	}
}

func TestLimiterIsolatesKeys(t *testing.T) {
	s := NewLimiterStore(60, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("alice") {
		t.Fatalf("first request for alice denied")
	}
	if s.Allow("alice") {
		t.Fatalf("second request for alice allowed")
	}
	if !s.Allow("bob") {
		t.Fatalf("alice's usage throttled bob")
	}
}

func TestLimiterRefills(t *testing.T) {
	// 1200 per minute refills a token every 50ms.
	s := NewLimiterStore(1200, 1, time.Minute)
	defer s.Stop()

	if !s.Allow("alice") {
		t.Fatalf("first request denied")
	}
	if s.Allow("alice") {
		t.Fatalf("request allowed before refill")
	}
	time.Sleep(60 * time.Millisecond)
	if !s.Allow("alice") {
		t.Fatalf("request denied after refill window")
	}
}

func TestLimiterDefaultsNonPositiveRate(t *testing.T) {
	s := NewLimiterStore(0, 1, time.Minute)
	defer s.Stop()
	if !s.Allow("alice") {
		t.Fatalf("defaulted limiter denied the first request")
	}
}
