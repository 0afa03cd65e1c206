package bridgecore

import (
	"testing"
	"time"
)

func TestSocketLink_BackoffCapsAndGrows(t *testing.T) {
	s := newSocketLink("/tmp/does-not-matter.sock", time.Second, time.Second, time.Second, 30*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s would exceed the 30s cap
		30 * time.Second,
	}
	for i, w := range want {
		if got := s.backoff(); got != w {
			t.Fatalf("backoff() call #%d = %v, want %v", i, got, w)
		}
	}
}

func TestSocketLink_ResetRetry(t *testing.T) {
	s := newSocketLink("/tmp/does-not-matter.sock", time.Second, time.Second, time.Second, 30*time.Second)
	s.backoff()
	s.backoff()
	s.resetRetry()
	if got := s.backoff(); got != time.Second {
		t.Fatalf("backoff() after resetRetry = %v, want %v", got, time.Second)
	}
}
