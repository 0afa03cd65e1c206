package server

import (
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

func TestPendingRequests_RegisterResolve(t *testing.T) {
	p := NewPendingRequests()
	ch := p.Register("req-1", "navigate", time.Second)

	p.Resolve("req-1", Outcome{Result: []byte(`{"ok":true}`)})

	select {
	case out := <-ch:
		if out.Err != nil || string(out.Result) != `{"ok":true}` {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resolve")
	}
	if p.Len() != 0 {
		t.Fatalf("expected entry removed after resolve, Len()=%d", p.Len())
	}
}

func TestPendingRequests_ResolveUnknownIDIsNoop(t *testing.T) {
	p := NewPendingRequests()
	p.Resolve("nonexistent", Outcome{}) // must not panic
	if p.Len() != 0 {
		t.Fatalf("expected empty table, got %d", p.Len())
	}
}

func TestPendingRequests_TimeoutFiresErrTimeout(t *testing.T) {
	p := NewPendingRequests()
	ch := p.Register("req-1", "wait_for", 10*time.Millisecond)

	select {
	case out := <-ch:
		if out.Err == nil || out.Err.Code != protocol.ErrTimeout {
			t.Fatalf("expected TIMEOUT outcome, got %+v", out)
		}
		if want := "Tool 'wait_for' timed out after 10ms"; out.Err.Message != want {
			t.Fatalf("expected message %q, got %q", want, out.Err.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("expected timeout to fire")
	}
}

func TestPendingRequests_CancelAllResolvesEveryEntry(t *testing.T) {
	p := NewPendingRequests()
	ch1 := p.Register("req-1", "navigate", time.Minute)
	ch2 := p.Register("req-2", "click", time.Minute)

	p.CancelAll(protocol.ErrExtensionNotConnected, "extension disconnected")

	for _, ch := range []<-chan Outcome{ch1, ch2} {
		select {
		case out := <-ch:
			if out.Err == nil || out.Err.Code != protocol.ErrExtensionNotConnected {
				t.Fatalf("expected EXTENSION_NOT_CONNECTED, got %+v", out)
			}
		case <-time.After(time.Second):
			t.Fatal("expected cancellation to resolve the channel")
		}
	}
	if p.Len() != 0 {
		t.Fatalf("expected table empty after CancelAll, got %d", p.Len())
	}
}

func TestPendingRequests_LateResolveAfterTimeoutIsDropped(t *testing.T) {
	p := NewPendingRequests()
	p.Register("req-1", "navigate", 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// The timeout has already fired and removed the entry; a late
	// Resolve for the same id must be a silent no-op (spec §5).
	p.Resolve("req-1", Outcome{Result: []byte(`{}`)})
	if p.Len() != 0 {
		t.Fatalf("expected no entries left, got %d", p.Len())
	}
}
