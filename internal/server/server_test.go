package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/internal/config"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

func newTestServer() *Server {
	cfg := config.Default()
	return New(cfg)
}

func TestServer_DeadlineForWaitForUsesTimeoutPlusExtra(t *testing.T) {
	s := newTestServer()
	input, _ := json.Marshal(map[string]any{"timeout": float64(2000)})

	got := s.deadlineFor("wait_for", input)
	want := 2000*time.Millisecond + s.cfg.WaitForExtra()
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestServer_DeadlineForWaitForWithoutTimeoutFallsBackToDefault(t *testing.T) {
	s := newTestServer()
	input, _ := json.Marshal(map[string]any{})

	got := s.deadlineFor("wait_for", input)
	if got != s.cfg.ToolTimeout() {
		t.Fatalf("expected default tool timeout, got %v", got)
	}
}

func TestServer_DeadlineForOtherToolsUsesDefaultTimeout(t *testing.T) {
	s := newTestServer()
	got := s.deadlineFor("navigate", json.RawMessage(`{}`))
	if got != s.cfg.ToolTimeout() {
		t.Fatalf("expected default tool timeout for non-wait_for tools, got %v", got)
	}
}

func TestServer_DispatchWithoutLiveConnectionResolvesExtensionNotConnected(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, toolErr := s.dispatch(ctx, "agent-a", "navigate", json.RawMessage(`{"url":"https://example.com"}`))
	if toolErr == nil || toolErr.Code != protocol.ErrExtensionNotConnected {
		t.Fatalf("expected EXTENSION_NOT_CONNECTED with no live connection, got %+v", toolErr)
	}
}

func TestServer_OnExtensionRecordRoutesToolResultToPending(t *testing.T) {
	s := newTestServer()
	ch := s.Pending.Register("req-1", "navigate", time.Second)

	res := protocol.ToolResult{Type: protocol.TypeToolResult, ID: "req-1", AgentID: "agent-a", Success: true, Result: json.RawMessage(`{"ok":true}`)}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.onExtensionRecord(raw)

	select {
	case out := <-ch:
		if out.Err != nil || string(out.Result) != `{"ok":true}` {
			t.Fatalf("unexpected outcome: %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the pending call to resolve")
	}
}

func TestServer_OnExtensionRecordRoutesBrowserEventToSubscribers(t *testing.T) {
	s := newTestServer()
	delivered := make(chan Notification, 1)
	s.Events.Deliver = func(n Notification) error {
		delivered <- n
		return nil
	}
	s.Events.Subscribe(&Subscription{ID: "sub-1", AgentID: "agent-a", EventTypes: map[string]struct{}{"page_loaded": {}}})

	ev := protocol.BrowserEvent{Type: protocol.TypeBrowserEvent, ID: "ev-1", AgentID: "agent-a", EventType: "page_loaded", URL: "https://example.com"}
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.onExtensionRecord(raw)

	select {
	case n := <-delivered:
		if n.Event.ID != "ev-1" {
			t.Fatalf("unexpected event delivered: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the event to be dispatched to the subscriber")
	}
}

func TestServer_OnExtensionRecordSessionClosePurgesSubscriptions(t *testing.T) {
	s := newTestServer()
	s.Events.Subscribe(&Subscription{ID: "sub-1", AgentID: "agent-a", EventTypes: map[string]struct{}{"t": {}}})
	s.Sessions.Touch("agent-a", "Agent A")

	sr := protocol.SessionRecord{Type: protocol.TypeSessionClose, AgentID: "agent-a"}
	raw, err := json.Marshal(sr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	s.onExtensionRecord(raw)

	if len(s.Events.Snapshot()) != 0 {
		t.Fatalf("expected subscriptions purged on session_close")
	}
	if _, ok := s.Sessions.Get("agent-a"); ok {
		t.Fatalf("expected session removed on session_close")
	}
}

func TestServer_OnExtensionRecordIgnoresUndecodableInput(t *testing.T) {
	s := newTestServer()
	s.onExtensionRecord([]byte(`not json`)) // must not panic
}
