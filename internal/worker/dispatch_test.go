package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

func newTestDispatcher() *Dispatcher {
	return NewDispatcher(
		NewCDPAttach(nil),
		NewTabLocks(time.Minute),
		NewTabGroups(),
		NewTabRegistry(),
		NewScreenshotRing(10),
		NewLogRing(10, 10),
		NewEventEmitter(8),
	)
}

// newAttachedTestDispatcher is for cases that must get past the CDP
// attach check: the attach is marked attached directly (no real
// debugger connection available in a unit test), so the handler's own
// checks (tab registry lookup, ref resolution) are what's exercised.
func newAttachedTestDispatcher() *Dispatcher {
	d := newTestDispatcher()
	d.Attach.state = stateAttached
	return d
}

func call(agentID, tool string, input interface{}) *protocol.ToolCall {
	raw, _ := json.Marshal(input)
	return &protocol.ToolCall{ID: "req-1", Type: protocol.TypeToolCall, AgentID: agentID, Tool: tool, Input: raw}
}

func TestDispatch_UnknownTool(t *testing.T) {
	d := newTestDispatcher()
	res := d.Dispatch(context.Background(), call("agent-a", "teleport", map[string]any{}))
	if res.Success || res.Error == nil || res.Error.Code != protocol.ErrUnknownTool {
		t.Fatalf("expected UNKNOWN_TOOL, got %+v", res)
	}
}

func TestDispatch_InvalidTabID(t *testing.T) {
	d := newTestDispatcher()
	res := d.Dispatch(context.Background(), call("agent-a", "navigate", map[string]any{"tabId": -1, "url": "https://example.com"}))
	if res.Success || res.Error == nil || res.Error.Code != protocol.ErrInvalidParams {
		t.Fatalf("expected INVALID_PARAMS for a negative tabId, got %+v", res)
	}
}

func TestDispatch_TabAccessDenied(t *testing.T) {
	d := newTestDispatcher()
	d.Groups.AssignTab("agent-a", "Agent A", 1)

	res := d.Dispatch(context.Background(), call("agent-b", "list_console_logs", map[string]any{"tabId": 1}))
	if res.Success || res.Error == nil || res.Error.Code != protocol.ErrTabAccessDenied {
		t.Fatalf("expected TAB_ACCESS_DENIED for a non-owning agent, got %+v", res)
	}
}

func TestDispatch_TabLockedByAnotherAgent(t *testing.T) {
	d := newTestDispatcher()
	d.Groups.AssignTab("agent-a", "Agent A", 1)
	d.Groups.AssignTab("agent-b", "Agent B", 1) // not realistic ownership-wise, isolates the lock check

	if !d.Locks.Acquire(1, "agent-a") {
		t.Fatalf("setup: expected agent-a to acquire the lock")
	}

	res := d.Dispatch(context.Background(), call("agent-b", "click", map[string]any{"tabId": 1, "ref": "ref_1"}))
	if res.Success || res.Error == nil || res.Error.Code != protocol.ErrTabLocked {
		t.Fatalf("expected TAB_LOCKED, got %+v", res)
	}
}

func TestDispatch_EventSubscribeUnsubscribeMintAndEchoIDs(t *testing.T) {
	d := newTestDispatcher()

	subRes := d.Dispatch(context.Background(), call("agent-a", "browser_event_subscribe", map[string]any{"eventTypes": []string{"page_loaded"}}))
	if !subRes.Success {
		t.Fatalf("expected subscribe to succeed, got %+v", subRes)
	}
	var sub struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(subRes.Result, &sub); err != nil || sub.SubscriptionID == "" {
		t.Fatalf("expected a minted subscriptionId, got %s (err=%v)", subRes.Result, err)
	}

	unsubRes := d.Dispatch(context.Background(), call("agent-a", "browser_event_unsubscribe", map[string]any{"subscriptionId": sub.SubscriptionID}))
	var unsub struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(unsubRes.Result, &unsub); err != nil || unsub.SubscriptionID != sub.SubscriptionID {
		t.Fatalf("expected unsubscribe to echo the same id, got %s", unsubRes.Result)
	}
}

func TestDispatch_TabNotFoundForOwnedButUnopenedTab(t *testing.T) {
	d := newAttachedTestDispatcher()
	d.Groups.AssignTab("agent-a", "Agent A", 1)

	res := d.Dispatch(context.Background(), call("agent-a", "navigate", map[string]any{"tabId": 1, "url": "https://example.com"}))
	if res.Success || res.Error == nil || res.Error.Code != protocol.ErrTabNotFound {
		t.Fatalf("expected TAB_NOT_FOUND for an owned-but-never-opened tab, got %+v", res)
	}
}
