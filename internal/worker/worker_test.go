package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

func TestNew_WiresAllSubsystems(t *testing.T) {
	w := New(DefaultParams(nil, nil))
	if w.Attach == nil || w.Locks == nil || w.Groups == nil || w.Tabs == nil ||
		w.Shots == nil || w.Logs == nil || w.Events == nil || w.Dispatcher == nil ||
		w.Lifecycle == nil || w.Chunks == nil {
		t.Fatalf("expected every subsystem wired, got %+v", w)
	}
}

func TestDefaultParams_MatchesSpecBounds(t *testing.T) {
	p := DefaultParams(nil, nil)
	if p.TabLockTTL != 60*time.Second {
		t.Fatalf("unexpected TabLockTTL: %v", p.TabLockTTL)
	}
	if p.ScreenshotRingCap != 10 || p.LogRingPerTabCap != 500 || p.LogRingGlobalCap != 5000 || p.EventBufferCap != 256 {
		t.Fatalf("unexpected default caps: %+v", p)
	}
}

func TestWorker_OnRecordToolCallDispatchesAndEnqueuesResult(t *testing.T) {
	w := New(DefaultParams(nil, nil))
	raw, _ := json.Marshal(&protocol.ToolCall{Type: protocol.TypeToolCall, ID: "req-1", AgentID: "agent-a", Tool: "nonexistent_tool"})

	w.onRecord(context.Background(), raw)

	select {
	case body := <-w.outCh:
		var res protocol.ToolResult
		if err := json.Unmarshal(body, &res); err != nil {
			t.Fatalf("unmarshal enqueued result: %v", err)
		}
		if res.Success || res.Error == nil || res.Error.Code != protocol.ErrUnknownTool {
			t.Fatalf("expected an UNKNOWN_TOOL result, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a result enqueued for the tool call")
	}
}

func TestWorker_OnRecordSessionRecoveryWithoutStoreReturnsNotRecovered(t *testing.T) {
	w := New(DefaultParams(nil, nil))
	raw, _ := json.Marshal(&protocol.SessionRecord{Type: protocol.TypeSessionRecovery, ID: "req-1", AgentID: "agent-a"})

	w.onRecord(context.Background(), raw)

	select {
	case body := <-w.outCh:
		var sr protocol.SessionRecord
		if err := json.Unmarshal(body, &sr); err != nil {
			t.Fatalf("unmarshal enqueued record: %v", err)
		}
		var cfg struct {
			Recovered bool `json:"recovered"`
		}
		if err := json.Unmarshal(sr.Config, &cfg); err != nil {
			t.Fatalf("unmarshal config: %v", err)
		}
		if cfg.Recovered {
			t.Fatalf("expected recovered=false with no store configured")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a session_recovery reply enqueued")
	}
}

func TestWorker_OnRecordSessionCloseReleasesState(t *testing.T) {
	w := New(DefaultParams(nil, nil))
	w.Groups.AssignTab("agent-a", "Agent A", 1)

	raw, _ := json.Marshal(&protocol.SessionRecord{ID: "req-1", Type: protocol.TypeSessionClose, AgentID: "agent-a"})
	w.onRecord(context.Background(), raw)

	if w.Groups.Owns("agent-a", 1) {
		t.Fatalf("expected agent-a's tab ownership released on session_close")
	}

	select {
	case body := <-w.outCh:
		var rec protocol.SessionRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			t.Fatalf("unmarshal reply: %v", err)
		}
		if rec.ID != "req-1" || rec.Type != protocol.TypeSessionClose || rec.AgentID != "agent-a" {
			t.Fatalf("expected session_close ack for req-1/agent-a, got %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected session_close acknowledgement enqueued")
	}
}

func TestWorker_OnRecordUnknownTypeIsNoop(t *testing.T) {
	w := New(DefaultParams(nil, nil))
	w.onRecord(context.Background(), []byte(`{"type":"tool_result"}`)) // a type the worker never receives
	select {
	case body := <-w.outCh:
		t.Fatalf("expected no output enqueued, got %s", body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecoveryStatusJSON(t *testing.T) {
	var cfg struct {
		Recovered bool `json:"recovered"`
	}
	if err := json.Unmarshal(recoveryStatusJSON(true), &cfg); err != nil || !cfg.Recovered {
		t.Fatalf("expected recovered=true, got %s (err=%v)", recoveryStatusJSON(true), err)
	}
	if err := json.Unmarshal(recoveryStatusJSON(false), &cfg); err != nil || cfg.Recovered {
		t.Fatalf("expected recovered=false, got %s (err=%v)", recoveryStatusJSON(false), err)
	}
}
