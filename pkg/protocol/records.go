package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record type discriminants (spec §3).
const (
	TypeToolCall        = "tool_call"
	TypeToolResult      = "tool_result"
	TypeBrowserEvent    = "browser_event"
	TypeSessionInit     = "session_init"
	TypeSessionHeartbeat = "session_heartbeat"
	TypeSessionRecovery = "session_recovery"
	TypeSessionClose    = "session_close"
	TypeChunk           = "chunk"
	TypeCompressed      = "compressed"
)

// envelope is used to peek the discriminant before unmarshaling into a
// concrete record type.
type envelope struct {
	Type string `json:"type"`
}

// ToolCall is sent Server/Client-side → Worker, asking it to invoke a
// named browser-control action.
type ToolCall struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	AgentID   string          `json:"agentId"`
	Tool      string          `json:"tool"`
	Input     json.RawMessage `json:"input,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ToolResult answers a prior ToolCall by identical id (spec invariant §3).
type ToolResult struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	AgentID   string          `json:"agentId"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ToolError      `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// BrowserEvent is emitted by the Worker on its own timeline, unsolicited.
type BrowserEvent struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	AgentID        string          `json:"agentId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	TabID          int             `json:"tabId"`
	URL            string          `json:"url"`
	Timestamp      int64           `json:"timestamp"`
	SequenceNumber uint64          `json:"sequenceNumber"`
}

// SessionRecord covers session_init | session_heartbeat | session_recovery |
// session_close — they share one shape on the wire, discriminated by Type.
type SessionRecord struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	AgentID         string          `json:"agentId"`
	ProtocolVersion int             `json:"protocolVersion,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
	Timestamp       int64           `json:"timestamp"`
}

// Chunk is one fragment of a record whose serialized size exceeds the
// framed-transport cap (spec §4.2, §6).
type Chunk struct {
	Type         string          `json:"type"`
	RequestID    string          `json:"requestId"`
	AgentID      string          `json:"agentId"`
	ChunkIndex   int             `json:"chunkIndex"`
	TotalChunks  int             `json:"totalChunks"`
	TotalSize    int             `json:"totalSize"`
	Compressed   bool            `json:"compressed"`
	Data         json.RawMessage `json:"data"`
}

// Compressed is the C2-only gzip envelope.
type Compressed struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Decode inspects the "type" discriminant of raw and unmarshals into the
// matching concrete record type. An unrecognized type returns (nil, nil, nil)
// — per spec §9 "any unknown type must be silently ignored" (forward
// compatibility), not an error.
func Decode(raw []byte) (recordType string, record interface{}, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: peek type: %w", err)
	}

	switch env.Type {
	case TypeToolCall:
		var v ToolCall
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	case TypeToolResult:
		var v ToolResult
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	case TypeBrowserEvent:
		var v BrowserEvent
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	case TypeSessionInit, TypeSessionHeartbeat, TypeSessionRecovery, TypeSessionClose:
		var v SessionRecord
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	case TypeChunk:
		var v Chunk
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	case TypeCompressed:
		var v Compressed
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", nil, err
		}
		return env.Type, &v, nil
	default:
		return "", nil, nil // unknown type: forward-compatible no-op
	}
}

// NowMillis is the timestamp unit used across every record (unix millis).
func NowMillis(t time.Time) int64 { return t.UnixMilli() }
