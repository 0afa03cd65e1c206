package worker

import (
	"encoding/json"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// EventEmitter mints sequence-numbered browser_event records on the
// Worker's own timeline, independent of any tool call (spec §3
// BrowserEvent.sequenceNumber).
type EventEmitter struct {
	seq atomic.Uint64
	out chan *protocol.BrowserEvent
}

func NewEventEmitter(buffer int) *EventEmitter {
	return &EventEmitter{out: make(chan *protocol.BrowserEvent, buffer)}
}

// Emit constructs and queues a browser_event for delivery upstream.
func (e *EventEmitter) Emit(agentID, eventType string, tabID int, url string, payload interface{}, now int64) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	ev := &protocol.BrowserEvent{
		ID:             uuid.NewString(),
		Type:           protocol.TypeBrowserEvent,
		AgentID:        agentID,
		EventType:      eventType,
		Payload:        raw,
		TabID:          tabID,
		URL:            url,
		Timestamp:      now,
		SequenceNumber: e.seq.Add(1),
	}
	select {
	case e.out <- ev:
	default:
		// Outbound buffer saturated: drop the oldest in favor of the
		// newest rather than blocking the dispatcher.
		select {
		case <-e.out:
		default:
		}
		e.out <- ev
	}
}

// Events exposes the outbound channel for the Worker's send loop.
func (e *EventEmitter) Events() <-chan *protocol.BrowserEvent {
	return e.out
}
