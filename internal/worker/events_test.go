package worker

import "testing"

func TestEventEmitter_SequenceNumbersIncrement(t *testing.T) {
	emitter := NewEventEmitter(8)
	emitter.Emit("agent-a", "page_loaded", 1, "https://example.com", nil, 1000)
	emitter.Emit("agent-a", "page_loaded", 1, "https://example.com/2", nil, 1001)

	first := <-emitter.Events()
	second := <-emitter.Events()

	if first.SequenceNumber == 0 || second.SequenceNumber != first.SequenceNumber+1 {
		t.Fatalf("expected strictly increasing sequence numbers, got %d then %d", first.SequenceNumber, second.SequenceNumber)
	}
	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Fatalf("expected distinct non-empty event ids")
	}
}

func TestEventEmitter_DropsOldestWhenSaturated(t *testing.T) {
	emitter := NewEventEmitter(1)
	emitter.Emit("agent-a", "t1", 1, "", nil, 1)
	emitter.Emit("agent-a", "t2", 1, "", nil, 2)

	ev := <-emitter.Events()
	if ev.EventType != "t2" {
		t.Fatalf("expected the newest event to survive saturation, got %q", ev.EventType)
	}
}
