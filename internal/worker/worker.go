package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/viyv-labs/browser-bridge/internal/chunk"
	"github.com/viyv-labs/browser-bridge/internal/store"
	"github.com/viyv-labs/browser-bridge/internal/transport/framed"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Params configures a Worker's bounded resources (spec §3, §6).
type Params struct {
	TabLockTTL        time.Duration
	ScreenshotRingCap int
	LogRingPerTabCap  int
	LogRingGlobalCap  int
	EventBufferCap    int
	ResolveControlURL ControlURLFunc
	Store             *store.SessionStore
}

// DefaultParams matches the spec's bounds (§3, §4.5, §6).
func DefaultParams(resolveURL ControlURLFunc, sessionStore *store.SessionStore) Params {
	return Params{
		TabLockTTL:        60 * time.Second,
		ScreenshotRingCap: 10,
		LogRingPerTabCap:  500,
		LogRingGlobalCap:  5000,
		EventBufferCap:    256,
		ResolveControlURL: resolveURL,
		Store:             sessionStore,
	}
}

// Worker is C5: it speaks the C1 framed-record protocol over its own
// stdio (the same codec the Bridge speaks to the extension host — see
// internal/transport/framed), receiving tool_call/session_* records and
// emitting tool_result/browser_event records.
type Worker struct {
	Attach     *CDPAttach
	Locks      *TabLocks
	Groups     *TabGroups
	Tabs       *TabRegistry
	Shots      *ScreenshotRing
	Logs       *LogRing
	Events     *EventEmitter
	Dispatcher *Dispatcher
	Lifecycle  *SessionLifecycle
	Chunks     *chunk.Assembler

	outCh chan json.RawMessage
}

// New wires every Worker subsystem from params.
func New(params Params) *Worker {
	attach := NewCDPAttach(params.ResolveControlURL)
	locks := NewTabLocks(params.TabLockTTL)
	groups := NewTabGroups()
	tabs := NewTabRegistry()
	shots := NewScreenshotRing(params.ScreenshotRingCap)
	logs := NewLogRing(params.LogRingPerTabCap, params.LogRingGlobalCap)
	events := NewEventEmitter(params.EventBufferCap)

	w := &Worker{
		Attach:     attach,
		Locks:      locks,
		Groups:     groups,
		Tabs:       tabs,
		Shots:      shots,
		Logs:       logs,
		Events:     events,
		Dispatcher: NewDispatcher(attach, locks, groups, tabs, shots, logs, events),
		Lifecycle: &SessionLifecycle{
			Groups:   groups,
			Locks:    locks,
			Logs:     logs,
			Store:    params.Store,
			CloseTab: func(tabID int) { _ = tabs.Close(tabID) },
		},
		outCh: make(chan json.RawMessage, 256),
	}
	w.Chunks = chunk.NewAssembler(w.onChunkComplete, w.onChunkTimeout)

	if params.Store != nil {
		if records, err := params.Store.LoadAll(); err != nil {
			slog.Warn("worker.store.load_all_failed", "error", err)
		} else {
			for _, rec := range records {
				groups.Restore(rec)
			}
		}
	}
	return w
}

// Run reads framed records from r and writes framed records to w until
// ctx is cancelled or r reaches EOF.
func (w *Worker) Run(ctx context.Context, r io.Reader, wtr io.Writer) error {
	bufW := bufio.NewWriter(wtr)

	done := make(chan struct{})
	go framed.RunDecoder(r, func(raw []byte) {
		w.onRecord(ctx, raw)
	}, func(err error) {
		slog.Warn("worker.decode_error", "error", err)
	}, func() {
		close(done)
	})

	persistTicker := time.NewTicker(30 * time.Second)
	defer persistTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Lifecycle.Persist("stopped", protocol.NowMillis(time.Now()))
			return ctx.Err()
		case <-done:
			w.Lifecycle.Persist("stopped", protocol.NowMillis(time.Now()))
			return nil
		case <-persistTicker.C:
			w.Lifecycle.Persist("running", protocol.NowMillis(time.Now()))
		case ev := <-w.Events.Events():
			if err := framed.Write(bufW, ev); err != nil {
				slog.Warn("worker.write_failed", "error", err)
			}
		case raw := <-w.outCh:
			if err := framed.WriteRaw(bufW, raw); err != nil {
				slog.Warn("worker.write_failed", "error", err)
			}
		}
	}
}

// onRecord dispatches one decoded inbound record by its wire
// discriminant. tool_call handling runs on its own goroutine so
// concurrent calls on different tabs proceed in parallel (spec §5
// "cross-tab operations proceed in parallel"); everything else is cheap
// bookkeeping handled inline.
func (w *Worker) onRecord(ctx context.Context, raw []byte) {
	recordType, record, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("worker.record_decode_failed", "error", err)
		return
	}
	switch recordType {
	case protocol.TypeToolCall:
		call := record.(*protocol.ToolCall)
		go w.dispatchAndReply(ctx, call)
	case protocol.TypeSessionClose:
		rec := record.(*protocol.SessionRecord)
		w.Lifecycle.Close(rec.AgentID)
		w.enqueue(&protocol.SessionRecord{
			ID:        rec.ID,
			Type:      protocol.TypeSessionClose,
			AgentID:   rec.AgentID,
			Timestamp: protocol.NowMillis(time.Now()),
		})
	case protocol.TypeSessionRecovery:
		rec := record.(*protocol.SessionRecord)
		recovered, err := w.Lifecycle.Recover(rec.AgentID)
		if err != nil {
			slog.Warn("worker.session_recovery_failed", "agentId", rec.AgentID, "error", err)
		}
		w.enqueue(&protocol.SessionRecord{
			ID:        rec.ID,
			Type:      protocol.TypeSessionRecovery,
			AgentID:   rec.AgentID,
			Timestamp: protocol.NowMillis(time.Now()),
			Config:    recoveryStatusJSON(recovered),
		})
	case protocol.TypeSessionInit:
		rec := record.(*protocol.SessionRecord)
		if rec.ProtocolVersion != protocol.ProtocolVersion {
			// A mismatch is logged only; the connection stays open.
			slog.Warn("worker.protocol_version_mismatch", "peer", rec.ProtocolVersion, "local", protocol.ProtocolVersion)
		}
	case protocol.TypeChunk:
		c := record.(*protocol.Chunk)
		if _, err := w.Chunks.Feed(c); err != nil {
			slog.Warn("worker.chunk_feed_failed", "error", err)
		}
	default:
		// "" (unknown/forward-compatible) or a record type the Worker
		// never receives (tool_result, browser_event, session_heartbeat,
		// compressed): ignore.
	}
}

// dispatchAndReply runs the dispatcher (which may block on CDP I/O) and
// queues its result, splitting into chunk records first if the
// marshaled result exceeds the framed-transport cap (spec §4.2).
func (w *Worker) dispatchAndReply(ctx context.Context, call *protocol.ToolCall) {
	result := w.Dispatcher.Dispatch(ctx, call)
	body, err := json.Marshal(result)
	if err != nil {
		slog.Warn("worker.result_encode_failed", "error", err)
		return
	}
	if len(body) <= framed.MaxMessageBytes {
		w.enqueueRaw(body)
		return
	}
	chunks, err := chunk.Split(call.AgentID, body)
	if err != nil {
		slog.Warn("worker.result_chunk_failed", "error", err)
		return
	}
	for _, c := range chunks {
		w.enqueue(c)
	}
}

// onChunkComplete is called once an inbound chunk set has been
// reassembled into a whole record; it re-enters onRecord as if the
// record had arrived in one piece.
func (w *Worker) onChunkComplete(requestID string, body []byte) {
	w.onRecord(context.Background(), body)
}

func (w *Worker) onChunkTimeout(requestID string) {
	slog.Warn("worker.chunk_reassembly_timeout", "requestId", requestID)
}

func (w *Worker) enqueue(v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Warn("worker.enqueue_marshal_failed", "error", err)
		return
	}
	w.enqueueRaw(body)
}

func (w *Worker) enqueueRaw(body json.RawMessage) {
	select {
	case w.outCh <- body:
	default:
		slog.Error("worker.out_channel_overflow")
	}
}

func recoveryStatusJSON(recovered bool) json.RawMessage {
	if recovered {
		return json.RawMessage(`{"recovered":true}`)
	}
	return json.RawMessage(`{"recovered":false}`)
}
