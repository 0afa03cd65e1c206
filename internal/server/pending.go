// Package server implements C4: the Server core — acceptor, pending
// request engine, session table, event subsystem, and tool catalogue
// surface (spec §4.4).
package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Outcome is what a pending tool call eventually resolves to.
type Outcome struct {
	Result json.RawMessage
	Err    *protocol.ToolError
}

type pendingEntry struct {
	ch    chan Outcome
	timer *time.Timer
}

// PendingRequests is the single-owner pending-request table (spec
// §4.4.2, §9 "disciplined remove-before-resolve sequence"). Mutation
// happens at exactly two events: Register (insert) and
// Resolve/CancelAll/timer-fire (remove).
type PendingRequests struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

// NewPendingRequests creates an empty table.
func NewPendingRequests() *PendingRequests {
	return &PendingRequests{entries: make(map[string]*pendingEntry)}
}

// Register arms a new pending call with the given deadline and returns
// a channel that receives exactly one Outcome — either from Resolve, a
// timer fire (protocol.ErrTimeout, message naming tool and deadline per
// spec §8 S3), or CancelAll.
func (p *PendingRequests) Register(id, tool string, deadline time.Duration) <-chan Outcome {
	ch := make(chan Outcome, 1)
	entry := &pendingEntry{ch: ch}

	p.mu.Lock()
	p.entries[id] = entry
	p.mu.Unlock()

	msg := fmt.Sprintf("Tool '%s' timed out after %dms", tool, deadline.Milliseconds())
	entry.timer = time.AfterFunc(deadline, func() {
		p.resolveInternal(id, Outcome{Err: protocol.NewToolError(protocol.ErrTimeout, msg)})
	})
	return ch
}

// Resolve completes a pending call with outcome. It is a no-op if the
// id is unknown (already resolved, timed out, or cancelled) — late
// tool_result records are dropped silently per spec §5 cancellation
// rules.
func (p *PendingRequests) Resolve(id string, outcome Outcome) {
	p.resolveInternal(id, outcome)
}

func (p *PendingRequests) resolveInternal(id string, outcome Outcome) bool {
	p.mu.Lock()
	entry, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.ch <- outcome
	return true
}

// CancelAll resolves every still-pending entry with the given error —
// used on extension-socket drop (spec §4.4.1, §5).
func (p *PendingRequests) CancelAll(code, message string) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.resolveInternal(id, Outcome{Err: protocol.NewToolError(code, message)})
	}
}

// Len reports the number of in-flight calls (diagnostics/tests).
func (p *PendingRequests) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
