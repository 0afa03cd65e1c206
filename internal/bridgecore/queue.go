// Package bridgecore implements C3: the Bridge process that joins the
// framed host-protocol channel (C1) with the line-delimited local
// socket to the Server (C2), buffering during socket outages and
// reconnecting with exponential backoff (spec §4.3).
package bridgecore

import (
	"log/slog"
	"sync"
)

// PendingQueueCap bounds the host→socket buffer (spec §4.3: 1000).
const PendingQueueCap = 1000

// pendingQueue holds records read from the host while the local socket
// is down. It peeks (not pops) before a flush write attempt, and pops
// only after the write succeeds — so a failed write leaves the record
// in place for the next attempt (spec §4.3 "peek-before-write").
type pendingQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{}
}

// Push appends a record, dropping the oldest one and logging if the
// queue is already at capacity.
func (q *pendingQueue) Push(rec []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= PendingQueueCap {
		slog.Error("bridge.pending_queue.overflow", "cap", PendingQueueCap)
		q.items = q.items[1:]
	}
	q.items = append(q.items, rec)
}

// Peek returns the oldest record without removing it, or (nil, false)
// if the queue is empty.
func (q *pendingQueue) Peek() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// Pop removes the oldest record — called only after a successful write
// of the record returned by the preceding Peek.
func (q *pendingQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return
	}
	q.items = q.items[1:]
}

// Len reports the current backlog size (diagnostics/tests).
func (q *pendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
