package worker

import (
	"sync"
	"time"
)

// tabLock records which agent currently holds exclusive access to a
// tab for CDP-dependent tool dispatch (spec §3 "Tab lock").
type tabLock struct {
	AgentID    string
	AcquiredAt time.Time
}

// TabLocks is the `{tabId → (agentId, acquiredAt, ttl)}` table (spec
// §3). Acquire is idempotent for the holding agent (refreshes
// AcquiredAt); locks older than ttl are treated as stale and may be
// broken by any agent.
type TabLocks struct {
	mu    sync.Mutex
	locks map[int]*tabLock
	ttl   time.Duration
}

// NewTabLocks creates an empty table with the given staleness TTL.
func NewTabLocks(ttl time.Duration) *TabLocks {
	return &TabLocks{locks: make(map[int]*tabLock), ttl: ttl}
}

// Acquire attempts to take the lock on tabID for agentID. It succeeds
// if the tab is unlocked, already held by agentID (refresh), or the
// existing lock is stale.
func (t *TabLocks) Acquire(tabID int, agentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	l, ok := t.locks[tabID]
	if !ok {
		t.locks[tabID] = &tabLock{AgentID: agentID, AcquiredAt: now}
		return true
	}
	if l.AgentID == agentID {
		l.AcquiredAt = now
		return true
	}
	if now.Sub(l.AcquiredAt) > t.ttl {
		t.locks[tabID] = &tabLock{AgentID: agentID, AcquiredAt: now}
		return true
	}
	return false
}

// Release drops the lock on tabID if held by agentID.
func (t *TabLocks) Release(tabID int, agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[tabID]; ok && l.AgentID == agentID {
		delete(t.locks, tabID)
	}
}

// ReleaseAll drops every lock held by agentID — used when a session
// closes (spec §4.5 "the Worker aborts in-flight handlers belonging to
// that agent by releasing locks when their catch/finally fires").
func (t *TabLocks) ReleaseAll(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for tabID, l := range t.locks {
		if l.AgentID == agentID {
			delete(t.locks, tabID)
		}
	}
}

// HolderOf returns the current holder of tabID, if locked and fresh.
func (t *TabLocks) HolderOf(tabID int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tabID]
	if !ok {
		return "", false
	}
	if time.Since(l.AcquiredAt) > t.ttl {
		return "", false
	}
	return l.AgentID, true
}
