package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates an agent session's lifecycle state (spec §3).
type SessionStatus string

const (
	StatusActive       SessionStatus = "active"
	StatusIdle         SessionStatus = "idle"
	StatusDisconnected SessionStatus = "disconnected"
)

// AgentSession is the in-memory record the Server keeps per agentId.
type AgentSession struct {
	AgentID      string
	SessionToken string
	AgentName    string
	Status       SessionStatus
	LastActivity time.Time
	CreatedAt    time.Time
}

// SessionTable keyed by agentId (spec §4.4.3).
type SessionTable struct {
	mu           sync.Mutex
	sessions     map[string]*AgentSession
	lastHeartbeat time.Time
}

// NewSessionTable creates an empty table.
func NewSessionTable() *SessionTable {
	return &SessionTable{sessions: make(map[string]*AgentSession)}
}

// Touch creates or revives a session and stamps LastActivity — called
// on every inbound record bearing an agentId (spec §3 "Agent session").
func (t *SessionTable) Touch(agentID, agentName string) *AgentSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[agentID]
	if !ok {
		s = &AgentSession{
			AgentID:      agentID,
			SessionToken: uuid.NewString(),
			AgentName:    agentName,
			Status:       StatusActive,
			CreatedAt:    time.Now(),
		}
		t.sessions[agentID] = s
	}
	if agentName != "" {
		s.AgentName = agentName
	}
	s.Status = StatusActive
	s.LastActivity = time.Now()
	return s
}

// Heartbeat touches the session and records the global heartbeat
// timestamp (spec §4.4.3).
func (t *SessionTable) Heartbeat(agentID string) {
	t.Touch(agentID, "")
	t.mu.Lock()
	t.lastHeartbeat = time.Now()
	t.mu.Unlock()
}

// Close removes a session (spec §4.4.3, called on session_close).
func (t *SessionTable) Close(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, agentID)
}

// Get returns the session for agentID, if any.
func (t *SessionTable) Get(agentID string) (*AgentSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[agentID]
	return s, ok
}

// MarkIdle sets a session's status to idle without touching
// LastActivity (used when the extension socket drops but the session
// itself is not yet pruned).
func (t *SessionTable) MarkIdle(agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[agentID]; ok {
		s.Status = StatusIdle
	}
}

// Sweep removes every session idle for longer than ttl and returns the
// pruned agentIds (spec §4.4.3: "every 60s, a sweeper prunes entries
// idle for more than 5 min").
func (t *SessionTable) Sweep(ttl time.Duration) []string {
	t.mu.Lock()
	now := time.Now()
	var pruned []string
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > ttl {
			pruned = append(pruned, id)
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()
	return pruned
}

// RunSweeper blocks until stop is closed, pruning idle sessions on
// every tick and invoking onPrune for each one (used to cascade into
// the event subsystem, per spec §4.4.3).
func (t *SessionTable) RunSweeper(period, ttl time.Duration, onPrune func(agentID string), stop <-chan struct{}) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, id := range t.Sweep(ttl) {
				slog.Info("server.session.pruned", "agentId", id)
				if onPrune != nil {
					onPrune(id)
				}
			}
		}
	}
}

// Snapshot returns a copy of all current sessions (diagnostics).
func (t *SessionTable) Snapshot() []AgentSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]AgentSession, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	return out
}
