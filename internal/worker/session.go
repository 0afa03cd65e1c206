package worker

import (
	"log/slog"

	"github.com/viyv-labs/browser-bridge/internal/store"
)

// SessionLifecycle wires session_close/session_recovery records to the
// Worker's in-memory tab-group/lock state and the persisted store
// (spec §4.5, §6).
type SessionLifecycle struct {
	Groups *TabGroups
	Locks  *TabLocks
	Logs   *LogRing
	Store  *store.SessionStore

	// CloseTab is invoked once per tab the agent owned, to actually
	// close it via CDP; errors are logged, not propagated, since
	// session_close must still clean up local state.
	CloseTab func(tabID int)
}

// Close handles session_close: releases every tab lock and tab-group
// entry for agentID, closes its tabs, purges its log backlog, and
// removes its persisted record (spec §4.5 "previously issued tool-calls
// for that agent may still complete" — in-flight calls are not
// cancelled here, only ownership bookkeeping).
func (s *SessionLifecycle) Close(agentID string) {
	tabs := s.Groups.Purge(agentID)
	for _, tabID := range tabs {
		s.Locks.Release(tabID, agentID)
		s.Logs.PurgeTab(tabID)
		if s.CloseTab != nil {
			s.CloseTab(tabID)
		}
	}
	s.Locks.ReleaseAll(agentID)

	if s.Store != nil {
		if err := s.Store.Delete(agentID); err != nil {
			slog.Warn("worker.session.delete_persisted_failed", "agentId", agentID, "error", err)
		}
	}
}

// Recover handles session_recovery: reloads agentID's persisted tab
// group (if any) and reinstalls it, returning whether a prior group was
// found.
func (s *SessionLifecycle) Recover(agentID string) (recovered bool, err error) {
	if s.Store == nil {
		return false, nil
	}
	records, err := s.Store.LoadAll()
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.AgentID == agentID {
			s.Groups.Restore(rec)
			return true, nil
		}
	}
	return false, nil
}

// Persist snapshots the current in-memory tab groups to the store —
// called periodically and on clean shutdown (spec §6).
func (s *SessionLifecycle) Persist(status string, nowMillis int64) {
	if s.Store == nil {
		return
	}
	for _, rec := range s.Groups.Snapshot(status, nowMillis) {
		if err := s.Store.Upsert(rec); err != nil {
			slog.Warn("worker.session.persist_failed", "agentId", rec.AgentID, "error", err)
		}
	}
}
