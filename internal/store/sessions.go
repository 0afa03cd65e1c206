package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AgentGroupRecord is the persisted shape of one Worker agent tab group
// (spec §3 "Agent tab group", §6 "Persisted state").
type AgentGroupRecord struct {
	AgentID      string `json:"agentId"`
	AgentName    string `json:"agentName"`
	GroupID      string `json:"groupId"`
	Color        string `json:"color"`
	Tabs         []int  `json:"tabs"`
	Status       string `json:"status"`
	LastActivity int64  `json:"lastActivity"` // unix millis
}

// SessionStore persists and reloads agent tab-group assignments.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore wraps an already-open sqlite handle (see Open).
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Upsert writes (or replaces) one agent's persisted group state.
func (s *SessionStore) Upsert(rec AgentGroupRecord) error {
	tabsJSON, err := json.Marshal(rec.Tabs)
	if err != nil {
		return fmt.Errorf("store: marshal tabs: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agent_sessions (agent_id, agent_name, group_id, color, tabs_json, status, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			agent_name=excluded.agent_name,
			group_id=excluded.group_id,
			color=excluded.color,
			tabs_json=excluded.tabs_json,
			status=excluded.status,
			last_activity=excluded.last_activity
	`, rec.AgentID, rec.AgentName, rec.GroupID, rec.Color, string(tabsJSON), rec.Status, rec.LastActivity)
	if err != nil {
		return fmt.Errorf("store: upsert agent session: %w", err)
	}
	return nil
}

// Delete removes one agent's persisted state (called on session_close,
// spec §4.5).
func (s *SessionStore) Delete(agentID string) error {
	_, err := s.db.Exec(`DELETE FROM agent_sessions WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("store: delete agent session: %w", err)
	}
	return nil
}

// LoadAll returns every persisted agent group, reloaded at Worker start
// (spec §6).
func (s *SessionStore) LoadAll() ([]AgentGroupRecord, error) {
	rows, err := s.db.Query(`SELECT agent_id, agent_name, group_id, color, tabs_json, status, last_activity FROM agent_sessions`)
	if err != nil {
		return nil, fmt.Errorf("store: load agent sessions: %w", err)
	}
	defer rows.Close()

	var out []AgentGroupRecord
	for rows.Next() {
		var rec AgentGroupRecord
		var tabsJSON string
		if err := rows.Scan(&rec.AgentID, &rec.AgentName, &rec.GroupID, &rec.Color, &tabsJSON, &rec.Status, &rec.LastActivity); err != nil {
			return nil, fmt.Errorf("store: scan agent session: %w", err)
		}
		if err := json.Unmarshal([]byte(tabsJSON), &rec.Tabs); err != nil {
			return nil, fmt.Errorf("store: unmarshal tabs for %s: %w", rec.AgentID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// legacySessionsBlob mirrors the original flat-file shape:
// {sessions: {agentId -> record}}. DecodeSessionsBlob additionally
// tolerates {sessions: [record, ...]} for forward compatibility, per
// spec §6 "accepting both array and map shapes".
type legacySessionsBlob struct {
	Sessions json.RawMessage `json:"sessions"`
}

// DecodeSessionsBlob parses a legacy persisted-state JSON document,
// accepting either a map keyed by agentId or a bare array of records.
// Used to import state written by a predecessor process/format.
func DecodeSessionsBlob(raw []byte) ([]AgentGroupRecord, error) {
	var blob legacySessionsBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("store: decode sessions blob: %w", err)
	}
	if len(blob.Sessions) == 0 {
		return nil, nil
	}

	// Try array shape first.
	var asArray []AgentGroupRecord
	if err := json.Unmarshal(blob.Sessions, &asArray); err == nil {
		return asArray, nil
	}

	// Fall back to map shape: {agentId -> record}.
	var asMap map[string]AgentGroupRecord
	if err := json.Unmarshal(blob.Sessions, &asMap); err != nil {
		return nil, fmt.Errorf("store: sessions field is neither array nor map: %w", err)
	}
	out := make([]AgentGroupRecord, 0, len(asMap))
	for agentID, rec := range asMap {
		if rec.AgentID == "" {
			rec.AgentID = agentID
		}
		out = append(out, rec)
	}
	return out, nil
}

// NowMillis is a small helper kept alongside the store so callers don't
// need to import time separately for LastActivity stamps.
func NowMillis() int64 { return time.Now().UnixMilli() }
