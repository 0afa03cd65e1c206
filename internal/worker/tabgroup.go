package worker

import (
	"sync"

	"github.com/viyv-labs/browser-bridge/internal/store"
)

// palette is the fixed set of colors assigned round-robin to new agent
// tab groups, matching the teacher's habit of a small fixed color set
// for per-agent UI grouping.
var palette = []string{"#f97316", "#22c55e", "#3b82f6", "#a855f7", "#ef4444", "#06b6d4"}

// tabGroup is one agent's exclusive set of owned tabs (spec §3 "Agent
// tab group").
type tabGroup struct {
	AgentID   string
	AgentName string
	GroupID   string
	Color     string
	Tabs      map[int]struct{}
}

// TabGroups tracks `{agentId → (groupId, agentName, color, tabs)}` and
// enforces exclusive ownership (spec §3, §4.5 TAB_ACCESS_DENIED).
type TabGroups struct {
	mu     sync.Mutex
	groups map[string]*tabGroup
	next   int
}

func NewTabGroups() *TabGroups {
	return &TabGroups{groups: make(map[string]*tabGroup)}
}

// Ensure returns the group for agentID, creating one with a freshly
// assigned color if none exists yet.
func (g *TabGroups) Ensure(agentID, agentName string) *tabGroup {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[agentID]
	if !ok {
		grp = &tabGroup{
			AgentID:   agentID,
			AgentName: agentName,
			GroupID:   agentID + "-group",
			Color:     palette[g.next%len(palette)],
			Tabs:      make(map[int]struct{}),
		}
		g.next++
		g.groups[agentID] = grp
	}
	return grp
}

// AssignTab records tabID as owned by agentID (called on open_tab).
func (g *TabGroups) AssignTab(agentID, agentName string, tabID int) {
	grp := g.Ensure(agentID, agentName)
	g.mu.Lock()
	grp.Tabs[tabID] = struct{}{}
	g.mu.Unlock()
}

// ForgetTab removes tabID from whichever group owns it (called on
// close_tab).
func (g *TabGroups) ForgetTab(tabID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, grp := range g.groups {
		delete(grp.Tabs, tabID)
	}
}

// Owns reports whether agentID owns tabID — the basis for
// TAB_ACCESS_DENIED (spec §4.5).
func (g *TabGroups) Owns(agentID string, tabID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[agentID]
	if !ok {
		return false
	}
	_, owns := grp.Tabs[tabID]
	return owns
}

// Purge removes an agent's group entirely (session_close) and returns
// the tab ids it owned, so the caller can close them.
func (g *TabGroups) Purge(agentID string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp, ok := g.groups[agentID]
	if !ok {
		return nil
	}
	tabs := make([]int, 0, len(grp.Tabs))
	for t := range grp.Tabs {
		tabs = append(tabs, t)
	}
	delete(g.groups, agentID)
	return tabs
}

// Snapshot exports every group as persistable records (spec §6).
func (g *TabGroups) Snapshot(status string, lastActivity int64) []store.AgentGroupRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]store.AgentGroupRecord, 0, len(g.groups))
	for _, grp := range g.groups {
		tabs := make([]int, 0, len(grp.Tabs))
		for t := range grp.Tabs {
			tabs = append(tabs, t)
		}
		out = append(out, store.AgentGroupRecord{
			AgentID:      grp.AgentID,
			AgentName:    grp.AgentName,
			GroupID:      grp.GroupID,
			Color:        grp.Color,
			Tabs:         tabs,
			Status:       status,
			LastActivity: lastActivity,
		})
	}
	return out
}

// Restore reinstalls a persisted group (spec §6, used at Worker start
// and on session_recovery).
func (g *TabGroups) Restore(rec store.AgentGroupRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grp := &tabGroup{
		AgentID:   rec.AgentID,
		AgentName: rec.AgentName,
		GroupID:   rec.GroupID,
		Color:     rec.Color,
		Tabs:      make(map[int]struct{}, len(rec.Tabs)),
	}
	for _, t := range rec.Tabs {
		grp.Tabs[t] = struct{}{}
	}
	g.groups[rec.AgentID] = grp
}
