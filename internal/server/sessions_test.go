package server

import (
	"testing"
	"time"
)

func TestSessionTable_TouchCreatesAndRevives(t *testing.T) {
	table := NewSessionTable()

	s1 := table.Touch("agent-a", "Agent A")
	if s1.Status != StatusActive || s1.SessionToken == "" {
		t.Fatalf("unexpected session on creation: %+v", s1)
	}

	s2 := table.Touch("agent-a", "")
	if s2.SessionToken != s1.SessionToken {
		t.Fatalf("expected the same session token across touches, got %q vs %q", s1.SessionToken, s2.SessionToken)
	}
	if s2.AgentName != "Agent A" {
		t.Fatalf("expected agent name preserved when a later touch omits it, got %q", s2.AgentName)
	}
}

func TestSessionTable_CloseRemoves(t *testing.T) {
	table := NewSessionTable()
	table.Touch("agent-a", "Agent A")
	table.Close("agent-a")
	if _, ok := table.Get("agent-a"); ok {
		t.Fatalf("expected session removed after Close")
	}
}

func TestSessionTable_SweepPrunesIdleOnly(t *testing.T) {
	table := NewSessionTable()
	table.Touch("agent-stale", "Stale")
	table.Touch("agent-fresh", "Fresh")

	// Force agent-stale's LastActivity into the past.
	s, _ := table.Get("agent-stale")
	s.LastActivity = time.Now().Add(-time.Hour)

	pruned := table.Sweep(time.Minute)
	if len(pruned) != 1 || pruned[0] != "agent-stale" {
		t.Fatalf("expected only agent-stale pruned, got %v", pruned)
	}
	if _, ok := table.Get("agent-fresh"); !ok {
		t.Fatalf("expected agent-fresh to survive the sweep")
	}
}

func TestSessionTable_MarkIdleDoesNotTouchLastActivity(t *testing.T) {
	table := NewSessionTable()
	table.Touch("agent-a", "Agent A")
	s, _ := table.Get("agent-a")
	before := s.LastActivity

	table.MarkIdle("agent-a")
	after, _ := table.Get("agent-a")
	if after.Status != StatusIdle {
		t.Fatalf("expected status idle, got %v", after.Status)
	}
	if !after.LastActivity.Equal(before) {
		t.Fatalf("expected LastActivity unchanged by MarkIdle")
	}
}
