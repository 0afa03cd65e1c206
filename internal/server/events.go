package server

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Subscription is one entry of the authoritative subscription table the
// Server keeps (spec §3 "Event subscription", §9 "single authoritative
// table in the server").
type Subscription struct {
	ID         string
	AgentID    string
	EventTypes map[string]struct{}
	URLPattern string
	CreatedAt  time.Time
}

// Notification is what a matching subscriber receives — a client-facing
// mirror of the browser_event that triggered it.
type Notification struct {
	SubscriptionID string
	Event          *protocol.BrowserEvent
}

// EventSubsystem fans browser_event records out to matching
// subscriptions (spec §4.4.5). Per-agent emission is rate-bounded
// (SPEC_FULL.md §C.1); a bound breach is logged, never silently
// dropped.
type EventSubsystem struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	limiters map[string]*rate.Limiter

	ratePerSecond float64
	burst         int

	// Deliver sends a notification to the client-facing channel for one
	// subscriber. Send failures are swallowed by the caller (spec
	// §4.4.5) — Deliver should not panic on a closed channel, only
	// return an error the subsystem logs and discards.
	Deliver func(notification Notification) error
}

// NewEventSubsystem creates a subsystem with the given per-agent token
// bucket parameters.
func NewEventSubsystem(ratePerSecond float64, burst int) *EventSubsystem {
	return &EventSubsystem{
		subs:          make(map[string]*Subscription),
		limiters:      make(map[string]*rate.Limiter),
		ratePerSecond: ratePerSecond,
		burst:         burst,
	}
}

// Subscribe installs a subscription, mirroring a successful
// browser_event_subscribe tool-result (spec §4.4.6 "subscription
// syncing" — the Worker mints the id, the Server mirrors it here).
func (e *EventSubsystem) Subscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[sub.ID] = sub
}

// Unsubscribe removes a subscription, mirroring a successful
// browser_event_unsubscribe tool-result.
func (e *EventSubsystem) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
}

// PurgeAgent clears every subscription belonging to agentID — called on
// session_close (spec §4.4.3).
func (e *EventSubsystem) PurgeAgent(agentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, sub := range e.subs {
		if sub.AgentID == agentID {
			delete(e.subs, id)
		}
	}
	delete(e.limiters, agentID)
}

// Dispatch delivers ev to every matching subscription (spec §4.4.5,
// §8 property 8): same agentId, eventType in subscription.EventTypes,
// and — if URLPattern is set — ev.URL contains it as a substring.
func (e *EventSubsystem) Dispatch(ev *protocol.BrowserEvent) {
	if !e.allow(ev.AgentID) {
		slog.Warn("server.event.rate_limited", "agentId", ev.AgentID, "eventType", ev.EventType)
		return
	}

	e.mu.Lock()
	var matches []*Subscription
	for _, sub := range e.subs {
		if sub.AgentID != ev.AgentID {
			continue
		}
		if _, ok := sub.EventTypes[ev.EventType]; !ok {
			continue
		}
		if sub.URLPattern != "" && !strings.Contains(ev.URL, sub.URLPattern) {
			continue
		}
		matches = append(matches, sub)
	}
	e.mu.Unlock()

	for _, sub := range matches {
		if e.Deliver == nil {
			continue
		}
		if err := e.Deliver(Notification{SubscriptionID: sub.ID, Event: ev}); err != nil {
			slog.Debug("server.event.deliver_failed", "subscriptionId", sub.ID, "error", err)
		}
	}
}

func (e *EventSubsystem) allow(agentID string) bool {
	e.mu.Lock()
	lim, ok := e.limiters[agentID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(e.ratePerSecond), e.burst)
		e.limiters[agentID] = lim
	}
	e.mu.Unlock()
	return lim.Allow()
}

// Snapshot returns a copy of current subscriptions (diagnostics).
func (e *EventSubsystem) Snapshot() []Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, *s)
	}
	return out
}
