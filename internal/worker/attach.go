package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
)

// attachState is one point in the CDP attach lifecycle (spec §4.5,
// §9 "DETACHED→ATTACHING→ATTACHED(cmd_count)").
type attachState int

const (
	stateDetached attachState = iota
	stateAttaching
	stateAttached
)

// idleDetachTimeout is how long the debugger attach is kept warm after
// its last command before it is released.
const idleDetachTimeout = 5 * time.Second

// ControlURLFunc resolves the CDP websocket debugger URL to attach to.
// Concrete discovery (e.g. querying a local Chrome's /json/version
// endpoint) lives in cmd/worker; this package only needs the URL.
type ControlURLFunc func(ctx context.Context) (string, error)

// CDPAttach manages exactly one rod.Browser debugger connection shared
// across every tab this Worker process drives. Concurrent
// ensure_attached calls observe and wait on the same in-flight future
// (spec §9 "concurrent ensure_attached calls must share one in-flight
// attach future") rather than racing to dial twice.
type CDPAttach struct {
	mu      sync.Mutex
	state   attachState
	browser *rod.Browser
	err     error
	future  chan struct{}

	activeCmds    int
	detachPending bool
	idleTimer     *time.Timer

	resolveURL ControlURLFunc
}

// NewCDPAttach creates an attach manager that resolves its debugger
// target via resolveURL on demand.
func NewCDPAttach(resolveURL ControlURLFunc) *CDPAttach {
	return &CDPAttach{resolveURL: resolveURL}
}

// EnsureAttached attaches if detached, waits for an in-flight attach if
// one is already underway, or is a no-op if already attached.
func (a *CDPAttach) EnsureAttached(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case stateAttached:
		a.cancelIdleTimerLocked()
		a.mu.Unlock()
		return nil
	case stateAttaching:
		fut := a.future
		a.mu.Unlock()
		select {
		case <-fut:
		case <-ctx.Done():
			return ctx.Err()
		}
		a.mu.Lock()
		err := a.err
		a.mu.Unlock()
		return err
	default:
		fut := make(chan struct{})
		a.future = fut
		a.state = stateAttaching
		a.mu.Unlock()

		browser, err := a.dial(ctx)

		a.mu.Lock()
		a.err = err
		if err == nil {
			a.browser = browser
			a.state = stateAttached
			slog.Info("worker.cdp.attached")
		} else {
			a.state = stateDetached
			slog.Warn("worker.cdp.attach_failed", "error", err)
		}
		close(fut)
		a.mu.Unlock()
		return err
	}
}

func (a *CDPAttach) dial(ctx context.Context) (*rod.Browser, error) {
	url, err := a.resolveURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("worker: resolve CDP control url: %w", err)
	}
	browser := rod.New().Context(ctx).ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("worker: connect CDP: %w", err)
	}
	return browser, nil
}

// Browser returns the attached rod.Browser, if any.
func (a *CDPAttach) Browser() (*rod.Browser, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.browser, a.state == stateAttached
}

// AcquireCmd marks one CDP command as in flight, cancelling any pending
// idle-detach while it runs.
func (a *CDPAttach) AcquireCmd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.activeCmds++
	a.cancelIdleTimerLocked()
}

// ReleaseCmd marks one CDP command as finished. If a detach was
// deferred while commands were in flight, it runs now that the last
// one has finished; otherwise the idle-detach timer is (re)armed (spec
// §9 "deferred detach while busy").
func (a *CDPAttach) ReleaseCmd() {
	a.mu.Lock()
	if a.activeCmds > 0 {
		a.activeCmds--
	}
	if a.activeCmds > 0 {
		a.mu.Unlock()
		return
	}
	if a.detachPending {
		a.detachPending = false
		a.mu.Unlock()
		a.Detach()
		return
	}
	a.armIdleTimerLocked()
	a.mu.Unlock()
}

func (a *CDPAttach) armIdleTimerLocked() {
	a.cancelIdleTimerLocked()
	a.idleTimer = time.AfterFunc(idleDetachTimeout, a.Detach)
}

func (a *CDPAttach) cancelIdleTimerLocked() {
	if a.idleTimer != nil {
		a.idleTimer.Stop()
		a.idleTimer = nil
	}
}

// Detach closes the debugger connection, unless a command is currently
// in flight — in that case the detach is deferred until ReleaseCmd
// observes an empty queue (spec §9).
func (a *CDPAttach) Detach() {
	a.mu.Lock()
	if a.state != stateAttached {
		a.mu.Unlock()
		return
	}
	if a.activeCmds > 0 {
		a.detachPending = true
		a.mu.Unlock()
		return
	}
	browser := a.browser
	a.browser = nil
	a.state = stateDetached
	a.cancelIdleTimerLocked()
	a.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			slog.Warn("worker.cdp.detach_close_failed", "error", err)
		}
	}
	slog.Info("worker.cdp.detached")
}
