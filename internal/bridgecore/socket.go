package bridgecore

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// socketLink owns the Bridge's one outbound connection to the Server's
// local socket (C2) and its reconnect/backoff state (spec §4.3).
type socketLink struct {
	path         string
	pollInterval time.Duration
	waitTimeout  time.Duration
	minBackoff   time.Duration
	maxBackoff   time.Duration

	retry uint
}

func newSocketLink(path string, pollInterval, waitTimeout, minBackoff, maxBackoff time.Duration) *socketLink {
	return &socketLink{
		path:         path,
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
		minBackoff:   minBackoff,
		maxBackoff:   maxBackoff,
	}
}

// dialInitial polls for the socket's existence every pollInterval, up
// to waitTimeout, returning an error once that deadline passes (spec
// §6 "absence after 120s is fatal").
func (s *socketLink) dialInitial(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(s.waitTimeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		conn, err := net.Dial("unix", s.path)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("bridgecore: socket %s not available after %s: %w", s.path, s.waitTimeout, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// backoff returns the current wait and advances retry, capping at
// maxBackoff (spec §4.3: min(1s·2^retry, 30s)).
func (s *socketLink) backoff() time.Duration {
	wait := s.minBackoff << s.retry
	if wait > s.maxBackoff || wait <= 0 {
		wait = s.maxBackoff
	}
	s.retry++
	return wait
}

// resetRetry is called on receipt of the first record after a connect
// — not on connect alone — to distinguish a sustained connection from a
// transient accept (spec §4.3).
func (s *socketLink) resetRetry() {
	s.retry = 0
}

func (s *socketLink) reconnect(ctx context.Context) (net.Conn, error) {
	wait := s.backoff()
	slog.Info("bridge.reconnect", "wait", wait, "path", s.path)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	return net.Dial("unix", s.path)
}
