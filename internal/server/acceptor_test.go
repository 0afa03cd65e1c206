package server

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// drainLines continuously scans lines off conn until it closes, appending
// each to the returned slice (guarded by the returned mutex).
func drainLines(conn net.Conn) (*sync.Mutex, *[]string) {
	var mu sync.Mutex
	lines := make([]string, 0)
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			mu.Lock()
			lines = append(lines, scanner.Text())
			mu.Unlock()
		}
	}()
	return &mu, &lines
}

func TestAcceptor_AcceptPushesSessionInit(t *testing.T) {
	a := NewAcceptor(NewPendingRequests(), "default")
	server, client := net.Pipe()
	mu, lines := drainLines(client)

	go a.Accept(server)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*lines) >= 1
	})

	mu.Lock()
	defer mu.Unlock()
	if len(*lines) == 0 {
		t.Fatalf("expected at least one line pushed on accept")
	}
}

func TestAcceptor_ReplaceEvictsPriorAndCancelsPending(t *testing.T) {
	pending := NewPendingRequests()
	var disconnects int
	var dmu sync.Mutex
	a := NewAcceptor(pending, "default")
	a.OnDisconnect = func() { dmu.Lock(); disconnects++; dmu.Unlock() }

	server1, client1 := net.Pipe()
	drainLines(client1)
	go a.Accept(server1)
	waitFor(t, a.Connected)

	ch := pending.Register("req-1", "navigate", time.Minute)

	server2, client2 := net.Pipe()
	drainLines(client2)
	go a.Accept(server2)

	select {
	case out := <-ch:
		if out.Err == nil || out.Err.Code != protocol.ErrExtensionNotConnected {
			t.Fatalf("expected pending call cancelled with EXTENSION_NOT_CONNECTED, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the prior connection's pending calls to be cancelled on replace")
	}

	dmu.Lock()
	got := disconnects
	dmu.Unlock()
	if got == 0 {
		t.Fatalf("expected OnDisconnect to fire on replace")
	}
}

func TestAcceptor_WriteWithoutConnectionReturnsError(t *testing.T) {
	a := NewAcceptor(NewPendingRequests(), "default")
	err := a.Write([]byte(`{"type":"x"}`))
	if err == nil {
		t.Fatalf("expected an error writing with no live connection")
	}
}

func TestAcceptor_ForceDisconnectCancelsPendingAndClosesConn(t *testing.T) {
	pending := NewPendingRequests()
	a := NewAcceptor(pending, "default")

	server, client := net.Pipe()
	drainLines(client)
	go a.Accept(server)
	waitFor(t, a.Connected)

	ch := pending.Register("req-1", "navigate", time.Minute)

	a.ForceDisconnect()

	select {
	case out := <-ch:
		if out.Err == nil || out.Err.Code != protocol.ErrExtensionNotConnected {
			t.Fatalf("expected EXTENSION_NOT_CONNECTED, got %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("expected ForceDisconnect to cancel the pending call")
	}

	if a.Connected() {
		t.Fatalf("expected no live connection after ForceDisconnect")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition did not become true in time")
}
