package server

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Acceptor owns the single live extension-bridge connection the Server
// will ever hold at once (spec §3 invariant "at most one live extension
// connection"; §4.4.1; §8 property 4). A new connection always wins:
// the prior one is torn down and every pending tool call fails with
// EXTENSION_NOT_CONNECTED before the replacement is installed.
type Acceptor struct {
	mu     sync.Mutex
	conn   net.Conn
	writer *bufio.Writer

	Pending *PendingRequests

	// OnDisconnect is invoked (if set) the moment the live connection is
	// replaced or drops, before the replacement (if any) is installed.
	OnDisconnect func()
	// OnRecord is invoked for every decoded line received on the live
	// connection, outside the Acceptor's own lock.
	OnRecord func(raw []byte)

	agentIDDefault string
}

// NewAcceptor creates an Acceptor. defaultAgentID is stamped into the
// session_init record pushed to each newly accepted connection.
func NewAcceptor(pending *PendingRequests, defaultAgentID string) *Acceptor {
	return &Acceptor{Pending: pending, agentIDDefault: defaultAgentID}
}

// Accept installs conn as the (sole) live extension connection, evicting
// any previous one first, then starts reading lines from it until EOF
// or error. It blocks until the connection's read loop ends, so callers
// typically invoke it in its own goroutine per net.Listener.Accept.
func (a *Acceptor) Accept(conn net.Conn) {
	a.replace(conn)

	a.pushSessionInit()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxScanBuffer)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		if a.OnRecord != nil {
			a.OnRecord(cp)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		slog.Warn("server.acceptor.read_error", "error", err)
	}

	a.drop(conn)
}

// Write sends raw (already newline-terminated by the caller, or not —
// Write appends the delimiter) to the live connection, if any.
func (a *Acceptor) Write(raw []byte) error {
	a.mu.Lock()
	w := a.writer
	a.mu.Unlock()
	if w == nil {
		return protocol.NewToolError(protocol.ErrExtensionNotConnected, "no live extension connection")
	}

	if _, err := w.Write(raw); err != nil {
		return err
	}
	if len(raw) == 0 || raw[len(raw)-1] != '\n' {
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Connected reports whether a live connection is currently installed.
func (a *Acceptor) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// ForceDisconnect closes the current live connection, if any, and
// cancels every pending call — used by switch_browser to force the
// Worker to re-establish its debugger attach (spec §4.4.6).
func (a *Acceptor) ForceDisconnect() {
	a.mu.Lock()
	prior := a.conn
	a.conn = nil
	a.writer = nil
	a.mu.Unlock()

	if prior == nil {
		return
	}
	slog.Info("server.acceptor.force_disconnected")
	prior.Close()
	if a.OnDisconnect != nil {
		a.OnDisconnect()
	}
	if a.Pending != nil {
		a.Pending.CancelAll(protocol.ErrExtensionNotConnected, "extension disconnected by switch_browser")
	}
}

// replace tears down any existing connection and cancels everything
// still in flight before installing conn, so no in-progress tool call
// can straddle the handover (spec §4.4.1).
func (a *Acceptor) replace(conn net.Conn) {
	a.mu.Lock()
	prior := a.conn
	a.conn = nil
	a.writer = nil
	a.mu.Unlock()

	if prior != nil {
		slog.Info("server.acceptor.replaced")
		prior.Close()
		if a.OnDisconnect != nil {
			a.OnDisconnect()
		}
		if a.Pending != nil {
			a.Pending.CancelAll(protocol.ErrExtensionNotConnected, "extension connection replaced")
		}
	}

	a.mu.Lock()
	a.conn = conn
	a.writer = bufio.NewWriter(conn)
	a.mu.Unlock()
}

func (a *Acceptor) drop(conn net.Conn) {
	a.mu.Lock()
	isCurrent := a.conn == conn
	if isCurrent {
		a.conn = nil
		a.writer = nil
	}
	a.mu.Unlock()

	if !isCurrent {
		return // already superseded by a newer Accept; nothing to cancel twice
	}
	slog.Info("server.acceptor.disconnected")
	if a.OnDisconnect != nil {
		a.OnDisconnect()
	}
	if a.Pending != nil {
		a.Pending.CancelAll(protocol.ErrExtensionNotConnected, "extension disconnected")
	}
}

func (a *Acceptor) pushSessionInit() {
	rec := protocol.SessionRecord{
		Type:            protocol.TypeSessionInit,
		AgentID:         a.agentIDDefault,
		ProtocolVersion: protocol.ProtocolVersion,
		Timestamp:       protocol.NowMillis(nowFunc()),
	}
	raw, err := marshalLine(rec)
	if err != nil {
		slog.Error("server.acceptor.session_init_marshal_failed", "error", err)
		return
	}
	if err := a.Write(raw); err != nil {
		slog.Warn("server.acceptor.session_init_write_failed", "error", err)
	}
}
