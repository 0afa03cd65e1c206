package bridgecore

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/viyv-labs/browser-bridge/internal/transport/framed"
	"github.com/viyv-labs/browser-bridge/internal/transport/line"
)

// Bridge joins C1 (the host channel, framed JSON on standard streams)
// with C2 (the line-delimited local socket to the Server), buffering
// host→socket traffic during outages and reconnecting with exponential
// backoff (spec §4.3).
type Bridge struct {
	HostReader io.Reader
	HostWriter io.Writer
	hostBufW   *bufio.Writer

	link  *socketLink
	queue *pendingQueue

	mu           sync.Mutex
	conn         net.Conn
	lineW        *line.Writer
	reconnecting bool

	wake chan struct{} // signaled whenever the queue gains a record or a connection is (re)installed
}

// Params bundles the timing knobs Bridge needs (spec §4.3, §6).
type Params struct {
	SockPath     string
	PollInterval time.Duration
	WaitTimeout  time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// New creates a Bridge joining hostR/hostW (C1) with the socket at
// params.SockPath (C2).
func New(hostR io.Reader, hostW io.Writer, params Params) *Bridge {
	return &Bridge{
		HostReader: hostR,
		HostWriter: hostW,
		hostBufW:   bufio.NewWriter(hostW),
		link:       newSocketLink(params.SockPath, params.PollInterval, params.WaitTimeout, params.MinBackoff, params.MaxBackoff),
		queue:      newPendingQueue(),
		wake:       make(chan struct{}, 1),
	}
}

// Run drives the Bridge until ctx is cancelled or the host stream ends
// (spec §4.3 "Shutdown: on host EOF or process termination signals,
// close the socket and exit").
func (b *Bridge) Run(ctx context.Context) error {
	conn, err := b.link.dialInitial(ctx)
	if err != nil {
		return err
	}
	b.installConn(conn)

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		framed.RunDecoder(b.HostReader,
			func(rec []byte) { b.enqueue(rec) },
			func(err error) { slog.Warn("bridge.host.frame_error", "error", err) },
			func() { slog.Info("bridge.host.eof") },
		)
	}()

	go b.flushLoop(ctx)
	go b.socketReadLoop(ctx, conn)

	select {
	case <-ctx.Done():
	case <-hostDone:
	}
	b.closeConn()
	return nil
}

// enqueue appends a host-read record to the pending buffer and wakes
// the flush loop (spec §4.3 "From host to socket").
func (b *Bridge) enqueue(rec []byte) {
	b.queue.Push(rec)
	b.signal()
}

func (b *Bridge) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// flushLoop peeks the oldest pending record and attempts to write it
// whenever a socket is installed, popping only after a successful
// write (spec §4.3 "peek-before-write"). A blocking Write over the
// unix-domain socket is this implementation's back-pressure suspension
// point — the Go equivalent of a write-returned-false/drain pair.
func (b *Bridge) flushLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.wake:
		}

		for {
			rec, ok := b.queue.Peek()
			if !ok {
				break
			}
			w := b.currentWriter()
			if w == nil {
				break // no socket yet; wait for installConn's signal
			}
			if err := w.WriteCompressIfLarge(rec); err != nil {
				slog.Warn("bridge.socket.write_failed", "error", err)
				b.handleSocketError(ctx, err)
				break
			}
			b.queue.Pop()
		}
	}
}

func (b *Bridge) currentWriter() *line.Writer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lineW
}

// socketReadLoop reads C2 lines (already decompressed by line.Reader)
// and reframes each as a C1 record to the host (spec §4.3 "From socket
// to host"). Oversize records are logged but the channel stays open.
func (b *Bridge) socketReadLoop(ctx context.Context, conn net.Conn) {
	r := line.NewReader(conn)
	gotFirst := false
	for {
		body, err := r.Next()
		if err != nil {
			if err != io.EOF {
				slog.Warn("bridge.socket.read_error", "error", err)
			}
			b.handleSocketError(ctx, err)
			return
		}
		if !gotFirst {
			gotFirst = true
			b.link.resetRetry()
		}

		if err := framed.WriteRaw(b.hostBufW, body); err != nil {
			if err == framed.ErrMessageTooLarge {
				slog.Error("bridge.host.oversize_record", "error", err)
				continue
			}
			slog.Warn("bridge.host.write_failed", "error", err)
		}
	}
}

// handleSocketError tears down the current connection and launches a
// reconnect attempt with exponential backoff (spec §4.3 "Reconnection").
// A guard keeps concurrent callers (the flush loop and the read loop
// can both observe the same dead connection) from racing to reconnect
// twice.
func (b *Bridge) handleSocketError(ctx context.Context, _ error) {
	b.mu.Lock()
	if b.reconnecting {
		b.mu.Unlock()
		return
	}
	b.reconnecting = true
	b.mu.Unlock()

	b.closeConn()

	conn, err := b.link.reconnect(ctx)

	b.mu.Lock()
	b.reconnecting = false
	b.mu.Unlock()

	if err != nil {
		slog.Warn("bridge.reconnect_failed", "error", err)
		return
	}
	b.installConn(conn)
	go b.socketReadLoop(ctx, conn)
}

func (b *Bridge) installConn(conn net.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.lineW = line.NewWriter(conn)
	b.mu.Unlock()
	b.signal()
}

func (b *Bridge) closeConn() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.lineW = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
