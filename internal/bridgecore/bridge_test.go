package bridgecore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/viyv-labs/browser-bridge/internal/transport/framed"
)

func TestBridge_HostToSocketRoundTrip(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "bridge-test.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64*1024)
		n, _ := conn.Read(buf)
		out := make([]byte, n)
		copy(out, buf[:n])
		received <- out
	}()

	hostIn, hostOut := net.Pipe()
	defer hostOut.Close()

	b := New(hostOut, new(bytes.Buffer), Params{
		SockPath:     sockPath,
		PollInterval: 10 * time.Millisecond,
		WaitTimeout:  time.Second,
		MinBackoff:   10 * time.Millisecond,
		MaxBackoff:   time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	frame, err := framed.Encode(map[string]string{"type": "tool_call", "id": "1"})
	if err != nil {
		t.Fatal(err)
	}
	go hostIn.Write(frame)

	select {
	case raw := <-received:
		var got map[string]string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("server received non-JSON line: %v", err)
		}
		if got["id"] != "1" {
			t.Fatalf("got id %q, want \"1\"", got["id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for record to reach the socket")
	}
}

func TestSocketLink_DialInitialFailsAfterTimeout(t *testing.T) {
	s := newSocketLink(filepath.Join(os.TempDir(), "browser-bridge-never-exists.sock"), 20*time.Millisecond, 80*time.Millisecond, time.Second, time.Second)
	if _, err := s.dialInitial(context.Background()); err == nil {
		t.Fatal("dialInitial() on an absent socket should fail after waitTimeout")
	}
}

func TestFramedHeaderLittleEndian(t *testing.T) {
	frame, err := framed.Encode(map[string]int{"x": 1})
	if err != nil {
		t.Fatal(err)
	}
	n := binary.LittleEndian.Uint32(frame[:4])
	if int(n) != len(frame)-4 {
		t.Fatalf("length prefix %d does not match body length %d", n, len(frame)-4)
	}
}
