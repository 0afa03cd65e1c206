package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/viyv-labs/browser-bridge/internal/chunk"
	"github.com/viyv-labs/browser-bridge/internal/config"
	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Server is C4: the process-facing core that accepts the one live
// extension connection, maintains the pending-request engine, the
// session table, the event subsystem, and exposes the tool catalogue to
// the client over mark3labs/mcp-go (spec §4.4).
type Server struct {
	cfg *config.Config

	Acceptor  *Acceptor
	Pending   *PendingRequests
	Sessions  *SessionTable
	Events    *EventSubsystem
	Catalogue *Catalogue
	Chunks    *chunk.Assembler
}

// New wires every C4 subcomponent together around cfg.
func New(cfg *config.Config) *Server {
	pending := NewPendingRequests()
	acceptor := NewAcceptor(pending, cfg.DefaultAgentName)
	sessions := NewSessionTable()
	events := NewEventSubsystem(cfg.EventRatePerSecond, cfg.EventBurst)

	s := &Server{
		cfg:      cfg,
		Acceptor: acceptor,
		Pending:  pending,
		Sessions: sessions,
		Events:   events,
	}

	s.Chunks = chunk.NewAssembler(s.onChunkComplete, s.onChunkTimeout)
	acceptor.OnRecord = s.onExtensionRecord
	acceptor.OnDisconnect = func() {
		slog.Info("server.extension.disconnected")
	}

	s.Catalogue = NewCatalogue("browser-bridge", "1.0.0", s.dispatch, events, cfg.DefaultAgentName)
	s.Catalogue.Destroy = acceptor.ForceDisconnect
	s.Catalogue.Probe = acceptor.Connected

	return s
}

// Run accepts extension connections on sockPath until ctx is cancelled,
// concurrently running the session sweeper (spec §4.4.3). It does not
// itself start the mcp-go stdio loop — callers wire Catalogue.MCP into
// whatever client transport cmd/server chooses.
func (s *Server) Run(ctx context.Context, sockPath string) error {
	if err := os.RemoveAll(sockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("server: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", sockPath, err)
	}
	defer ln.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		ln.Close()
		return nil
	})

	g.Go(func() error {
		s.Sessions.RunSweeper(s.cfg.SessionSweepPeriod(), s.cfg.SessionIdleTTL(), func(agentID string) {
			s.Events.PurgeAgent(agentID)
		}, ctx.Done())
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					return fmt.Errorf("server: accept: %w", err)
				}
			}
			go s.Acceptor.Accept(conn)
		}
	})

	return g.Wait()
}

// dispatch implements Dispatcher: it registers a pending entry, frames
// the tool_call, writes it to the live extension connection, and blocks
// for the outcome or deadline (spec §4.4.2).
func (s *Server) dispatch(ctx context.Context, agentID, tool string, input json.RawMessage) (result json.RawMessage, toolErr *protocol.ToolError) {
	ctx, span := traceToolCall(ctx, agentID, tool)
	defer func() {
		if toolErr != nil {
			endToolCallSpan(span, toolErr)
		} else {
			endToolCallSpan(span, nil)
		}
	}()

	id := uuid.NewString()
	call := protocol.ToolCall{
		ID:        id,
		Type:      protocol.TypeToolCall,
		AgentID:   agentID,
		Tool:      tool,
		Input:     input,
		Timestamp: protocol.NowMillis(nowFunc()),
	}

	deadline := s.deadlineFor(tool, input)
	outcome := s.Pending.Register(id, tool, deadline)

	raw, err := marshalLine(call)
	if err != nil {
		toolErr = protocol.NewToolError(protocol.ErrInternal, err.Error())
		s.Pending.Resolve(id, Outcome{Err: toolErr})
		<-outcome
		return nil, toolErr
	}
	if err := s.Acceptor.Write(raw); err != nil {
		s.Pending.Resolve(id, Outcome{Err: protocol.NewToolError(protocol.ErrExtensionNotConnected, err.Error())})
	}

	select {
	case o := <-outcome:
		return o.Result, o.Err
	case <-ctx.Done():
		toolErr = protocol.NewToolError(protocol.ErrTimeout, "tool call cancelled")
		return nil, toolErr
	}
}

// deadlineFor implements the wait_for special case (spec §4.4.2):
// input.timeout + 5s when numeric, else the configured default.
func (s *Server) deadlineFor(tool string, input json.RawMessage) time.Duration {
	if tool != "wait_for" {
		return s.cfg.ToolTimeout()
	}
	var params struct {
		Timeout *float64 `json:"timeout"`
	}
	if err := json.Unmarshal(input, &params); err != nil || params.Timeout == nil {
		return s.cfg.ToolTimeout()
	}
	return time.Duration(*params.Timeout)*time.Millisecond + s.cfg.WaitForExtra()
}

// onExtensionRecord dispatches one decoded line from the live extension
// connection to the right subsystem (spec §3, §4.4).
func (s *Server) onExtensionRecord(raw []byte) {
	recordType, record, err := protocol.Decode(raw)
	if err != nil {
		slog.Warn("server.record.decode_failed", "error", err)
		return
	}
	if record == nil {
		return // unknown type: forward-compatible no-op
	}

	switch recordType {
	case protocol.TypeToolResult:
		res := record.(*protocol.ToolResult)
		s.Sessions.Touch(res.AgentID, "")
		if res.Success {
			s.Pending.Resolve(res.ID, Outcome{Result: res.Result})
		} else {
			s.Pending.Resolve(res.ID, Outcome{Err: res.Error})
		}

	case protocol.TypeBrowserEvent:
		ev := record.(*protocol.BrowserEvent)
		s.Sessions.Touch(ev.AgentID, "")
		s.Events.Dispatch(ev)

	case protocol.TypeSessionInit, protocol.TypeSessionHeartbeat, protocol.TypeSessionRecovery:
		sr := record.(*protocol.SessionRecord)
		s.Sessions.Touch(sr.AgentID, "")

	case protocol.TypeSessionClose:
		sr := record.(*protocol.SessionRecord)
		s.Sessions.Close(sr.AgentID)
		s.Events.PurgeAgent(sr.AgentID)

	case protocol.TypeChunk:
		c := record.(*protocol.Chunk)
		if _, err := s.Chunks.Feed(c); err != nil {
			slog.Warn("server.chunk.feed_failed", "requestId", c.RequestID, "error", err)
		}
	}
}

func (s *Server) onChunkComplete(requestID string, body []byte) {
	s.onExtensionRecord(body)
}

func (s *Server) onChunkTimeout(requestID string) {
	slog.Warn("server.chunk.reassembly_timeout", "requestId", requestID)
}
