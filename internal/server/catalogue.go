package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Dispatcher sends a tool_call to the Worker and blocks for its
// outcome, honoring the per-tool deadline rules of the pending-request
// engine (spec §4.4.2).
type Dispatcher func(ctx context.Context, agentID, tool string, input json.RawMessage) (json.RawMessage, *protocol.ToolError)

// Catalogue wires the fixed tool list (protocol.Catalogue) onto a
// mark3labs/mcp-go server, translating every client invocation into a
// dispatched tool_call and the resolved outcome into the
// content:[{type:'text',...}] shape the client protocol expects (spec
// §4.4.6).
type Catalogue struct {
	MCP            *mcpserver.MCPServer
	Dispatch       Dispatcher
	Events         *EventSubsystem
	DefaultAgentID string

	// Destroy and Probe implement switch_browser's special-cased
	// handling (spec §4.4.6): destroy the current attach, then poll
	// Probe until it reports a fresh one or the timeout elapses.
	Destroy                   func()
	Probe                     func() bool
	SwitchBrowserPollInterval time.Duration
	SwitchBrowserTimeout      time.Duration
}

// NewCatalogue builds the MCP server and registers every catalogue tool.
func NewCatalogue(name, version string, dispatch Dispatcher, events *EventSubsystem, defaultAgentID string) *Catalogue {
	c := &Catalogue{
		MCP:                       mcpserver.NewMCPServer(name, version),
		Dispatch:                  dispatch,
		Events:                    events,
		DefaultAgentID:            defaultAgentID,
		SwitchBrowserPollInterval: 500 * time.Millisecond,
		SwitchBrowserTimeout:      60 * time.Second,
	}
	c.registerAll()
	return c
}

func (c *Catalogue) registerAll() {
	for _, def := range protocol.Catalogue() {
		def := def
		c.MCP.AddTool(buildTool(def), c.handlerFor(def))
	}
}

func buildTool(def protocol.ToolDefinition) mcpsdk.Tool {
	opts := []mcpsdk.ToolOption{mcpsdk.WithDescription(def.Description)}
	for _, field := range def.Input {
		opts = append(opts, fieldOption(field))
	}
	return mcpsdk.NewTool(def.Name, opts...)
}

func fieldOption(field protocol.ToolSchemaField) mcpsdk.ToolOption {
	var propOpts []mcpsdk.PropertyOption
	if field.Description != "" {
		propOpts = append(propOpts, mcpsdk.Description(field.Description))
	}
	if field.Required {
		propOpts = append(propOpts, mcpsdk.Required())
	}
	if len(field.Enum) > 0 {
		propOpts = append(propOpts, mcpsdk.Enum(toAnySlice(field.Enum)...))
	}

	switch field.Type {
	case "number":
		if field.Min != nil {
			propOpts = append(propOpts, mcpsdk.Min(*field.Min))
		}
		if field.Max != nil {
			propOpts = append(propOpts, mcpsdk.Max(*field.Max))
		}
		return mcpsdk.WithNumber(field.Name, propOpts...)
	case "boolean":
		return mcpsdk.WithBoolean(field.Name, propOpts...)
	case "tuple":
		return mcpsdk.WithArray(field.Name, propOpts...)
	default:
		return mcpsdk.WithString(field.Name, propOpts...)
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func (c *Catalogue) handlerFor(def protocol.ToolDefinition) mcpserver.ToolHandlerFunc {
	name := def.Name
	return func(ctx context.Context, req mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		if name == "switch_browser" {
			return c.handleSwitchBrowser(ctx)
		}

		input, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, fmt.Errorf("catalogue: marshal arguments for %s: %w", name, err)
		}

		result, toolErr := c.Dispatch(ctx, c.DefaultAgentID, name, input)
		if toolErr != nil {
			return mcpsdk.NewToolResultText(errorText(toolErr)), nil
		}

		switch name {
		case "browser_event_subscribe":
			c.mirrorSubscribe(c.DefaultAgentID, input, result)
		case "browser_event_unsubscribe":
			c.mirrorUnsubscribe(result)
		}

		return mcpsdk.NewToolResultText(string(result)), nil
	}
}

func (c *Catalogue) handleSwitchBrowser(ctx context.Context) (*mcpsdk.CallToolResult, error) {
	if c.Destroy != nil {
		c.Destroy()
	}
	if c.Probe == nil {
		return mcpsdk.NewToolResultText(`{"ok":true}`), nil
	}

	deadline := time.Now().Add(c.SwitchBrowserTimeout)
	ticker := time.NewTicker(c.SwitchBrowserPollInterval)
	defer ticker.Stop()
	for {
		if c.Probe() {
			return mcpsdk.NewToolResultText(`{"ok":true}`), nil
		}
		if time.Now().After(deadline) {
			return mcpsdk.NewToolResultText(errorText(protocol.NewToolError(protocol.ErrTimeout, "switch_browser timed out waiting for reattach"))), nil
		}
		select {
		case <-ctx.Done():
			return mcpsdk.NewToolResultText(errorText(protocol.NewToolError(protocol.ErrTimeout, "switch_browser cancelled"))), nil
		case <-ticker.C:
		}
	}
}

func (c *Catalogue) mirrorSubscribe(agentID string, input, result json.RawMessage) {
	var in struct {
		EventTypes []string `json:"eventTypes"`
		URLPattern string   `json:"urlPattern"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		slog.Warn("server.catalogue.subscribe_decode_failed", "error", err)
		return
	}
	var out struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(result, &out); err != nil || out.SubscriptionID == "" {
		slog.Warn("server.catalogue.subscribe_missing_id")
		return
	}

	types := make(map[string]struct{}, len(in.EventTypes))
	for _, t := range in.EventTypes {
		types[t] = struct{}{}
	}
	c.Events.Subscribe(&Subscription{
		ID:         out.SubscriptionID,
		AgentID:    agentID,
		EventTypes: types,
		URLPattern: in.URLPattern,
		CreatedAt:  time.Now(),
	})
}

func (c *Catalogue) mirrorUnsubscribe(result json.RawMessage) {
	var out struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if err := json.Unmarshal(result, &out); err != nil || out.SubscriptionID == "" {
		return
	}
	c.Events.Unsubscribe(out.SubscriptionID)
}

func errorText(te *protocol.ToolError) string {
	payload := struct {
		Error *protocol.ToolError `json:"error"`
	}{Error: te}
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"error":{"code":"INTERNAL_ERROR","message":"failed to encode error"}}`
	}
	return string(raw)
}
