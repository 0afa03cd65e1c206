package protocol

func f(v float64) *float64 { return &v }

// Catalogue is the fixed tool list the Server exposes to the client
// (spec §4.4.6). Concrete browser-control semantics are opaque to the
// core — only names, schemas, and the CDP-dependent flag matter here.
func Catalogue() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "navigate",
			Description: "Navigate a tab to a URL and wait for load.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "url", Type: "string", Required: true},
			},
		},
		{
			Name:        "click",
			Description: "Click an element identified by a ref.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "ref", Type: "string", Required: true},
			},
		},
		{
			Name:        "type_text",
			Description: "Type text into the currently focused element.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "text", Type: "string", Required: true},
			},
		},
		{
			Name:        "screenshot",
			Description: "Capture a screenshot of a tab, returned as an imageId into the screenshot ring.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "fullPage", Type: "boolean"},
			},
		},
		{
			Name:        "wait_for",
			Description: "Wait for a selector to appear, up to timeout ms.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "selector", Type: "string", Required: true},
				{Name: "timeout", Type: "number", Min: f(0), Max: f(300000)},
			},
		},
		{
			Name:        "scrape_page",
			Description: "Extract readable text and metadata from the current page.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
			},
		},
		{
			Name:        "snapshot",
			Description: "Produce an accessibility-tree snapshot with stable refs for subsequent actions.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
			},
		},
		{
			Name:        "record_gif",
			Description: "Capture a short animated GIF of tab activity.",
			CDPDependent: true,
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "durationMs", Type: "number", Min: f(0), Max: f(30000)},
			},
		},
		{
			Name:        "list_console_logs",
			Description: "Return buffered console messages for a tab.",
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "limit", Type: "number", Min: f(1), Max: f(500)},
			},
		},
		{
			Name:        "list_network_requests",
			Description: "Return buffered network request/response summaries for a tab.",
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
				{Name: "limit", Type: "number", Min: f(1), Max: f(500)},
			},
		},
		{
			Name:        "open_tab",
			Description: "Open a new tab and assign it to the calling agent's group.",
			Input: []ToolSchemaField{
				{Name: "url", Type: "string"},
			},
		},
		{
			Name:        "close_tab",
			Description: "Close a tab owned by the calling agent.",
			Input: []ToolSchemaField{
				{Name: "tabId", Type: "number", Required: true},
			},
		},
		{
			Name:        "switch_browser",
			Description: "Force the extension to drop and re-establish its debugger attach.",
			Input:       []ToolSchemaField{},
		},
		{
			Name:        "browser_event_subscribe",
			Description: "Subscribe to a set of browser event types, optionally scoped to a URL substring.",
			Input: []ToolSchemaField{
				{Name: "eventTypes", Type: "tuple", Required: true, Items: []ToolSchemaField{{Name: "eventType", Type: "string"}}},
				{Name: "urlPattern", Type: "string"},
			},
		},
		{
			Name:        "browser_event_unsubscribe",
			Description: "Remove a previously created event subscription.",
			Input: []ToolSchemaField{
				{Name: "subscriptionId", Type: "string", Required: true},
			},
		},
	}
}

// CDPDependentTools returns the set of tool names requiring an active
// debugger attach (spec §4.5 dispatch rule).
func CDPDependentTools() map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range Catalogue() {
		if t.CDPDependent {
			out[t.Name] = struct{}{}
		}
	}
	return out
}
