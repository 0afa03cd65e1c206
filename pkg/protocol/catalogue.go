package protocol

// ToolSchemaField describes one field of a tool's input schema. Fields
// are enumerated with primitive types, min/max, enums, and tuples —
// deliberately JSON-schema-"ish" rather than full JSON Schema, per
// spec §4.4.6.
type ToolSchemaField struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"` // "string" | "number" | "boolean" | "tuple"
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
	Enum        []string      `json:"enum,omitempty"`
	Items       []ToolSchemaField `json:"items,omitempty"` // for Type == "tuple"
}

// ToolDefinition is one entry of the fixed catalogue the Server exposes
// to the client (spec §4.4.6).
type ToolDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Input       []ToolSchemaField `json:"input"`
	// CDPDependent marks tools requiring an active debugger attach
	// (spec §4.5); mirrored here so the Server can document it to the
	// client even though enforcement lives in the Worker.
	CDPDependent bool `json:"cdpDependent,omitempty"`
}

// ContentBlock is the client-protocol envelope a tool result is
// delivered in: content:[{type:'text', text:...}] per spec §4.4.6.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolInvocationResult is what the Server hands back to the client for
// any tool call, success or failure alike (errors are embedded as a
// well-formed JSON payload, never a protocol-level failure — spec §7).
type ToolInvocationResult struct {
	Content []ContentBlock `json:"content"`
}
