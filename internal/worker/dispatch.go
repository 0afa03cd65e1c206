package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"image/png"
	"math"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/viyv-labs/browser-bridge/pkg/protocol"
)

// Dispatcher routes inbound tool_call records to concrete handlers under
// per-tab mutual exclusion (spec §4.5).
type Dispatcher struct {
	Attach *CDPAttach
	Locks  *TabLocks
	Groups *TabGroups
	Tabs   *TabRegistry
	Shots  *ScreenshotRing
	Logs   *LogRing
	Events *EventEmitter
}

// NewDispatcher wires every Worker subsystem into a ready-to-use
// dispatcher.
func NewDispatcher(attach *CDPAttach, locks *TabLocks, groups *TabGroups, tabs *TabRegistry, shots *ScreenshotRing, logs *LogRing, events *EventEmitter) *Dispatcher {
	return &Dispatcher{Attach: attach, Locks: locks, Groups: groups, Tabs: tabs, Shots: shots, Logs: logs, Events: events}
}

var cdpDependent = protocol.CDPDependentTools()

// Dispatch handles one ToolCall end to end and returns the matching
// ToolResult, applying the tab-lock/ownership checks of spec §4.5
// before routing to the named handler.
func (d *Dispatcher) Dispatch(ctx context.Context, call *protocol.ToolCall) *protocol.ToolResult {
	now := protocol.NowMillis(time.Now())
	result := func(payload interface{}) *protocol.ToolResult {
		raw, err := json.Marshal(payload)
		if err != nil {
			return d.fail(call, protocol.NewToolError(protocol.ErrInternal, err.Error()), now)
		}
		return &protocol.ToolResult{ID: call.ID, Type: protocol.TypeToolResult, AgentID: call.AgentID, Success: true, Result: raw, Timestamp: now}
	}

	tabID, hasTab, err := extractTabID(call.Input)
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrInvalidParams, err.Error()), now)
	}

	_, cdpTool := cdpDependent[call.Tool]
	if cdpTool && hasTab {
		if !d.Locks.Acquire(tabID, call.AgentID) {
			return d.fail(call, protocol.NewToolError(protocol.ErrTabLocked, "tab is locked by another agent"), now)
		}
		defer d.Locks.Release(tabID, call.AgentID)
	}
	if hasTab && call.Tool != "open_tab" && !d.Groups.Owns(call.AgentID, tabID) {
		return d.fail(call, protocol.NewToolError(protocol.ErrTabAccessDenied, "tab does not belong to the calling agent"), now)
	}

	if cdpTool {
		if err := d.Attach.EnsureAttached(ctx); err != nil {
			return d.fail(call, protocol.NewToolError(protocol.ErrDebuggerAttachFailed, err.Error()), now)
		}
		d.Attach.AcquireCmd()
		defer d.Attach.ReleaseCmd()
	}

	switch call.Tool {
	case "navigate":
		return d.handleNavigate(call, tabID, result, now)
	case "click":
		return d.handleClick(call, tabID, result, now)
	case "type_text":
		return d.handleTypeText(call, tabID, result, now)
	case "screenshot":
		return d.handleScreenshot(call, tabID, result, now)
	case "wait_for":
		return d.handleWaitFor(ctx, call, tabID, result, now)
	case "scrape_page":
		return d.handleScrapePage(call, tabID, result, now)
	case "snapshot":
		return d.handleSnapshot(call, tabID, result, now)
	case "record_gif":
		return d.handleRecordGIF(call, tabID, result, now)
	case "list_console_logs", "list_network_requests":
		return d.handleListLogs(call, tabID, result, now)
	case "open_tab":
		return d.handleOpenTab(call, result, now)
	case "close_tab":
		return d.handleCloseTab(call, tabID, result, now)
	case "browser_event_subscribe":
		return result(struct {
			SubscriptionID string `json:"subscriptionId"`
		}{SubscriptionID: uuid.NewString()})
	case "browser_event_unsubscribe":
		return result(struct {
			SubscriptionID string `json:"subscriptionId"`
		}{SubscriptionID: subscriptionIDFromInput(call.Input)})
	default:
		return d.fail(call, protocol.NewToolError(protocol.ErrUnknownTool, fmt.Sprintf("unknown tool %q", call.Tool)), now)
	}
}

func (d *Dispatcher) fail(call *protocol.ToolCall, te *protocol.ToolError, now int64) *protocol.ToolResult {
	return &protocol.ToolResult{ID: call.ID, Type: protocol.TypeToolResult, AgentID: call.AgentID, Success: false, Error: te, Timestamp: now}
}

// extractTabID pulls input.tabId if present, validating it is a finite
// non-negative number (spec §4.5).
func extractTabID(input json.RawMessage) (int, bool, error) {
	if len(input) == 0 {
		return 0, false, nil
	}
	var probe struct {
		TabID *float64 `json:"tabId"`
	}
	if err := json.Unmarshal(input, &probe); err != nil {
		return 0, false, fmt.Errorf("malformed input: %w", err)
	}
	if probe.TabID == nil {
		return 0, false, nil
	}
	v := *probe.TabID
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false, fmt.Errorf("tabId must be a finite non-negative number")
	}
	return int(v), true, nil
}

func subscriptionIDFromInput(input json.RawMessage) string {
	var in struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	_ = json.Unmarshal(input, &in)
	return in.SubscriptionID
}

func (d *Dispatcher) page(call *protocol.ToolCall, tabID int, now int64) (*rod.Page, *protocol.ToolResult) {
	page, ok := d.Tabs.Page(tabID)
	if !ok {
		return nil, d.fail(call, protocol.NewToolError(protocol.ErrTabNotFound, fmt.Sprintf("tab %d is not open", tabID)), now)
	}
	return page, nil
}

func (d *Dispatcher) handleNavigate(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(call.Input, &in); err != nil || in.URL == "" {
		return d.fail(call, protocol.NewToolError(protocol.ErrInvalidParams, "url is required"), now)
	}
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	if err := page.Navigate(in.URL); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	if err := page.WaitLoad(); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	d.Events.Emit(call.AgentID, "page_loaded", tabID, in.URL, nil, now)
	return result(struct {
		URL string `json:"url"`
	}{URL: in.URL})
}

func (d *Dispatcher) handleClick(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal(call.Input, &in); err != nil || !ValidRef(in.Ref) {
		return d.fail(call, protocol.NewToolError(protocol.ErrInvalidParams, "ref is required and must match the expected ref format"), now)
	}
	el, ok := d.Tabs.ResolveRef(tabID, in.Ref)
	if !ok {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, "ref does not resolve to a known element"), now)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	return result(struct {
		Clicked string `json:"clicked"`
	}{Clicked: in.Ref})
}

func (d *Dispatcher) handleTypeText(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(call.Input, &in); err != nil || in.Text == "" {
		return d.fail(call, protocol.NewToolError(protocol.ErrInvalidParams, "text is required"), now)
	}
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	if err := page.InsertText(in.Text); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	return result(struct {
		Typed int `json:"charsTyped"`
	}{Typed: len(in.Text)})
}

func (d *Dispatcher) handleScreenshot(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		FullPage bool `json:"fullPage"`
	}
	_ = json.Unmarshal(call.Input, &in)
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	data, err := page.Screenshot(in.FullPage, nil)
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	id := d.Shots.Put(base64.StdEncoding.EncodeToString(data))
	return result(struct {
		ImageID string `json:"imageId"`
	}{ImageID: id})
}

func (d *Dispatcher) handleWaitFor(ctx context.Context, call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		Selector string `json:"selector"`
		Timeout  int    `json:"timeout"`
	}
	if err := json.Unmarshal(call.Input, &in); err != nil || in.Selector == "" {
		return d.fail(call, protocol.NewToolError(protocol.ErrInvalidParams, "selector is required"), now)
	}
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	timeout := time.Duration(in.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	el, err := page.Context(ctx).Timeout(timeout).Element(in.Selector)
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrTimeout, fmt.Sprintf("selector %q did not appear within %s", in.Selector, timeout)), now)
	}
	ref, _ := d.Tabs.PutRef(tabID, el)
	return result(struct {
		Found bool   `json:"found"`
		Ref   string `json:"ref"`
	}{Found: true, Ref: ref})
}

func (d *Dispatcher) handleScrapePage(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	info, err := page.Info()
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	body, err := page.Element("body")
	text := ""
	if err == nil {
		text, _ = body.Text()
	}
	return result(struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Text  string `json:"text"`
	}{URL: info.URL, Title: info.Title, Text: text})
}

// snapshotNode is one entry in the flattened accessibility-ish snapshot
// returned by the snapshot tool.
type snapshotNode struct {
	Ref  string `json:"ref"`
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
}

const maxSnapshotNodes = 200

func (d *Dispatcher) handleSnapshot(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}
	elements, err := page.Elements("body *")
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}

	nodes := make([]snapshotNode, 0, maxSnapshotNodes)
	for i, el := range elements {
		if i >= maxSnapshotNodes {
			break
		}
		desc, err := el.Describe(0, false)
		tag := "unknown"
		if err == nil && desc != nil {
			tag = strings.ToLower(desc.NodeName)
		}
		text, _ := el.Text()
		ref, ok := d.Tabs.PutRef(tabID, el)
		if !ok {
			continue
		}
		nodes = append(nodes, snapshotNode{Ref: ref, Tag: tag, Text: text})
	}
	return result(struct {
		Nodes []snapshotNode `json:"nodes"`
	}{Nodes: nodes})
}

const gifFrameCount = 4

func (d *Dispatcher) handleRecordGIF(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		DurationMs int `json:"durationMs"`
	}
	_ = json.Unmarshal(call.Input, &in)
	duration := time.Duration(in.DurationMs) * time.Millisecond
	if duration <= 0 {
		duration = 2 * time.Second
	}
	page, errRes := d.page(call, tabID, now)
	if errRes != nil {
		return errRes
	}

	anim := &gif.GIF{}
	interval := duration / gifFrameCount
	for i := 0; i < gifFrameCount; i++ {
		data, err := page.Screenshot(false, nil)
		if err != nil {
			return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
		}
		frame, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return d.fail(call, protocol.NewToolError(protocol.ErrInternal, err.Error()), now)
		}
		paletted := toPaletted(frame)
		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, int(interval/(10*time.Millisecond)))
		if i < gifFrameCount-1 {
			time.Sleep(interval)
		}
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrInternal, err.Error()), now)
	}
	id := d.Shots.Put(base64.StdEncoding.EncodeToString(buf.Bytes()))
	return result(struct {
		ImageID string `json:"imageId"`
	}{ImageID: id})
}

func toPaletted(src image.Image) *image.Paletted {
	bounds := src.Bounds()
	dst := image.NewPaletted(bounds, palette.WebSafe)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x, y, src.At(x, y))
		}
	}
	return dst
}

func (d *Dispatcher) handleListLogs(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		Limit int `json:"limit"`
	}
	_ = json.Unmarshal(call.Input, &in)
	entries := d.Logs.ForTab(tabID, in.Limit)
	return result(struct {
		Entries []LogEntry `json:"entries"`
	}{Entries: entries})
}

func (d *Dispatcher) handleOpenTab(call *protocol.ToolCall, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	var in struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(call.Input, &in)
	browser, ok := d.Attach.Browser()
	if !ok {
		if err := d.Attach.EnsureAttached(context.Background()); err != nil {
			return d.fail(call, protocol.NewToolError(protocol.ErrDebuggerAttachFailed, err.Error()), now)
		}
		browser, _ = d.Attach.Browser()
	}
	tabID, err := d.Tabs.Open(browser, in.URL)
	if err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	d.Groups.AssignTab(call.AgentID, call.AgentID, tabID)
	d.Events.Emit(call.AgentID, "tab_opened", tabID, in.URL, nil, now)
	return result(struct {
		TabID int `json:"tabId"`
	}{TabID: tabID})
}

func (d *Dispatcher) handleCloseTab(call *protocol.ToolCall, tabID int, result func(interface{}) *protocol.ToolResult, now int64) *protocol.ToolResult {
	if err := d.Tabs.Close(tabID); err != nil {
		return d.fail(call, protocol.NewToolError(protocol.ErrCDPError, err.Error()), now)
	}
	d.Groups.ForgetTab(tabID)
	d.Logs.PurgeTab(tabID)
	d.Events.Emit(call.AgentID, "tab_closed", tabID, "", nil, now)
	return result(struct {
		Closed bool `json:"closed"`
	}{Closed: true})
}
