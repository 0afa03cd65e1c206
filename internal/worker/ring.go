package worker

import (
	"sync"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"
)

// maxLogCells bounds a single console-log line's display width before
// truncation; long DOM dumps or stringified objects are common enough
// in console.log calls that an unbounded ring entry would dwarf the
// rest of the buffer.
const maxLogCells = 2000

// ScreenshotRing holds the most recent captures keyed by a freshly
// minted imageId, evicting the oldest once full (spec §4.5, §6: 10
// entries).
type ScreenshotRing struct {
	mu    sync.Mutex
	order []string
	data  map[string]string
	cap   int
}

func NewScreenshotRing(capacity int) *ScreenshotRing {
	return &ScreenshotRing{data: make(map[string]string), cap: capacity}
}

// Put stores base64Data and returns its imageId.
func (r *ScreenshotRing) Put(base64Data string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.data[id] = base64Data
	r.order = append(r.order, id)
	if len(r.order) > r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.data, oldest)
	}
	return id
}

// Get retrieves a previously stored screenshot by imageId.
func (r *ScreenshotRing) Get(imageID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.data[imageID]
	return v, ok
}

// LogEntry is one buffered console message or network exchange summary.
type LogEntry struct {
	TabID     int    `json:"tabId"`
	Level     string `json:"level,omitempty"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

// LogRing bounds per-tab and global console/network buffers, evicting
// the globally oldest entry once the global cap is reached and
// discarding a tab's own backlog when it closes (spec §4.5, §6: 500
// per tab, 5000 global). Both buffers hold the same *LogEntry pointers
// so a global eviction removes the identical entry from its owning
// tab's buffer, keeping the total retained count bounded by globalCap
// even across many tabs.
type LogRing struct {
	mu        sync.Mutex
	perTab    map[int][]*LogEntry
	global    []*LogEntry
	perTabCap int
	globalCap int
}

func NewLogRing(perTabCap, globalCap int) *LogRing {
	return &LogRing{perTab: make(map[int][]*LogEntry), perTabCap: perTabCap, globalCap: globalCap}
}

// Append truncates entry.Text to a bounded display width and appends it
// to both the per-tab and global buffers, evicting the oldest entry
// from whichever buffer overflows.
func (r *LogRing) Append(entry LogEntry) {
	entry.Text = runewidth.Truncate(entry.Text, maxLogCells, "…")
	e := &entry

	r.mu.Lock()
	defer r.mu.Unlock()

	tab := append(r.perTab[entry.TabID], e)
	if len(tab) > r.perTabCap {
		tab = tab[len(tab)-r.perTabCap:]
	}
	r.perTab[entry.TabID] = tab

	r.global = append(r.global, e)
	if len(r.global) > r.globalCap {
		oldest := r.global[0]
		r.global = r.global[1:]
		r.evictFromTab(oldest)
	}
}

// evictFromTab removes e from its owning tab's buffer — e is always
// that tab's own oldest entry, since both buffers preserve insertion
// order.
func (r *LogRing) evictFromTab(e *LogEntry) {
	tab := r.perTab[e.TabID]
	if len(tab) > 0 && tab[0] == e {
		r.perTab[e.TabID] = tab[1:]
		return
	}
	for i, candidate := range tab {
		if candidate == e {
			r.perTab[e.TabID] = append(tab[:i:i], tab[i+1:]...)
			return
		}
	}
}

// ForTab returns up to limit of the most recent entries for tabID (0
// means "all buffered").
func (r *LogRing) ForTab(tabID, limit int) []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.perTab[tabID]
	n := len(entries)
	if limit <= 0 || limit >= n {
		out := make([]LogEntry, n)
		for i, e := range entries {
			out[i] = *e
		}
		return out
	}
	out := make([]LogEntry, limit)
	for i, e := range entries[n-limit:] {
		out[i] = *e
	}
	return out
}

// PurgeTab discards a closed tab's buffered entries (the global buffer
// keeps its history; only per-tab lookups are affected).
func (r *LogRing) PurgeTab(tabID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perTab, tabID)
}
