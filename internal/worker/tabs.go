package worker

import (
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// tab bundles one CDP page with the ref table snapshot assigns it, so
// click/type_text can resolve an opaque ref back to a live element
// (spec §4.5 "element references").
type tab struct {
	page *rod.Page
	refs map[string]*rod.Element
	next int
}

// TabRegistry owns the live rod.Page for every open tab, independent of
// tab-lock/tab-group bookkeeping (which only track ownership, not the
// CDP handle itself).
type TabRegistry struct {
	mu   sync.Mutex
	tabs map[int]*tab
	next int
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[int]*tab)}
}

// Open creates a page against browser (navigating to url if non-empty)
// and returns its freshly assigned tabId.
func (r *TabRegistry) Open(browser *rod.Browser, url string) (int, error) {
	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return 0, fmt.Errorf("worker: open page: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.tabs[id] = &tab{page: page, refs: make(map[string]*rod.Element)}
	return id, nil
}

// Close closes and forgets tabID, if open.
func (r *TabRegistry) Close(tabID int) error {
	r.mu.Lock()
	t, ok := r.tabs[tabID]
	delete(r.tabs, tabID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return t.page.Close()
}

// Page returns the live page for tabID.
func (r *TabRegistry) Page(tabID int) (*rod.Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	return t.page, true
}

// PutRef mints and stores a fresh ref for el, scoped to tabID.
func (r *TabRegistry) PutRef(tabID int, el *rod.Element) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return "", false
	}
	t.next++
	ref := fmt.Sprintf("ref_%d", t.next)
	t.refs[ref] = el
	return ref, true
}

// ResolveRef looks up a previously minted ref within tabID.
func (r *TabRegistry) ResolveRef(tabID int, ref string) (*rod.Element, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tabs[tabID]
	if !ok {
		return nil, false
	}
	el, ok := t.refs[ref]
	return el, ok
}
