package agent

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
)

// Navigation is a page load observed by a host.
type Navigation struct {
	Tab      TabID
	URL      string
	TopLevel bool
}

// Navigator is a host that reports page loads.
type Navigator interface {
	Navigations() <-chan Navigation
}

// allowedSchemes are the schemes a host may install agents into.
var allowedSchemes = map[string]bool{"http": true, "https": true, "file": true}

// Restricted reports whether agents cannot run on pageURL.
func Restricted(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	return !allowedSchemes[u.Scheme]
}

func restrictedError(pageURL string) error {
	return fmt.Errorf("%w %q", ErrRestricted, pageURL)
}

type memTab struct {
	doc       *Document
	installed bool
	calls     []RequestType
}

type dispatchKey struct {
	tab TabID
	typ RequestType
}

// MemoryHost is a Host over parsed documents. Pages lose their agent on
// navigation, like real tabs do.
type MemoryHost struct {
	mu          sync.Mutex
	tabs        map[TabID]*memTab
	seq         int
	navs        chan Navigation
	closed      bool
	ensureErr   map[TabID]error
	dispatchErr map[dispatchKey]error
	ensures     int
}

// NewMemoryHost returns an empty host. Navigation events are buffered up to
// 64; further events are dropped until the buffer drains.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		tabs:        make(map[TabID]*memTab),
		navs:        make(chan Navigation, 64),
		ensureErr:   make(map[TabID]error),
		dispatchErr: make(map[dispatchKey]error),
	}
}

// Open adds a tab showing src at pageURL. No event is emitted.
func (h *MemoryHost) Open(pageURL, src string) (TabID, error) {
	doc, err := ParseDocument(pageURL, src)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := TabID(strconv.Itoa(h.seq))
	h.tabs[id] = &memTab{doc: doc}
	return id, nil
}

// Load is Open for a tab that arrives already loaded, as the browser host's
// opened and attached tabs do: it emits one top-level Navigation.
func (h *MemoryHost) Load(pageURL, src string) (TabID, error) {
	id, err := h.Open(pageURL, src)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		select {
		case h.navs <- Navigation{Tab: id, URL: pageURL, TopLevel: true}:
		default:
		}
	}
	return id, nil
}

// Navigate loads src at pageURL into tab and emits a Navigation. A top-level
// load discards the agent and any injected styles.
func (h *MemoryHost) Navigate(tab TabID, pageURL, src string, topLevel bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tab]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tab)
	}
	if topLevel {
		doc, err := ParseDocument(pageURL, src)
		if err != nil {
			return err
		}
		t.doc = doc
		t.installed = false
	}
	if !h.closed {
		select {
		case h.navs <- Navigation{Tab: tab, URL: pageURL, TopLevel: topLevel}:
		default:
		}
	}
	return nil
}

// Navigations implements Navigator.
func (h *MemoryHost) Navigations() <-chan Navigation { return h.navs }

// Close ends the navigation stream.
func (h *MemoryHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.navs)
	}
}

// Document returns the current document of tab.
func (h *MemoryHost) Document(tab TabID) (*Document, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tab]
	if !ok {
		return nil, false
	}
	return t.doc, true
}

// Calls lists requests dispatched to tab's agents, oldest first.
func (h *MemoryHost) Calls(tab TabID) []RequestType {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[tab]
	if !ok {
		return nil
	}
	return append([]RequestType(nil), t.calls...)
}

// EnsureCount returns how many times Ensure was called.
func (h *MemoryHost) EnsureCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ensures
}

// FailEnsure makes Ensure on tab return err. A nil err clears it.
func (h *MemoryHost) FailEnsure(tab TabID, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.ensureErr, tab)
		return
	}
	h.ensureErr[tab] = err
}

// FailDispatch makes requests of type typ to tab return err. A nil err
// clears it.
func (h *MemoryHost) FailDispatch(tab TabID, typ RequestType, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := dispatchKey{tab: tab, typ: typ}
	if err == nil {
		delete(h.dispatchErr, k)
		return
	}
	h.dispatchErr[k] = err
}

// Ensure implements Host.
func (h *MemoryHost) Ensure(ctx context.Context, tab TabID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensures++
	t, ok := h.tabs[tab]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, tab)
	}
	if err := h.ensureErr[tab]; err != nil {
		return err
	}
	if Restricted(t.doc.URL()) {
		return restrictedError(t.doc.URL())
	}
	t.installed = true
	return nil
}

// Dispatch implements Host.
func (h *MemoryHost) Dispatch(ctx context.Context, tab TabID, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	t, ok := h.tabs[tab]
	if !ok {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tab)
	}
	t.calls = append(t.calls, req.Type())
	err := h.dispatchErr[dispatchKey{tab: tab, typ: req.Type()}]
	installed := t.installed
	doc := t.doc
	h.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !installed {
		return nil, ErrNoReceiver
	}
	return doc.Handle(req)
}
