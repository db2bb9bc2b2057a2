// Package browser hosts page agents in a Chrome instance over the DevTools
// protocol. Each tracked page is a tab; the agent is a script evaluated in
// the page and addressed through a JSON message bridge.
package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"vibestyler/internal/agent"
	"vibestyler/internal/logging"
)

//go:embed agent.js
var agentScript string

// dispatchScript forwards one message to the installed agent.
const dispatchScript = `(raw) => window.__vibeStyler
	? window.__vibeStyler.handle(raw)
	: JSON.stringify({ error: "Could not establish connection. Receiving end does not exist." })`

// ErrNotConnected is returned before Start succeeds or after Shutdown.
var ErrNotConnected = errors.New("browser not connected")

// Config holds browser configuration.
type Config struct {
	DebuggerURL         string   `yaml:"debugger_url" json:"debugger_url"`
	Launch              []string `yaml:"launch" json:"launch"`
	Headless            bool     `yaml:"headless" json:"headless"`
	NavigationTimeoutMs int      `yaml:"navigation_timeout_ms" json:"navigation_timeout_ms"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Headless:            false,
		NavigationTimeoutMs: 30000,
	}
}

// NavigationTimeout returns the navigation timeout.
func (c Config) NavigationTimeout() time.Duration {
	if c.NavigationTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// Tab describes a tracked page.
type Tab struct {
	ID        agent.TabID `json:"id"`
	URL       string      `json:"url,omitempty"`
	Title     string      `json:"title,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

type tabRecord struct {
	meta  Tab
	page  *rod.Page
	owned bool // opened by this host, closed on Shutdown
}

// Host owns the Chrome connection and implements agent.Host and
// agent.Navigator for the pages it tracks.
type Host struct {
	cfg    Config
	logger *zap.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	controlURL string
	launched   bool
	cancel     context.CancelFunc
	tabs       map[agent.TabID]*tabRecord

	navMu  sync.Mutex
	navs   chan agent.Navigation
	closed bool
	wg     sync.WaitGroup
}

var (
	_ agent.Host      = (*Host)(nil)
	_ agent.Navigator = (*Host)(nil)
)

// NewHost creates a host. Call Start before using it.
func NewHost(cfg Config, logger *zap.Logger) *Host {
	return &Host{
		cfg:    cfg,
		logger: logging.Or(logger, logging.CategoryBrowser),
		tabs:   make(map[agent.TabID]*tabRecord),
		navs:   make(chan agent.Navigation, 64),
	}
}

// Start connects to an existing Chrome or launches a new one.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.browser != nil {
		if _, err := h.browser.Version(); err == nil {
			return nil
		}
		h.logger.Warn("stale browser connection, reconnecting")
		if h.launched {
			_ = h.browser.Close()
		}
		h.cancel()
		h.browser = nil
		h.controlURL = ""
		h.tabs = make(map[agent.TabID]*tabRecord)
	}

	controlURL := h.cfg.DebuggerURL
	launched := false
	if controlURL == "" {
		u, err := h.launcher().Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		launched = true
	}

	bctx, cancel := context.WithCancel(ctx)
	b := rod.New().ControlURL(controlURL).Context(bctx)
	if err := b.Connect(); err != nil {
		cancel()
		return fmt.Errorf("connect to chrome: %w", err)
	}
	h.browser = b
	h.controlURL = controlURL
	h.launched = launched
	h.cancel = cancel
	h.logger.Info("browser connected", zap.String("control_url", controlURL))
	return nil
}

func (h *Host) launcher() *launcher.Launcher {
	l := launcher.New().Headless(h.cfg.Headless)
	if len(h.cfg.Launch) == 0 {
		return l
	}
	if bin := h.cfg.Launch[0]; bin != "" {
		l = l.Bin(bin)
	}
	for _, f := range parseFlags(h.cfg.Launch[1:]) {
		l = l.Set(f.name, f.values...)
	}
	return l
}

type launchFlag struct {
	name   flags.Flag
	values []string
}

// parseFlags turns "--name=value" and "--name" into launcher flags.
func parseFlags(raw []string) []launchFlag {
	out := make([]launchFlag, 0, len(raw))
	for _, r := range raw {
		s := strings.TrimLeft(r, "-")
		if s == "" {
			continue
		}
		name, val, hasVal := strings.Cut(s, "=")
		f := launchFlag{name: flags.Flag(name)}
		if hasVal {
			f.values = []string{val}
		}
		out = append(out, f)
	}
	return out
}

// ControlURL returns the DevTools WebSocket URL.
func (h *Host) ControlURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.controlURL
}

// Shutdown closes tracked pages, the browser and the navigation stream.
func (h *Host) Shutdown() error {
	h.mu.Lock()
	for id, rec := range h.tabs {
		if rec.owned {
			_ = rec.page.Close()
		}
		delete(h.tabs, id)
	}
	var err error
	if h.browser != nil {
		// A browser we attached to belongs to the user and stays open.
		if h.launched {
			err = h.browser.Close()
		}
		h.cancel()
		h.browser = nil
	}
	h.controlURL = ""
	h.launched = false
	h.mu.Unlock()

	h.wg.Wait()
	h.navMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.navs)
	}
	h.navMu.Unlock()
	return err
}

// Open creates a page at url and tracks it.
func (h *Host) Open(ctx context.Context, url string) (agent.TabID, error) {
	b, err := h.connected()
	if err != nil {
		return "", err
	}
	page, err := b.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return "", fmt.Errorf("create page: %w", err)
	}
	if err := page.Context(ctx).Timeout(h.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		h.logger.Debug("initial load did not finish", zap.String("url", url), zap.Error(err))
	}
	return h.track(page, url, true), nil
}

// Attach tracks an existing target.
func (h *Host) Attach(ctx context.Context, targetID string) (agent.TabID, error) {
	b, err := h.connected()
	if err != nil {
		return "", err
	}
	page, err := b.PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return "", fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	url := ""
	if info, err := page.Info(); err == nil {
		url = info.URL
	}
	return h.track(page, url, false), nil
}

// Navigate loads url in tab.
func (h *Host) Navigate(ctx context.Context, tab agent.TabID, url string) error {
	page, err := h.page(tab)
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(h.cfg.NavigationTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return p.WaitLoad()
}

// Tabs lists tracked pages.
func (h *Host) Tabs() []Tab {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Tab, 0, len(h.tabs))
	for _, rec := range h.tabs {
		out = append(out, rec.meta)
	}
	return out
}

// Navigations implements agent.Navigator.
func (h *Host) Navigations() <-chan agent.Navigation { return h.navs }

// Ensure implements agent.Host. Restricted pages fail with
// agent.ErrRestricted without touching the page.
func (h *Host) Ensure(ctx context.Context, tab agent.TabID) error {
	page, err := h.page(tab)
	if err != nil {
		return err
	}
	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("target info: %w", err)
	}
	if agent.Restricted(info.URL) {
		return fmt.Errorf("%w %q", agent.ErrRestricted, info.URL)
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           agentScript,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return fmt.Errorf("install agent: %w", err)
	}
	h.logger.Debug("agent ready", zap.String("tab", string(tab)), zap.String("state", res.Value.Str()))
	return nil
}

// Dispatch implements agent.Host.
func (h *Host) Dispatch(ctx context.Context, tab agent.TabID, req agent.Request) (agent.Response, error) {
	page, err := h.page(tab)
	if err != nil {
		return nil, err
	}
	raw, err := agent.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           dispatchScript,
		JSArgs:       []interface{}{string(raw)},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	resp, err := agent.DecodeResponse(req.Type(), []byte(res.Value.Str()))
	if err != nil {
		if isReceiverMissing(err) {
			return nil, agent.ErrNoReceiver
		}
		return nil, err
	}
	return resp, nil
}

func isReceiverMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Receiving end does not exist")
}

func (h *Host) connected() (*rod.Browser, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.browser == nil {
		return nil, ErrNotConnected
	}
	return h.browser, nil
}

func (h *Host) page(tab agent.TabID) (*rod.Page, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrUnknownTab, tab)
	}
	return rec.page, nil
}

// track registers page and starts its event stream. The page has already
// loaded by the time it is tracked, and that load fired before anyone
// subscribed, so it is reported here as one top-level Navigation.
func (h *Host) track(page *rod.Page, url string, owned bool) agent.TabID {
	id := agent.TabID(page.TargetID)
	meta := Tab{ID: id, URL: url, CreatedAt: time.Now()}
	if info, err := page.Info(); err == nil {
		meta.Title = info.Title
		if info.URL != "" {
			meta.URL = info.URL
		}
	}
	h.mu.Lock()
	h.tabs[id] = &tabRecord{meta: meta, page: page, owned: owned}
	h.mu.Unlock()
	h.startEventStream(id, page)
	h.emit(agent.Navigation{Tab: id, URL: meta.URL, TopLevel: true})
	return id
}

// startEventStream forwards page loads to Navigations until the page or
// browser goes away. Subframe navigations are reported with TopLevel false.
func (h *Host) startEventStream(tab agent.TabID, page *rod.Page) {
	h.wg.Add(1)
	wait := page.EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil {
				return
			}
			if ev.Frame.ParentID != "" {
				h.emit(agent.Navigation{Tab: tab, URL: ev.Frame.URL, TopLevel: false})
				return
			}
			h.mu.Lock()
			if rec, ok := h.tabs[tab]; ok {
				rec.meta.URL = ev.Frame.URL
			}
			h.mu.Unlock()
		},
		func(ev *proto.PageLoadEventFired) {
			h.mu.RLock()
			url := ""
			if rec, ok := h.tabs[tab]; ok {
				url = rec.meta.URL
			}
			h.mu.RUnlock()
			h.emit(agent.Navigation{Tab: tab, URL: url, TopLevel: true})
		},
	)
	go func() {
		defer h.wg.Done()
		wait()
		h.logger.Debug("event stream ended", zap.String("tab", string(tab)))
	}()
}

func (h *Host) emit(nav agent.Navigation) {
	h.navMu.Lock()
	defer h.navMu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.navs <- nav:
	default:
		h.logger.Warn("navigation dropped, reconciler is behind", zap.String("tab", string(nav.Tab)), zap.String("url", nav.URL))
	}
}
