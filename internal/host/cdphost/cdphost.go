// Package cdphost drives a Chromium browser over the DevTools protocol and
// exposes it as a host.Host. The in-page handler is an embedded script
// evaluated in each tab.
package cdphost

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/wire"
)

//go:embed handler.js
var handlerJS string

const (
	bridgeGlobal       = "globalThis.__browserbeeBridge"
	defaultCallTimeout = 30 * time.Second
	eventQueueSize     = 1024
)

// Options configures a Host.
type Options struct {
	// HTTPBase is the DevTools HTTP endpoint, e.g. http://127.0.0.1:9222.
	HTTPBase string
	// Client is used for the DevTools HTTP endpoints. Nil uses
	// http.DefaultClient.
	Client *http.Client
	// SkipDiscovery lists existing targets over /json/list instead of a
	// chromedp session.
	SkipDiscovery bool
}

type tab struct {
	id        host.TabID
	windowID  host.WindowID
	url       string
	title     string
	status    string
	sessionID string
}

// Host is a host.Host backed by a running Chromium.
type Host struct {
	opts Options
	cdp  *rawCDP
	bus  *host.Bus

	mu       sync.Mutex
	tabs     map[host.TabID]*tab
	order    []host.TabID
	active   host.TabID
	sessions map[string]host.TabID

	attachMu sync.Mutex

	events      chan host.Event
	unsubscribe []func()
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

var _ host.Host = (*Host)(nil)

// New returns an unconnected host. Call Start before use.
func New(opts Options) *Host {
	return &Host{
		opts:     opts,
		cdp:      newRawCDP(opts.HTTPBase, opts.Client),
		bus:      host.NewBus(),
		tabs:     make(map[host.TabID]*tab),
		sessions: make(map[string]host.TabID),
		events:   make(chan host.Event, eventQueueSize),
	}
}

func (h *Host) Events() *host.Bus { return h.bus }

// Start discovers open pages, connects the protocol socket and follows
// target and page lifecycle events.
func (h *Host) Start(ctx context.Context) error {
	infos, err := h.discover(ctx)
	if err != nil {
		return err
	}
	if err := h.cdp.connect(ctx); err != nil {
		return err
	}

	h.wg.Add(1)
	go h.publishLoop()

	h.unsubscribe = append(h.unsubscribe,
		h.cdp.registerEventHandler("Target.targetCreated", h.onTargetCreated),
		h.cdp.registerEventHandler("Target.targetInfoChanged", h.onTargetInfoChanged),
		h.cdp.registerEventHandler("Target.targetDestroyed", h.onTargetDestroyed),
		h.cdp.registerEventHandler("Target.detachedFromTarget", h.onDetached),
		h.cdp.registerEventHandler("Page.lifecycleEvent", h.onLifecycle),
	)

	for _, info := range infos {
		if info.Type == "page" {
			h.addTarget(info)
		}
	}
	h.mu.Lock()
	if h.active == "" && len(h.order) > 0 {
		h.active = h.order[0]
	}
	h.mu.Unlock()

	if _, err := h.cdp.call(ctx, "", "Target.setDiscoverTargets", target.SetDiscoverTargets(true)); err != nil {
		return fmt.Errorf("cdphost: discover targets: %w", err)
	}
	slog.Info("cdphost started", "http_base", h.opts.HTTPBase, "tabs", len(infos))
	return nil
}

// discover lists the browser's targets through a short-lived chromedp
// session, falling back to the HTTP target list.
func (h *Host) discover(ctx context.Context) ([]*target.Info, error) {
	if !h.opts.SkipDiscovery {
		infos, err := h.chromedpTargets(ctx)
		if err == nil {
			return infos, nil
		}
		slog.Warn("cdphost chromedp discovery failed, using target list", "error", err)
	}
	infos, err := h.cdp.listTargets(ctx)
	if err != nil {
		return nil, fmt.Errorf("cdphost: list targets: %w", err)
	}
	return infos, nil
}

func (h *Host) chromedpTargets(ctx context.Context) ([]*target.Info, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, h.opts.HTTPBase)
	defer allocCancel()
	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	infos, err := chromedp.Targets(tempCtx)
	if err != nil {
		return nil, fmt.Errorf("enumerate targets: %w", err)
	}
	// The discovery session opened its own tab; leave it out.
	var own target.ID
	if c := chromedp.FromContext(tempCtx); c != nil && c.Target != nil {
		own = c.Target.TargetID
	}
	out := infos[:0]
	for _, info := range infos {
		if info.TargetID != own {
			out = append(out, info)
		}
	}
	return out, nil
}

// Close stops event delivery and drops the socket.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		for _, fn := range h.unsubscribe {
			fn()
		}
		h.cdp.close()
		close(h.events)
		h.wg.Wait()
		slog.Info("cdphost closed")
	})
}

// publishLoop moves protocol events onto the bus in arrival order. Bus
// handlers may call back into the host, so they never run on the socket
// reader.
func (h *Host) publishLoop() {
	defer h.wg.Done()
	for evt := range h.events {
		h.bus.Publish(evt)
	}
}

func (h *Host) emit(evt host.Event) {
	defer func() {
		if recover() != nil {
			slog.Debug("cdphost dropped event after close", "kind", evt.Kind, "tab_id", evt.TabID)
		}
	}()
	h.events <- evt
}

func (h *Host) addTarget(info *target.Info) bool {
	id := host.TabID(info.TargetID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.tabs[id]; ok {
		return false
	}
	h.tabs[id] = &tab{id: id, url: info.URL, title: info.Title, status: host.StatusComplete}
	h.order = append(h.order, id)
	return true
}

func (h *Host) removeTarget(id host.TabID) (host.WindowID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return 0, false
	}
	delete(h.tabs, id)
	if t.sessionID != "" {
		delete(h.sessions, t.sessionID)
	}
	idx := 0
	for i, tid := range h.order {
		if tid == id {
			idx = i
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
	if h.active == id {
		h.active = ""
		if len(h.order) > 0 {
			if idx >= len(h.order) {
				idx = len(h.order) - 1
			}
			h.active = h.order[idx]
		}
	}
	return t.windowID, true
}

type targetEvent struct {
	TargetInfo *target.Info `json:"targetInfo"`
	TargetID   target.ID    `json:"targetId"`
	SessionID  string       `json:"sessionId"`
}

func (h *Host) onTargetCreated(_ string, params json.RawMessage) {
	var ev targetEvent
	if json.Unmarshal(params, &ev) != nil || ev.TargetInfo == nil || ev.TargetInfo.Type != "page" {
		return
	}
	if h.addTarget(ev.TargetInfo) {
		h.emit(host.Event{Kind: host.EventTabCreated, TabID: host.TabID(ev.TargetInfo.TargetID), URL: ev.TargetInfo.URL})
	}
}

func (h *Host) onTargetInfoChanged(_ string, params json.RawMessage) {
	var ev targetEvent
	if json.Unmarshal(params, &ev) != nil || ev.TargetInfo == nil {
		return
	}
	id := host.TabID(ev.TargetInfo.TargetID)
	h.mu.Lock()
	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	titleChanged := t.title != ev.TargetInfo.Title
	t.url, t.title = ev.TargetInfo.URL, ev.TargetInfo.Title
	windowID := t.windowID
	h.mu.Unlock()

	if titleChanged {
		h.emit(host.Event{Kind: host.EventTabUpdated, TabID: id, WindowID: windowID, Title: ev.TargetInfo.Title})
	}
}

func (h *Host) onTargetDestroyed(_ string, params json.RawMessage) {
	var ev targetEvent
	if json.Unmarshal(params, &ev) != nil {
		return
	}
	id := host.TabID(ev.TargetID)
	if windowID, ok := h.removeTarget(id); ok {
		h.emit(host.Event{Kind: host.EventTabRemoved, TabID: id, WindowID: windowID})
	}
}

func (h *Host) onDetached(_ string, params json.RawMessage) {
	var ev targetEvent
	if json.Unmarshal(params, &ev) != nil || ev.SessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	id, ok := h.sessions[ev.SessionID]
	if !ok {
		return
	}
	delete(h.sessions, ev.SessionID)
	if t, ok := h.tabs[id]; ok && t.sessionID == ev.SessionID {
		t.sessionID = ""
	}
}

// lifecycleEvent is Page.lifecycleEvent. Frame ids of a tab's main frame
// equal its target id.
type lifecycleEvent struct {
	FrameID  string `json:"frameId"`
	LoaderID string `json:"loaderId"`
	Name     string `json:"name"`
}

func (h *Host) onLifecycle(sessionID string, params json.RawMessage) {
	var ev lifecycleEvent
	if json.Unmarshal(params, &ev) != nil {
		return
	}
	h.mu.Lock()
	id, ok := h.sessions[sessionID]
	t := h.tabs[id]
	if !ok || t == nil || ev.FrameID != string(id) {
		h.mu.Unlock()
		return
	}
	evt := host.Event{Kind: host.EventTabUpdated, TabID: id, WindowID: t.windowID}
	switch ev.Name {
	case "init":
		t.status = host.StatusLoading
		evt.Status, evt.URL = host.StatusLoading, t.url
	case "DOMContentLoaded":
		evt.Lifecycle = host.LifecycleDOMContentLoaded
	case "load":
		t.status = host.StatusComplete
		evt.Status, evt.URL, evt.Lifecycle = host.StatusComplete, t.url, host.LifecycleLoad
	case "networkIdle":
		evt.Lifecycle = host.LifecycleNetworkIdle
	default:
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.emit(evt)
}

func (h *Host) infoLocked(t *tab) host.TabInfo {
	idx := 0
	for i, id := range h.order {
		if id == t.id {
			idx = i
			break
		}
	}
	return host.TabInfo{
		ID:       t.id,
		WindowID: t.windowID,
		Index:    idx,
		URL:      t.url,
		Title:    t.title,
		Active:   h.active == t.id,
		Status:   t.status,
	}
}

func (h *Host) lookup(id host.TabID) (*tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tabs[id]
	if !ok {
		return nil, fmt.Errorf("cdphost: tab %s: %w", id, host.ErrTabNotFound)
	}
	return t, nil
}

// windowFor resolves and caches the browser window of a tab.
func (h *Host) windowFor(ctx context.Context, t *tab) host.WindowID {
	h.mu.Lock()
	windowID := t.windowID
	h.mu.Unlock()
	if windowID != 0 {
		return windowID
	}

	var resp struct {
		WindowID browser.WindowID `json:"windowId"`
	}
	params := browser.GetWindowForTarget().WithTargetID(target.ID(t.id))
	if err := h.cdp.callInto(ctx, "", "Browser.getWindowForTarget", params, &resp); err != nil {
		slog.Debug("cdphost window lookup failed", "tab_id", t.id, "error", err)
		return 0
	}
	h.mu.Lock()
	t.windowID = host.WindowID(resp.WindowID)
	h.mu.Unlock()
	return host.WindowID(resp.WindowID)
}

func (h *Host) GetTab(ctx context.Context, id host.TabID) (host.TabInfo, error) {
	t, err := h.lookup(id)
	if err != nil {
		return host.TabInfo{}, err
	}
	h.windowFor(ctx, t)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.infoLocked(t), nil
}

func (h *Host) QueryTabs(ctx context.Context) ([]host.TabInfo, error) {
	h.mu.Lock()
	list := make([]*tab, 0, len(h.order))
	for _, id := range h.order {
		list = append(list, h.tabs[id])
	}
	h.mu.Unlock()

	out := make([]host.TabInfo, 0, len(list))
	for _, t := range list {
		h.windowFor(ctx, t)
		h.mu.Lock()
		if _, ok := h.tabs[t.id]; ok {
			out = append(out, h.infoLocked(t))
		}
		h.mu.Unlock()
	}
	return out, nil
}

func (h *Host) CreateTab(ctx context.Context, url string, active bool) (host.TabInfo, error) {
	if url == "" {
		url = "about:blank"
	}
	var resp struct {
		TargetID target.ID `json:"targetId"`
	}
	params := target.CreateTarget(url).WithBackground(!active)
	if err := h.cdp.callInto(ctx, "", "Target.createTarget", params, &resp); err != nil {
		return host.TabInfo{}, fmt.Errorf("cdphost: create tab: %w", err)
	}
	id := host.TabID(resp.TargetID)
	if h.addTarget(&target.Info{TargetID: resp.TargetID, Type: "page", URL: url}) {
		h.emit(host.Event{Kind: host.EventTabCreated, TabID: id, URL: url})
	}
	if active {
		h.setActive(id)
	}
	return h.GetTab(ctx, id)
}

func (h *Host) setActive(id host.TabID) {
	h.mu.Lock()
	old := h.active
	h.active = id
	windowID := host.WindowID(0)
	if t, ok := h.tabs[id]; ok {
		windowID = t.windowID
	}
	h.mu.Unlock()
	if old != id {
		h.emit(host.Event{Kind: host.EventTabActivated, TabID: id, OldTabID: old, WindowID: windowID})
	}
}

func (h *Host) ActivateTab(ctx context.Context, id host.TabID) error {
	if _, err := h.lookup(id); err != nil {
		return err
	}
	if _, err := h.cdp.call(ctx, "", "Target.activateTarget", target.ActivateTarget(target.ID(id))); err != nil {
		return fmt.Errorf("cdphost: activate %s: %w", id, err)
	}
	h.setActive(id)
	return nil
}

func (h *Host) RemoveTab(ctx context.Context, id host.TabID) error {
	if _, err := h.lookup(id); err != nil {
		return err
	}
	if _, err := h.cdp.call(ctx, "", "Target.closeTarget", target.CloseTarget(target.ID(id))); err != nil {
		return fmt.Errorf("cdphost: close %s: %w", id, err)
	}
	if windowID, ok := h.removeTarget(id); ok {
		h.emit(host.Event{Kind: host.EventTabRemoved, TabID: id, WindowID: windowID})
	}
	return nil
}

// session returns the tab's flat session, attaching and enabling page
// lifecycle events on first use.
func (h *Host) session(ctx context.Context, id host.TabID) (string, error) {
	h.attachMu.Lock()
	defer h.attachMu.Unlock()

	t, err := h.lookup(id)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	sessionID := t.sessionID
	h.mu.Unlock()
	if sessionID != "" {
		return sessionID, nil
	}

	sessionID, err = h.cdp.attachToTarget(ctx, target.ID(id))
	if err != nil {
		return "", fmt.Errorf("cdphost: attach %s: %w", id, err)
	}
	h.mu.Lock()
	t.sessionID = sessionID
	h.sessions[sessionID] = id
	h.mu.Unlock()

	if _, err := h.cdp.call(ctx, sessionID, "Page.enable", nil); err != nil {
		return "", fmt.Errorf("cdphost: page enable %s: %w", id, err)
	}
	if _, err := h.cdp.call(ctx, sessionID, "Page.setLifecycleEventsEnabled", page.SetLifecycleEventsEnabled(true)); err != nil {
		return "", fmt.Errorf("cdphost: lifecycle events %s: %w", id, err)
	}
	return sessionID, nil
}

func (h *Host) NavigateTab(ctx context.Context, id host.TabID, url string) error {
	sessionID, err := h.session(ctx, id)
	if err != nil {
		return err
	}
	// Lifecycle events for the new document may arrive before the answer.
	h.mu.Lock()
	if t, ok := h.tabs[id]; ok {
		t.url = url
	}
	h.mu.Unlock()

	var resp struct {
		ErrorText string `json:"errorText"`
	}
	if err := h.cdp.callInto(ctx, sessionID, "Page.navigate", page.Navigate(url), &resp); err != nil {
		return fmt.Errorf("cdphost: navigate %s: %w", id, err)
	}
	if resp.ErrorText != "" {
		return fmt.Errorf("cdphost: navigate %s: %s", id, resp.ErrorText)
	}
	return nil
}

func (h *Host) traverse(ctx context.Context, id host.TabID, delta int) error {
	sessionID, err := h.session(ctx, id)
	if err != nil {
		return err
	}
	var hist struct {
		CurrentIndex int64 `json:"currentIndex"`
		Entries      []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"entries"`
	}
	if err := h.cdp.callInto(ctx, sessionID, "Page.getNavigationHistory", nil, &hist); err != nil {
		return fmt.Errorf("cdphost: history %s: %w", id, err)
	}
	next := int(hist.CurrentIndex) + delta
	if next < 0 || next >= len(hist.Entries) {
		return fmt.Errorf("cdphost: tab %s: %w", id, host.ErrNoHistory)
	}
	entry := hist.Entries[next]
	if _, err := h.cdp.call(ctx, sessionID, "Page.navigateToHistoryEntry", page.NavigateToHistoryEntry(entry.ID)); err != nil {
		return fmt.Errorf("cdphost: history entry %s: %w", id, err)
	}
	h.mu.Lock()
	if t, ok := h.tabs[id]; ok {
		t.url = entry.URL
	}
	h.mu.Unlock()
	return nil
}

func (h *Host) GoBack(ctx context.Context, id host.TabID) error    { return h.traverse(ctx, id, -1) }
func (h *Host) GoForward(ctx context.Context, id host.TabID) error { return h.traverse(ctx, id, 1) }

func (h *Host) InjectHandler(ctx context.Context, id host.TabID) error {
	t, err := h.lookup(id)
	if err != nil {
		return err
	}
	h.mu.Lock()
	url := t.url
	h.mu.Unlock()
	if host.IsRestrictedURL(url) {
		return fmt.Errorf("cdphost: %s: %w", url, host.ErrRestrictedURL)
	}

	sessionID, err := h.session(ctx, id)
	if err != nil {
		return err
	}
	state, err := h.cdp.evaluateString(ctx, sessionID, handlerJS)
	if err != nil {
		return fmt.Errorf("cdphost: inject %s: %w", id, err)
	}
	if state == "already-installed" {
		return host.ErrAlreadyInjected
	}
	slog.Debug("cdphost handler injected", "tab_id", id)
	return nil
}

// dispatchExpr calls the installed handler with req; pages without a
// handler evaluate to undefined.
func dispatchExpr(req wire.Request) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	literal, err := json.Marshal(string(data))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ? %s.dispatch(%s) : undefined", bridgeGlobal, bridgeGlobal, literal), nil
}

func (h *Host) SendMessage(ctx context.Context, id host.TabID, req wire.Request) (*wire.Reply, error) {
	sessionID, err := h.session(ctx, id)
	if err != nil {
		return nil, err
	}
	expr, err := dispatchExpr(req)
	if err != nil {
		return nil, fmt.Errorf("cdphost: encode request: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	ev, err := h.cdp.evaluate(ctx, sessionID, expr)
	if err != nil {
		return nil, fmt.Errorf("cdphost: send %s: %w", req.Method, err)
	}
	if ev.Type == "undefined" || len(ev.Value) == 0 {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(ev.Value, &text); err != nil {
		return nil, fmt.Errorf("cdphost: reply is not a string: %w", err)
	}
	var reply wire.Reply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("cdphost: decode reply: %w", err)
	}
	return &reply, nil
}

func (h *Host) CaptureVisible(ctx context.Context, id host.TabID, opts host.CaptureOptions) ([]byte, error) {
	sessionID, err := h.session(ctx, id)
	if err != nil {
		return nil, err
	}
	format := opts.Format
	if format == "" {
		format = "jpeg"
	}
	data, err := h.cdp.captureScreenshot(ctx, sessionID, format, opts.Quality, opts.FullPage)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("cdphost: decode capture: %w", err)
	}
	return raw, nil
}

// Connected reports whether the protocol socket is open.
func (h *Host) Connected() bool { return h.cdp.connected() }
