// Package tabs tracks which browser tabs have a live bridge session and
// keeps that table in step with host tab lifecycle events.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Berry7028/browserbee/internal/activectx"
	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
)

// State is a tab's position in the attach lifecycle.
type State string

const (
	StateUnknown   State = "unknown"
	StateAttaching State = "attaching"
	StateAttached  State = "attached"
	StateDetached  State = "detached"
	StateClosed    State = "closed"
)

// UnknownTitle is reported for tabs whose title has not been seen yet.
const UnknownTitle = "Unknown Tab"

const (
	refusalUnsupportedTab = "unsupported_tab"
	refusalReason         = "This page cannot be accessed by extensions for security reasons. Please navigate to a regular web page."

	defaultAttachTimeout = 10 * time.Second
)

// Refusal is the policy answer to an attach on a page that cannot be
// scripted. It is a result, not an error.
type Refusal struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Session is one attached tab.
type Session struct {
	TabID      host.TabID
	WindowID   host.WindowID
	Title      string
	Bridge     bridge.Bridge
	AttachedAt time.Time
}

// Agent is whatever drives a window's tabs. The registry only records the
// association.
type Agent interface {
	AgentID() string
}

// BridgeFactory builds the bridge for a newly attached tab.
type BridgeFactory func(h host.Host, tabID host.TabID, windowID host.WindowID) bridge.Bridge

// Options tunes a Registry.
type Options struct {
	// NewBridge defaults to bridge.NewClient with Bridge options.
	NewBridge BridgeFactory
	Bridge    bridge.Options
	// AttachTimeout bounds attaches started by tab activation.
	AttachTimeout time.Duration
}

// Registry owns every tab session. Callers borrow bridges from it and must
// not keep them across calls that may detach the tab.
type Registry struct {
	host     host.Host
	bus      *host.Bus
	redirect *activectx.Redirector
	opts     Options

	// attachMu serializes attaches so a replaced bridge is always disposed
	// before its successor is installed.
	attachMu sync.Mutex

	mu         sync.RWMutex
	sessions   map[host.TabID]*Session
	states     map[host.TabID]State
	windows    map[host.TabID]host.WindowID
	agents     map[host.WindowID]Agent
	current    host.TabID
	lastActive host.TabID

	unsubscribe []func()
	wg          sync.WaitGroup
}

// New returns a registry over h. Call Start to follow host tab events.
func New(h host.Host, redirect *activectx.Redirector, opts Options) *Registry {
	if opts.NewBridge == nil {
		bopts := opts.Bridge
		opts.NewBridge = func(h host.Host, tabID host.TabID, windowID host.WindowID) bridge.Bridge {
			return bridge.NewClient(h, tabID, windowID, bopts)
		}
	}
	if opts.AttachTimeout <= 0 {
		opts.AttachTimeout = defaultAttachTimeout
	}
	if redirect == nil {
		redirect = activectx.New()
	}
	return &Registry{
		host:     h,
		bus:      h.Events(),
		redirect: redirect,
		opts:     opts,
		sessions: make(map[host.TabID]*Session),
		states:   make(map[host.TabID]State),
		windows:  make(map[host.TabID]host.WindowID),
		agents:   make(map[host.WindowID]Agent),
	}
}

// Redirector returns the active-bridge slot the registry maintains.
func (r *Registry) Redirector() *activectx.Redirector { return r.redirect }

// Start subscribes to host tab removal, update and activation events.
func (r *Registry) Start() {
	r.unsubscribe = append(r.unsubscribe,
		r.bus.Subscribe(host.EventTabRemoved, r.onRemoved),
		r.bus.Subscribe(host.EventTabUpdated, r.onUpdated),
		r.bus.Subscribe(host.EventTabActivated, r.onActivated),
	)
}

// Close unsubscribes from the host and waits for background attaches.
func (r *Registry) Close() {
	for _, fn := range r.unsubscribe {
		fn()
	}
	r.unsubscribe = nil
	r.wg.Wait()
}

// Attach creates a session for tabID, replacing and disposing any previous
// one. A zero windowID uses the host's. Pages that cannot be scripted yield
// a Refusal and leave the registry untouched.
func (r *Registry) Attach(ctx context.Context, tabID host.TabID, windowID host.WindowID) (*Refusal, error) {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()
	return r.attachLocked(ctx, tabID, windowID)
}

// EnsureAttached attaches tabID unless it already has a session, which is
// kept. Concurrent callers build at most one bridge.
func (r *Registry) EnsureAttached(ctx context.Context, tabID host.TabID, windowID host.WindowID) (*Refusal, error) {
	r.attachMu.Lock()
	defer r.attachMu.Unlock()
	if r.IsAttached(tabID) {
		return nil, nil
	}
	return r.attachLocked(ctx, tabID, windowID)
}

func (r *Registry) attachLocked(ctx context.Context, tabID host.TabID, windowID host.WindowID) (*Refusal, error) {
	tab, err := r.host.GetTab(ctx, tabID)
	if err != nil {
		if errors.Is(err, host.ErrTabNotFound) {
			return nil, bridge.NewError(bridge.CodeTabNotFound, fmt.Sprintf("tab %s not found", tabID), err)
		}
		return nil, bridge.NewError(bridge.CodeHostUnavailable, "get tab", err)
	}
	if host.IsRestrictedURL(tab.URL) {
		slog.Info("tabs attach refused", "tab_id", tabID, "url", tab.URL)
		return refusal(), nil
	}
	if windowID == 0 {
		windowID = tab.WindowID
	}

	r.mu.Lock()
	prevState, seen := r.states[tabID]
	r.states[tabID] = StateAttaching
	prev := r.sessions[tabID]
	r.mu.Unlock()

	restore := func() {
		r.mu.Lock()
		if seen {
			r.states[tabID] = prevState
		} else {
			delete(r.states, tabID)
		}
		r.mu.Unlock()
	}

	if err := r.host.InjectHandler(ctx, tabID); err != nil && !errors.Is(err, host.ErrAlreadyInjected) {
		restore()
		if errors.Is(err, host.ErrRestrictedURL) {
			slog.Info("tabs attach refused by host", "tab_id", tabID, "error", err)
			return refusal(), nil
		}
		slog.Error("tabs attach failed", "tab_id", tabID, "error", err)
		return nil, bridge.NewError(bridge.CodeInjectionFailed, "inject page handler", err)
	}

	b := r.opts.NewBridge(r.host, tabID, windowID)
	if prev != nil && prev.Bridge != b {
		prev.Bridge.Dispose(ctx)
	}

	title := tab.Title
	if title == "" {
		title = UnknownTitle
	}
	r.mu.Lock()
	r.sessions[tabID] = &Session{
		TabID:      tabID,
		WindowID:   windowID,
		Title:      title,
		Bridge:     b,
		AttachedAt: time.Now().UTC(),
	}
	r.states[tabID] = StateAttached
	r.windows[tabID] = windowID
	r.current = tabID
	r.mu.Unlock()

	if prev != nil {
		r.redirect.Swap(prev.Bridge, b)
	}
	r.redirect.Initialize(b)

	slog.Info("tabs attach ok", "tab_id", tabID, "window_id", windowID, "replaced", prev != nil)
	r.bus.Publish(host.Event{Kind: host.EventTabStatus, TabID: tabID, WindowID: windowID, Status: host.TabAttached})
	r.bus.Publish(host.Event{Kind: host.EventTitleChanged, TabID: tabID, Title: title})
	return nil, nil
}

func refusal() *Refusal {
	return &Refusal{Error: refusalUnsupportedTab, Reason: refusalReason}
}

func (r *Registry) onRemoved(evt host.Event) {
	r.mu.Lock()
	delete(r.windows, evt.TabID)
	if r.current == evt.TabID {
		r.current = ""
	}
	s, ok := r.sessions[evt.TabID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, evt.TabID)
	r.states[evt.TabID] = StateClosed
	r.mu.Unlock()

	r.redirect.Swap(s.Bridge, nil)
	s.Bridge.Dispose(context.Background())
	slog.Info("tabs detached", "tab_id", evt.TabID, "reason", "removed")
	r.bus.Publish(host.Event{Kind: host.EventTabStatus, TabID: evt.TabID, Status: host.TabDetached})
}

func (r *Registry) onUpdated(evt host.Event) {
	r.mu.Lock()
	s, ok := r.sessions[evt.TabID]
	if ok && evt.Title != "" {
		s.Title = evt.Title
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if evt.Title != "" {
		r.bus.Publish(host.Event{Kind: host.EventTitleChanged, TabID: evt.TabID, Title: evt.Title})
	}
	if evt.URL != "" && evt.Status == host.StatusComplete {
		r.bus.Publish(host.Event{Kind: host.EventTargetChanged, TabID: evt.TabID, URL: evt.URL})
	}
}

func (r *Registry) onActivated(evt host.Event) {
	r.mu.Lock()
	r.current = evt.TabID
	prev := r.lastActive
	r.lastActive = evt.TabID
	title := UnknownTitle
	s, attached := r.sessions[evt.TabID]
	if attached {
		title = s.Title
	}
	r.mu.Unlock()

	r.bus.Publish(host.Event{
		Kind:     host.EventActiveTabChanged,
		TabID:    evt.TabID,
		OldTabID: prev,
		WindowID: evt.WindowID,
		Title:    title,
	})

	if attached {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.AttachTimeout)
		defer cancel()
		ref, err := r.EnsureAttached(ctx, evt.TabID, evt.WindowID)
		switch {
		case err != nil:
			slog.Debug("tabs background attach failed", "tab_id", evt.TabID, "error", err)
		case ref != nil:
			slog.Debug("tabs background attach refused", "tab_id", evt.TabID, "reason", ref.Reason)
		}
	}()
}

// IsConnectionHealthy probes b with a title round trip.
func (r *Registry) IsConnectionHealthy(ctx context.Context, b bridge.Bridge) bool {
	if b == nil {
		return false
	}
	if _, err := b.GetTitle(ctx); err != nil {
		slog.Warn("tabs connection health check failed", "tab_id", b.TabID(), "error", err)
		return false
	}
	return true
}

// CleanupOnUnload disposes every session, announces each detachment and
// clears all tables and the active slot. It is safe to call repeatedly.
func (r *Registry) CleanupOnUnload(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[host.TabID]*Session)
	r.windows = make(map[host.TabID]host.WindowID)
	r.agents = make(map[host.WindowID]Agent)
	r.states = make(map[host.TabID]State, len(sessions))
	for _, s := range sessions {
		r.states[s.TabID] = StateDetached
	}
	r.current = ""
	r.lastActive = ""
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].TabID < sessions[j].TabID })
	for _, s := range sessions {
		s.Bridge.Dispose(ctx)
		r.bus.Publish(host.Event{Kind: host.EventTabStatus, TabID: s.TabID, Status: host.TabDetached})
	}
	r.redirect.Reset()
}

// ForceReset tears down all bridge state and reports success.
func (r *Registry) ForceReset(ctx context.Context) bool {
	r.CleanupOnUnload(ctx)
	slog.Info("tabs bridge state reset")
	return true
}

// Session returns a copy of tabID's session.
func (r *Registry) Session(tabID host.TabID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tabID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Sessions returns copies of every session ordered by tab id.
func (r *Registry) Sessions() []Session {
	r.mu.RLock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// BridgeFor returns the bridge of an attached tab.
func (r *Registry) BridgeFor(tabID host.TabID) (bridge.Bridge, bool) {
	s, ok := r.Session(tabID)
	if !ok {
		return nil, false
	}
	return s.Bridge, true
}

// State returns tabID's lifecycle state.
func (r *Registry) State(tabID host.TabID) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if st, ok := r.states[tabID]; ok {
		return st
	}
	return StateUnknown
}

// IsAttached reports whether tabID has a session.
func (r *Registry) IsAttached(tabID host.TabID) bool {
	_, ok := r.Session(tabID)
	return ok
}

// CurrentTabID returns the most recently attached or activated tab.
func (r *Registry) CurrentTabID() host.TabID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// SetCurrentTabID records tabID as current.
func (r *Registry) SetCurrentTabID(tabID host.TabID) {
	r.mu.Lock()
	r.current = tabID
	r.mu.Unlock()
}

// WindowForTab returns the window an attached tab belongs to.
func (r *Registry) WindowForTab(tabID host.TabID) (host.WindowID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[tabID]
	return w, ok
}

func (r *Registry) SetAgentForWindow(windowID host.WindowID, a Agent) {
	r.mu.Lock()
	r.agents[windowID] = a
	r.mu.Unlock()
}

func (r *Registry) AgentForWindow(windowID host.WindowID) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[windowID]
	return a, ok
}

// AgentForTab resolves the agent of the window tabID was attached in.
func (r *Registry) AgentForTab(tabID host.TabID) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.windows[tabID]
	if !ok {
		return nil, false
	}
	a, ok := r.agents[w]
	return a, ok
}

// CleanupWindow drops the agent association of a closed window.
func (r *Registry) CleanupWindow(windowID host.WindowID) {
	r.mu.Lock()
	delete(r.agents, windowID)
	r.mu.Unlock()
}
