package tabs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Berry7028/browserbee/internal/activectx"
	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/host/statichost"
	"github.com/Berry7028/browserbee/internal/wire"
)

var pages = map[string]string{
	"https://example.com/":     `<html><head><title>Example</title></head><body><p>one</p></body></html>`,
	"https://example.com/next": `<html><head><title>Next</title></head><body><p>two</p></body></html>`,
}

// countingBridge wraps a real client and counts disposals.
type countingBridge struct {
	bridge.Bridge
	disposals atomic.Int32
}

func (b *countingBridge) Dispose(ctx context.Context) {
	b.disposals.Add(1)
	b.Bridge.Dispose(ctx)
}

type fixture struct {
	host    *statichost.Host
	reg     *Registry
	mu      sync.Mutex
	built   []*countingBridge
	events  []host.Event
	closers []func()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{host: statichost.New(statichost.Options{Pages: pages})}
	f.reg = New(f.host, activectx.New(), Options{
		NewBridge: func(h host.Host, tabID host.TabID, windowID host.WindowID) bridge.Bridge {
			b := &countingBridge{Bridge: bridge.NewClient(h, tabID, windowID, bridge.Options{})}
			f.mu.Lock()
			f.built = append(f.built, b)
			f.mu.Unlock()
			return b
		},
	})
	for _, kind := range []host.EventKind{
		host.EventTabStatus, host.EventTitleChanged, host.EventTargetChanged, host.EventActiveTabChanged,
	} {
		f.closers = append(f.closers, f.host.Events().Subscribe(kind, func(evt host.Event) {
			f.mu.Lock()
			f.events = append(f.events, evt)
			f.mu.Unlock()
		}))
	}
	t.Cleanup(func() {
		for _, c := range f.closers {
			c()
		}
		f.reg.Close()
		f.host.Wait()
	})
	return f
}

func (f *fixture) open(t *testing.T, url string, active bool) host.TabInfo {
	t.Helper()
	info, err := f.host.CreateTab(context.Background(), url, active)
	if err != nil {
		t.Fatalf("CreateTab(%q) error = %v", url, err)
	}
	f.host.Wait()
	return info
}

func (f *fixture) eventsOf(kind host.EventKind) []host.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []host.Event
	for _, e := range f.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (f *fixture) bridges() []*countingBridge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*countingBridge(nil), f.built...)
}

func TestAttachAnnouncesAndInitializesActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)

	ref, err := f.reg.Attach(ctx, tab.ID, 0)
	if ref != nil || err != nil {
		t.Fatalf("Attach() = %+v, %v; want success", ref, err)
	}
	s, ok := f.reg.Session(tab.ID)
	if !ok || s.Title != "Example" || s.WindowID != tab.WindowID {
		t.Fatalf("Session() = %+v, %v", s, ok)
	}
	if st := f.reg.State(tab.ID); st != StateAttached {
		t.Fatalf("State() = %s; want attached", st)
	}
	if got := f.reg.Redirector().Current(); got != s.Bridge {
		t.Fatalf("active bridge = %v; want the new session's", got)
	}
	status := f.eventsOf(host.EventTabStatus)
	if len(status) != 1 || status[0].Status != host.TabAttached || status[0].TabID != tab.ID {
		t.Fatalf("tab status events = %+v", status)
	}
	if !f.reg.IsConnectionHealthy(ctx, s.Bridge) {
		t.Fatalf("IsConnectionHealthy() = false for a live session")
	}
}

func TestReattachDisposesPreviousExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)

	if _, err := f.reg.Attach(ctx, tab.ID, 0); err != nil {
		t.Fatalf("first Attach() error = %v", err)
	}
	if _, err := f.reg.Attach(ctx, tab.ID, 0); err != nil {
		t.Fatalf("second Attach() error = %v", err)
	}
	built := f.bridges()
	if len(built) != 2 {
		t.Fatalf("bridges built = %d; want 2", len(built))
	}
	if n := built[0].disposals.Load(); n != 1 {
		t.Fatalf("first bridge disposed %d times; want 1", n)
	}
	if n := built[1].disposals.Load(); n != 0 {
		t.Fatalf("second bridge disposed %d times; want 0", n)
	}
	s, _ := f.reg.Session(tab.ID)
	if s.Bridge != built[1] {
		t.Fatalf("session bridge is not the replacement")
	}
	if got := f.reg.Redirector().Current(); got != built[1] {
		t.Fatalf("active slot still points at the disposed bridge")
	}
}

func TestAttachRefusesRestrictedPages(t *testing.T) {
	f := newFixture(t)
	tab := f.open(t, "about:blank", true)

	ref, err := f.reg.Attach(context.Background(), tab.ID, 0)
	if err != nil {
		t.Fatalf("Attach() error = %v; want refusal", err)
	}
	if ref == nil || ref.Error != "unsupported_tab" || ref.Reason == "" {
		t.Fatalf("Attach() refusal = %+v", ref)
	}
	if f.reg.IsAttached(tab.ID) || f.reg.State(tab.ID) != StateUnknown {
		t.Fatalf("refused attach left state %s", f.reg.State(tab.ID))
	}
	if len(f.bridges()) != 0 {
		t.Fatalf("refused attach built a bridge")
	}
}

func TestAttachUnknownTab(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.Attach(context.Background(), "tab-404", 0)
	if !bridge.IsCode(err, bridge.CodeTabNotFound) {
		t.Fatalf("Attach(missing) error = %v; want %s", err, bridge.CodeTabNotFound)
	}
}

func TestTabRemovalDisposesAndForgets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)
	if _, err := f.reg.Attach(ctx, tab.ID, 0); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	f.reg.Start()

	if err := f.host.RemoveTab(ctx, tab.ID); err != nil {
		t.Fatalf("RemoveTab() error = %v", err)
	}
	if n := f.bridges()[0].disposals.Load(); n != 1 {
		t.Fatalf("bridge disposed %d times; want 1", n)
	}
	if _, ok := f.reg.Session(tab.ID); ok {
		t.Fatalf("Session() still present after removal")
	}
	if _, ok := f.reg.WindowForTab(tab.ID); ok {
		t.Fatalf("window association survived removal")
	}
	if st := f.reg.State(tab.ID); st != StateClosed {
		t.Fatalf("State() = %s; want closed", st)
	}
	if f.reg.Redirector().Current() != nil {
		t.Fatalf("active slot still references the removed tab")
	}
	status := f.eventsOf(host.EventTabStatus)
	if last := status[len(status)-1]; last.Status != host.TabDetached || last.TabID != tab.ID {
		t.Fatalf("last status event = %+v; want detached", last)
	}
}

func TestActivationAttachesInBackground(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "https://example.com/", true)
	b := f.open(t, "https://example.com/next", false)
	f.reg.Start()

	if err := f.host.ActivateTab(ctx, b.ID); err != nil {
		t.Fatalf("ActivateTab() error = %v", err)
	}
	f.reg.wg.Wait()

	if !f.reg.IsAttached(b.ID) {
		t.Fatalf("activated tab was not attached")
	}
	if got := f.reg.CurrentTabID(); got != b.ID {
		t.Fatalf("CurrentTabID() = %s; want %s", got, b.ID)
	}
	changes := f.eventsOf(host.EventActiveTabChanged)
	if len(changes) != 1 {
		t.Fatalf("active changes = %+v; want 1", changes)
	}
	if changes[0].TabID != b.ID || changes[0].Title != UnknownTitle {
		t.Fatalf("active change = %+v", changes[0])
	}

	// Switching back reports the previous tab and the known title.
	if _, err := f.reg.Attach(ctx, a.ID, 0); err != nil {
		t.Fatalf("Attach(a) error = %v", err)
	}
	if err := f.host.ActivateTab(ctx, a.ID); err != nil {
		t.Fatalf("ActivateTab(a) error = %v", err)
	}
	changes = f.eventsOf(host.EventActiveTabChanged)
	last := changes[len(changes)-1]
	if last.OldTabID != b.ID || last.Title != "Example" {
		t.Fatalf("second active change = %+v", last)
	}
}

func TestActivationOfRestrictedTabIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.reg.Start()
	blank := f.open(t, "", false)
	if err := f.host.ActivateTab(context.Background(), blank.ID); err != nil {
		t.Fatalf("ActivateTab() error = %v", err)
	}
	f.reg.wg.Wait()
	if f.reg.IsAttached(blank.ID) {
		t.Fatalf("restricted tab was attached")
	}
}

func TestUpdatesRelayTitleAndTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)
	if _, err := f.reg.Attach(ctx, tab.ID, 0); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	f.reg.Start()

	if err := f.host.NavigateTab(ctx, tab.ID, "https://example.com/next"); err != nil {
		t.Fatalf("NavigateTab() error = %v", err)
	}
	f.host.Wait()

	s, _ := f.reg.Session(tab.ID)
	if s.Title != "Next" {
		t.Fatalf("session title = %q; want Next", s.Title)
	}
	titles := f.eventsOf(host.EventTitleChanged)
	if last := titles[len(titles)-1]; last.Title != "Next" {
		t.Fatalf("last title event = %+v", last)
	}
	targets := f.eventsOf(host.EventTargetChanged)
	if len(targets) != 1 || targets[0].URL != "https://example.com/next" {
		t.Fatalf("target events = %+v", targets)
	}
}

type failingBridge struct{ bridge.Bridge }

func (failingBridge) TabID() host.TabID { return "tab-dead" }
func (failingBridge) GetTitle(context.Context) (string, error) {
	return "", errors.New("No response from content script")
}

func TestIsConnectionHealthy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if f.reg.IsConnectionHealthy(ctx, nil) {
		t.Fatalf("IsConnectionHealthy(nil) = true")
	}
	if f.reg.IsConnectionHealthy(ctx, failingBridge{}) {
		t.Fatalf("IsConnectionHealthy(failing) = true")
	}
}

func TestCleanupOnUnloadIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "https://example.com/", true)
	b := f.open(t, "https://example.com/next", false)
	for _, id := range []host.TabID{a.ID, b.ID} {
		if _, err := f.reg.Attach(ctx, id, 0); err != nil {
			t.Fatalf("Attach(%s) error = %v", id, err)
		}
	}
	f.reg.SetAgentForWindow(a.WindowID, testAgent("agent-1"))

	f.reg.CleanupOnUnload(ctx)

	for i, cb := range f.bridges() {
		if n := cb.disposals.Load(); n != 1 {
			t.Fatalf("bridge %d disposed %d times; want 1", i, n)
		}
	}
	if n := len(f.reg.Sessions()); n != 0 {
		t.Fatalf("Sessions() = %d after cleanup; want 0", n)
	}
	if f.reg.Redirector().Current() != nil || f.reg.CurrentTabID() != "" {
		t.Fatalf("active state survived cleanup")
	}
	if _, ok := f.reg.AgentForWindow(a.WindowID); ok {
		t.Fatalf("agent association survived cleanup")
	}
	if st := f.reg.State(a.ID); st != StateDetached {
		t.Fatalf("State() = %s; want detached", st)
	}
	detached := len(f.eventsOf(host.EventTabStatus)) - 2
	if detached != 2 {
		t.Fatalf("detached announcements = %d; want 2", detached)
	}

	if !f.reg.ForceReset(ctx) {
		t.Fatalf("ForceReset() = false")
	}
	if got := len(f.eventsOf(host.EventTabStatus)) - 2; got != detached {
		t.Fatalf("second cleanup announced %d more detachments", got-detached)
	}
}

// blockedHost refuses every handler injection.
type blockedHost struct{ *statichost.Host }

func (blockedHost) InjectHandler(context.Context, host.TabID) error {
	return errors.New("script injection blocked")
}

func TestFailedInjectionLeavesNoTrace(t *testing.T) {
	sh := statichost.New(statichost.Options{Pages: pages})
	t.Cleanup(sh.Wait)
	reg := New(blockedHost{sh}, activectx.New(), Options{})
	t.Cleanup(reg.Close)
	ctx := context.Background()

	a, err := sh.CreateTab(ctx, "https://example.com/", false)
	if err != nil {
		t.Fatalf("CreateTab() error = %v", err)
	}
	sh.Wait()

	_, err = reg.Attach(ctx, a.ID, 3)
	if !bridge.IsCode(err, bridge.CodeInjectionFailed) {
		t.Fatalf("Attach() error = %v; want %s", err, bridge.CodeInjectionFailed)
	}
	if reg.IsAttached(a.ID) || reg.State(a.ID) != StateUnknown {
		t.Fatalf("failed attach left state %s", reg.State(a.ID))
	}
	if _, ok := reg.WindowForTab(a.ID); ok {
		t.Fatalf("failed attach left a window association")
	}
	if got := reg.CurrentTabID(); got != "" {
		t.Fatalf("CurrentTabID() = %s after failed attach; want none", got)
	}
	if reg.Redirector().Current() != nil {
		t.Fatalf("failed attach filled the active slot")
	}

	// Activation marks the tab current even though its attach fails.
	reg.Start()
	if err := sh.ActivateTab(ctx, a.ID); err != nil {
		t.Fatalf("ActivateTab() error = %v", err)
	}
	reg.wg.Wait()
	if got := reg.CurrentTabID(); got != a.ID {
		t.Fatalf("CurrentTabID() = %s; want %s", got, a.ID)
	}
	if err := sh.RemoveTab(ctx, a.ID); err != nil {
		t.Fatalf("RemoveTab() error = %v", err)
	}
	if got := reg.CurrentTabID(); got != "" {
		t.Fatalf("CurrentTabID() = %s after removal; want none", got)
	}
}

func TestDisposedSessionIsUnhealthy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)
	if _, err := f.reg.Attach(ctx, tab.ID, 0); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	s, _ := f.reg.Session(tab.ID)
	s.Bridge.Dispose(ctx)
	if f.reg.IsConnectionHealthy(ctx, s.Bridge) {
		t.Fatalf("IsConnectionHealthy() = true for a disposed bridge")
	}
}

// recordingHost counts the correlation ids it carries.
type recordingHost struct {
	*statichost.Host
	mu  sync.Mutex
	ids map[string]int
}

func (h *recordingHost) SendMessage(ctx context.Context, id host.TabID, req wire.Request) (*wire.Reply, error) {
	h.mu.Lock()
	h.ids[req.ID]++
	h.mu.Unlock()
	return h.Host.SendMessage(ctx, id, req)
}

func TestSessionsNeverReuseCorrelationIDs(t *testing.T) {
	rh := &recordingHost{Host: statichost.New(statichost.Options{Pages: pages}), ids: make(map[string]int)}
	t.Cleanup(rh.Wait)
	reg := New(rh, activectx.New(), Options{})
	ctx := context.Background()

	var bridges []bridge.Bridge
	for _, url := range []string{"https://example.com/", "https://example.com/next"} {
		info, err := rh.CreateTab(ctx, url, false)
		if err != nil {
			t.Fatalf("CreateTab(%q) error = %v", url, err)
		}
		rh.Wait()
		if _, err := reg.Attach(ctx, info.ID, 0); err != nil {
			t.Fatalf("Attach(%s) error = %v", info.ID, err)
		}
		b, _ := reg.BridgeFor(info.ID)
		bridges = append(bridges, b)
	}

	var wg sync.WaitGroup
	for _, b := range bridges {
		wg.Add(1)
		go func(b bridge.Bridge) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				if _, err := b.GetVisibleText(ctx); err != nil {
					t.Errorf("GetVisibleText(%s) error = %v", b.TabID(), err)
					return
				}
			}
		}(b)
	}
	wg.Wait()

	rh.mu.Lock()
	defer rh.mu.Unlock()
	if len(rh.ids) != 40 {
		t.Fatalf("distinct ids = %d; want 40", len(rh.ids))
	}
	for id, n := range rh.ids {
		if n != 1 {
			t.Fatalf("correlation id %s used %d times", id, n)
		}
	}
}

type testAgent string

func (a testAgent) AgentID() string { return string(a) }

func TestAgentAssociations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tab := f.open(t, "https://example.com/", true)
	if _, err := f.reg.Attach(ctx, tab.ID, 7); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	f.reg.SetAgentForWindow(7, testAgent("w7"))

	if a, ok := f.reg.AgentForTab(tab.ID); !ok || a.AgentID() != "w7" {
		t.Fatalf("AgentForTab() = %v, %v; want w7", a, ok)
	}
	if _, ok := f.reg.AgentForTab("tab-other"); ok {
		t.Fatalf("AgentForTab(unknown) found an agent")
	}
	f.reg.CleanupWindow(7)
	if _, ok := f.reg.AgentForWindow(7); ok {
		t.Fatalf("AgentForWindow() after CleanupWindow found an agent")
	}
}
