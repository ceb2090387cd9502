// Package tools is the agent-facing surface: named operations that take one
// string, drive the active tab's bridge and always answer with a string.
// Failures are reported in the answer, starting with "Error".
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/screenshot"
	"github.com/Berry7028/browserbee/internal/tabs"
	"github.com/Berry7028/browserbee/internal/wire"
)

// ErrUnknownTool is returned by Run for names not in the toolkit.
var ErrUnknownTool = errors.New("unknown tool")

var errNoActiveTab = errors.New("no active tab is attached")

// Tool is one named operation.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	run func(ctx context.Context, input string) string
}

// Deps are the collaborators every toolkit shares.
type Deps struct {
	Host     host.Host
	Registry *tabs.Registry
	Pipeline *screenshot.Pipeline
	Store    *screenshot.Store
}

// Toolkit binds the tool set to one window. It satisfies tabs.Agent.
type Toolkit struct {
	id       string
	windowID host.WindowID
	deps     Deps
	fallback bridge.Bridge
	tools    map[string]Tool
}

var _ tabs.Agent = (*Toolkit)(nil)

// New returns a toolkit for windowID. fallback is used when the active
// slot is empty; it may be nil. A zero windowID spans every window.
func New(deps Deps, windowID host.WindowID, fallback bridge.Bridge) *Toolkit {
	if deps.Pipeline == nil {
		deps.Pipeline = screenshot.New(screenshot.Options{})
	}
	k := &Toolkit{
		id:       uuid.NewString(),
		windowID: windowID,
		deps:     deps,
		fallback: fallback,
		tools:    make(map[string]Tool),
	}
	k.registerNavigation()
	k.registerInteraction()
	k.registerKeyboardAndMouse()
	k.registerObservation()
	k.registerTabs()
	return k
}

func (k *Toolkit) AgentID() string { return k.id }

// WindowID returns the window the toolkit is bound to.
func (k *Toolkit) WindowID() host.WindowID { return k.windowID }

func (k *Toolkit) add(name, description string, run func(ctx context.Context, input string) string) {
	k.tools[name] = Tool{Name: name, Description: description, run: run}
}

// List returns every tool ordered by name.
func (k *Toolkit) List() []Tool {
	out := make([]Tool, 0, len(k.tools))
	for _, t := range k.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the named tool.
func (k *Toolkit) Lookup(name string) (Tool, bool) {
	t, ok := k.tools[name]
	return t, ok
}

// Run executes the named tool. Tool failures are part of the returned
// text; the error is only set for unknown names.
func (k *Toolkit) Run(ctx context.Context, name, input string) (string, error) {
	t, ok := k.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t.run(ctx, input), nil
}

// activeBridge resolves the bridge a call should drive: the active slot,
// then the toolkit's fallback, then the registry's current tab.
func (k *Toolkit) activeBridge() (bridge.Bridge, error) {
	if b := k.deps.Registry.Redirector().Get(k.fallback); b != nil {
		return b, nil
	}
	if b, ok := k.deps.Registry.BridgeFor(k.deps.Registry.CurrentTabID()); ok {
		return b, nil
	}
	return nil, errNoActiveTab
}

// withActiveBridge runs fn against the active bridge and turns any failure
// into "<prefix>: <message>".
func (k *Toolkit) withActiveBridge(prefix string, fn func(b bridge.Bridge) (string, error)) string {
	b, err := k.activeBridge()
	if err == nil {
		var out string
		if out, err = fn(b); err == nil {
			return out
		}
	}
	return prefix + ": " + errMessage(err)
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return bridge.Message(err)
}

func (k *Toolkit) publish(evt host.Event) {
	k.deps.Host.Events().Publish(evt)
}

// windowTabs lists the tabs of the toolkit's window in index order.
func (k *Toolkit) windowTabs(ctx context.Context) ([]host.TabInfo, error) {
	all, err := k.deps.Host.QueryTabs(ctx)
	if err != nil {
		return nil, err
	}
	if k.windowID == 0 {
		return all, nil
	}
	out := all[:0:0]
	for _, t := range all {
		if t.WindowID == k.windowID {
			out = append(out, t)
		}
	}
	return out, nil
}

func indexOfTab(list []host.TabInfo, id host.TabID) int {
	for i, t := range list {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func activeIndex(list []host.TabInfo) int {
	for i, t := range list {
		if t.Active {
			return i
		}
	}
	return -1
}

// truncate caps s at max characters and notes how many were cut.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max < 0 {
		max = 0
	}
	return string(r[:max]) + fmt.Sprintf("\n\n[Truncated %d characters]", len(r)-max)
}

// describeState renders an element observation for tool answers.
func describeState(st wire.ElementState) string {
	if !st.Found {
		return "element not found"
	}
	desc := st.Description
	if desc == "" {
		desc = "element"
	}
	state := "visible"
	if !st.Visible {
		state = "not visible"
	}
	if st.Disabled {
		state += ", disabled"
	}
	if st.Matches != nil && *st.Matches > 1 {
		state += fmt.Sprintf(", %d matches", *st.Matches)
	}
	return desc + " (" + state + ")"
}
