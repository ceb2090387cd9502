// Package host describes the browser control surface the bridge runs on:
// tab queries, navigation, handler injection, message delivery, capture and
// a process-wide event bus.
package host

import (
	"context"
	"errors"
	"strings"

	"github.com/Berry7028/browserbee/internal/wire"
)

// TabID identifies a browser tab. CDP backends use the target id.
type TabID string

// WindowID identifies a browser window. Zero means unknown.
type WindowID int

// Tab load status values reported on TabUpdated events.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

var (
	// ErrAlreadyInjected is returned by InjectHandler when the tab already
	// runs a handler.
	ErrAlreadyInjected = errors.New("host: handler already injected")
	// ErrTabNotFound is returned for unknown tab ids.
	ErrTabNotFound = errors.New("host: tab not found")
	// ErrRestrictedURL is returned when a page cannot be scripted.
	ErrRestrictedURL = errors.New("host: cannot access a restricted page")
	// ErrNoHistory is returned by GoBack and GoForward at the history edge.
	ErrNoHistory = errors.New("host: no history entry")
)

// TabInfo is a snapshot of a tab's host-side metadata.
type TabInfo struct {
	ID       TabID    `json:"id"`
	WindowID WindowID `json:"window_id"`
	Index    int      `json:"index"`
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Active   bool     `json:"active"`
	Status   string   `json:"status,omitempty"`
}

// CaptureOptions controls CaptureVisible.
type CaptureOptions struct {
	Format   string
	Quality  int
	FullPage bool
}

// Host is the browser control API.
type Host interface {
	GetTab(ctx context.Context, id TabID) (TabInfo, error)
	QueryTabs(ctx context.Context) ([]TabInfo, error)
	CreateTab(ctx context.Context, url string, active bool) (TabInfo, error)
	NavigateTab(ctx context.Context, id TabID, url string) error
	ActivateTab(ctx context.Context, id TabID) error
	RemoveTab(ctx context.Context, id TabID) error
	GoBack(ctx context.Context, id TabID) error
	GoForward(ctx context.Context, id TabID) error

	// InjectHandler installs the in-page handler. It returns
	// ErrAlreadyInjected when one is already present.
	InjectHandler(ctx context.Context, id TabID) error
	// SendMessage delivers req to the tab's handler. A nil reply with a nil
	// error means the page produced no response.
	SendMessage(ctx context.Context, id TabID, req wire.Request) (*wire.Reply, error)
	// CaptureVisible returns the encoded image bytes of the tab's viewport,
	// or of the whole page when FullPage is set.
	CaptureVisible(ctx context.Context, id TabID, opts CaptureOptions) ([]byte, error)

	Events() *Bus
}

var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"edge://",
	"about:",
	"devtools://",
	"view-source:",
}

// IsRestrictedURL reports whether a page at rawURL cannot be scripted.
// An empty URL is treated as restricted.
func IsRestrictedURL(rawURL string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if u == "" {
		return true
	}
	for _, p := range restrictedPrefixes {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
