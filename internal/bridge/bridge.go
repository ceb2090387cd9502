// Package bridge is the controller side of a tab session: a request/reply
// client that drives one tab's in-page handler through the host.
package bridge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/wire"
)

// NavigationStrategy selects the page milestone WaitForNavigation waits for.
type NavigationStrategy string

const (
	WaitLoad             NavigationStrategy = "load"
	WaitDOMContentLoaded NavigationStrategy = "domcontentloaded"
	WaitNetworkIdle      NavigationStrategy = "networkidle"
	WaitAll              NavigationStrategy = "all"
)

// ParseStrategy normalizes s. Empty and unrecognized inputs select WaitAll.
func ParseStrategy(s string) NavigationStrategy {
	switch v := NavigationStrategy(strings.ToLower(strings.TrimSpace(s))); v {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return v
	default:
		return WaitAll
	}
}

// Screenshot formats.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
)

// DefaultCaptureQuality is the JPEG quality used when none is given.
const DefaultCaptureQuality = 40

// ScreenshotOptions controls CaptureScreenshot. Zero values select JPEG at
// DefaultCaptureQuality of the viewport.
type ScreenshotOptions struct {
	Format   string
	Quality  int
	FullPage bool
}

// ScreenshotResult is a captured image with its logical page dimensions.
type ScreenshotResult struct {
	Base64   string `json:"base64"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Format   string `json:"format"`
	FullPage bool   `json:"full_page"`
}

// Bridge is everything the agent can do to one tab.
type Bridge interface {
	TabID() host.TabID
	WindowID() host.WindowID

	Ping(ctx context.Context) error
	GetURL(ctx context.Context) (string, error)
	GetTitle(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	WaitForNavigation(ctx context.Context, strategy NavigationStrategy) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error

	InspectSelector(ctx context.Context, selector string) (wire.ElementState, error)
	InspectByText(ctx context.Context, text string, exact bool) (wire.ElementState, error)
	GetInputValue(ctx context.Context, selector string) (*string, error)
	ClickSelector(ctx context.Context, selector string) error
	ClickByText(ctx context.Context, text string, exact bool) error
	FillSelector(ctx context.Context, selector, text string) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	MoveMouse(ctx context.Context, p wire.Point) error
	ClickMouse(ctx context.Context, p wire.Point) error
	DragMouse(ctx context.Context, from, to wire.Point) error

	GetDomSnapshot(ctx context.Context, opts wire.SnapshotOptions) (string, error)
	QuerySelectorOuterHTML(ctx context.Context, selector string, limit int) ([]string, error)
	GetAccessibleTree(ctx context.Context, interestingOnly bool) (json.RawMessage, error)
	GetVisibleText(ctx context.Context) (string, error)
	GetViewport(ctx context.Context) (wire.Viewport, error)

	CaptureScreenshot(ctx context.Context, opts ScreenshotOptions) (ScreenshotResult, error)
	ResizeImage(ctx context.Context, p wire.ResizeImageParams) (wire.ImageResult, error)
	RecompressImage(ctx context.Context, p wire.RecompressImageParams) (wire.ImageResult, error)

	GetLastDialog(ctx context.Context) (*wire.DialogState, error)
	HandleDialog(ctx context.Context, action string, promptText *string) (wire.DialogResult, error)

	// Dispose releases the session. It never fails; cleanup errors are
	// logged.
	Dispose(ctx context.Context)
}
