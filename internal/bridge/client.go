package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/wire"
)

// DefaultNavigationTimeout bounds WaitForNavigation.
const DefaultNavigationTimeout = 15 * time.Second

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// RequestTimeout bounds each request. Zero waits for the reply or for
	// ctx, whichever comes first.
	RequestTimeout    time.Duration
	NavigationTimeout time.Duration
	// IDs defaults to the process-wide generator so correlation ids never
	// collide across bridges.
	IDs *wire.IDGenerator
}

// callResult is what a pending call is resolved with.
type callResult struct {
	reply wire.Reply
	err   error
}

// Client implements Bridge by exchanging wire messages with the handler
// the host injects into the tab.
type Client struct {
	host     host.Host
	tabID    host.TabID
	windowID host.WindowID
	opts     Options

	pendingMu sync.Mutex
	pending   map[string]chan callResult

	mu       sync.Mutex
	injected bool
	closing  bool
	disposed bool

	unsubscribe func()
}

var _ Bridge = (*Client)(nil)

// NewClient returns a client for one tab. windowID may be zero when the
// window is unknown, which disables full-page capture.
func NewClient(h host.Host, tabID host.TabID, windowID host.WindowID, opts Options) *Client {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	if opts.IDs == nil {
		opts.IDs = wire.ProcessIDs()
	}
	c := &Client{
		host:     h,
		tabID:    tabID,
		windowID: windowID,
		opts:     opts,
		pending:  make(map[string]chan callResult),
	}
	// A new document discards the previous handler.
	c.unsubscribe = h.Events().Subscribe(host.EventTabUpdated, func(evt host.Event) {
		if evt.TabID != tabID || evt.Status != host.StatusLoading {
			return
		}
		c.mu.Lock()
		c.injected = false
		c.mu.Unlock()
	})
	return c
}

func (c *Client) TabID() host.TabID       { return c.tabID }
func (c *Client) WindowID() host.WindowID { return c.windowID }

// PendingCount returns the number of requests awaiting a reply.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// checkOpen fails once the client has been disposed.
func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return newError(CodeTransport, fmt.Sprintf("bridge for tab %s is disposed", c.tabID), nil)
	}
	return nil
}

func (c *Client) ensureInjected(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.injected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.host.InjectHandler(ctx, c.tabID)
	switch {
	case err == nil, errors.Is(err, host.ErrAlreadyInjected):
	case errors.Is(err, host.ErrTabNotFound):
		return newError(CodeTabNotFound, fmt.Sprintf("tab %s not found", c.tabID), err)
	default:
		return newError(CodeInjectionFailed, "inject page handler", err)
	}

	c.mu.Lock()
	c.injected = true
	c.mu.Unlock()
	return nil
}

// deliver resolves the pending call matching reply.ID. Replies nobody is
// waiting for are dropped.
func (c *Client) deliver(reply wire.Reply) bool {
	return c.resolve(reply.ID, callResult{reply: reply})
}

func (c *Client) resolve(id string, res callResult) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		slog.Debug("bridge discarding uncorrelated reply", "tab_id", c.tabID, "id", id)
		return false
	}
	ch <- res
	return true
}

func (c *Client) deletePending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) transmit(ctx context.Context, req wire.Request) {
	reply, err := c.host.SendMessage(ctx, c.tabID, req)
	switch {
	case err != nil:
		c.resolve(req.ID, callResult{err: err})
	case reply == nil:
		c.resolve(req.ID, callResult{err: errors.New("No response from content script")})
	case reply.ID != req.ID:
		c.deliver(*reply)
		c.resolve(req.ID, callResult{err: fmt.Errorf("reply id %q does not match request", reply.ID)})
	default:
		c.deliver(*reply)
	}
}

// sendRequest sends method to the page and decodes the result into out.
func (c *Client) sendRequest(ctx context.Context, method string, params, out any) error {
	if err := c.ensureInjected(ctx); err != nil {
		return err
	}

	req, err := wire.NewRequest(c.opts.IDs.Next(), method, params)
	if err != nil {
		return newError(CodeValidation, "encode "+method, err)
	}

	ch := make(chan callResult, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()

	go c.transmit(ctx, req)

	var timeout <-chan time.Time
	if c.opts.RequestTimeout > 0 {
		t := time.NewTimer(c.opts.RequestTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-ch:
		if res.err != nil {
			slog.Debug("bridge send failed", "tab_id", c.tabID, "method", method, "error", res.err)
			return newError(CodeTransport, method, res.err)
		}
		if res.reply.Failed() {
			return newError(CodeApplication, res.reply.Error, nil)
		}
		if err := res.reply.Decode(out); err != nil {
			return newError(CodeTransport, method, err)
		}
		return nil
	case <-timeout:
		c.deletePending(req.ID)
		return newError(CodeTransport, method, fmt.Errorf("no reply within %s", c.opts.RequestTimeout))
	case <-ctx.Done():
		c.deletePending(req.ID)
		return newError(CodeTransport, method, ctx.Err())
	}
}

func (c *Client) hostError(op string, err error) error {
	if errors.Is(err, host.ErrTabNotFound) {
		return newError(CodeTabNotFound, op, err)
	}
	return newError(CodeHostUnavailable, op, err)
}

func (c *Client) Ping(ctx context.Context) error {
	var pong string
	if err := c.sendRequest(ctx, wire.MethodPing, nil, &pong); err != nil {
		return err
	}
	if pong != wire.PingReply {
		return newError(CodeTransport, "ping", fmt.Errorf("unexpected reply %q", pong))
	}
	return nil
}

// GetURL prefers the host's view of the tab and asks the page otherwise.
func (c *Client) GetURL(ctx context.Context) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	tab, err := c.host.GetTab(ctx, c.tabID)
	if err != nil {
		return "", c.hostError("get tab", err)
	}
	if tab.URL != "" {
		return tab.URL, nil
	}
	var url string
	err = c.sendRequest(ctx, wire.MethodGetURL, nil, &url)
	return url, err
}

// GetTitle prefers a non-blank host title and asks the page otherwise.
func (c *Client) GetTitle(ctx context.Context) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	tab, err := c.host.GetTab(ctx, c.tabID)
	if err != nil {
		return "", c.hostError("get tab", err)
	}
	if strings.TrimSpace(tab.Title) != "" {
		return tab.Title, nil
	}
	var title string
	err = c.sendRequest(ctx, wire.MethodGetTitle, nil, &title)
	return title, err
}

func (c *Client) Navigate(ctx context.Context, url string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.host.NavigateTab(ctx, c.tabID, url); err != nil {
		return c.hostError("navigate", err)
	}
	return nil
}

// WaitForNavigation blocks until the tab reaches the lifecycle milestone
// named by strategy. WaitAll resolves on the first completion signal.
func (c *Client) WaitForNavigation(ctx context.Context, strategy NavigationStrategy) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := c.host.Events().Subscribe(host.EventTabUpdated, func(evt host.Event) {
		if evt.TabID != c.tabID || !reached(strategy, evt) {
			return
		}
		once.Do(func() { close(done) })
	})
	defer unsubscribe()

	t := time.NewTimer(c.opts.NavigationTimeout)
	defer t.Stop()

	select {
	case <-done:
		slog.Debug("bridge navigation complete", "tab_id", c.tabID, "strategy", strategy)
		return nil
	case <-t.C:
		return newError(CodeNavigationTimeout, "Navigation timeout", nil)
	case <-ctx.Done():
		return newError(CodeTransport, "wait for navigation", ctx.Err())
	}
}

func reached(strategy NavigationStrategy, evt host.Event) bool {
	switch strategy {
	case WaitLoad, WaitDOMContentLoaded, WaitNetworkIdle:
		return evt.Lifecycle == string(strategy)
	default:
		return evt.Status == host.StatusComplete
	}
}

// GoBack falls back to about:blank when there is no history entry.
func (c *Client) GoBack(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.host.GoBack(ctx, c.tabID); err != nil {
		slog.Debug("bridge go back failed, loading blank page", "tab_id", c.tabID, "error", err)
		return c.Navigate(ctx, "about:blank")
	}
	return nil
}

// GoForward is a no-op at the end of history.
func (c *Client) GoForward(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.host.GoForward(ctx, c.tabID); err != nil {
		slog.Debug("bridge go forward ignored", "tab_id", c.tabID, "error", err)
	}
	return nil
}

func (c *Client) InspectSelector(ctx context.Context, selector string) (wire.ElementState, error) {
	var st wire.ElementState
	err := c.sendRequest(ctx, wire.MethodInspectSelector, wire.SelectorParams{Selector: selector}, &st)
	return st, err
}

func (c *Client) InspectByText(ctx context.Context, text string, exact bool) (wire.ElementState, error) {
	var st wire.ElementState
	err := c.sendRequest(ctx, wire.MethodInspectByText, wire.TextParams{Text: text, Exact: exact}, &st)
	return st, err
}

func (c *Client) GetInputValue(ctx context.Context, selector string) (*string, error) {
	var v *string
	err := c.sendRequest(ctx, wire.MethodGetInputValue, wire.SelectorParams{Selector: selector}, &v)
	return v, err
}

func (c *Client) ClickSelector(ctx context.Context, selector string) error {
	return c.sendRequest(ctx, wire.MethodClickSelector, wire.SelectorParams{Selector: selector}, nil)
}

func (c *Client) ClickByText(ctx context.Context, text string, exact bool) error {
	return c.sendRequest(ctx, wire.MethodClickByText, wire.TextParams{Text: text, Exact: exact}, nil)
}

func (c *Client) FillSelector(ctx context.Context, selector, text string) error {
	return c.sendRequest(ctx, wire.MethodFillSelector, wire.FillParams{Selector: selector, Text: text}, nil)
}

func (c *Client) TypeText(ctx context.Context, text string) error {
	return c.sendRequest(ctx, wire.MethodTypeText, wire.TypeParams{Text: text}, nil)
}

func (c *Client) PressKey(ctx context.Context, key string) error {
	return c.sendRequest(ctx, wire.MethodPressKey, wire.KeyParams{Key: key}, nil)
}

func (c *Client) MoveMouse(ctx context.Context, p wire.Point) error {
	return c.sendRequest(ctx, wire.MethodMoveMouse, p, nil)
}

func (c *Client) ClickMouse(ctx context.Context, p wire.Point) error {
	return c.sendRequest(ctx, wire.MethodClickMouse, p, nil)
}

func (c *Client) DragMouse(ctx context.Context, from, to wire.Point) error {
	return c.sendRequest(ctx, wire.MethodDragMouse, wire.DragParams{From: from, To: to}, nil)
}

func (c *Client) GetDomSnapshot(ctx context.Context, opts wire.SnapshotOptions) (string, error) {
	var s string
	err := c.sendRequest(ctx, wire.MethodGetDomSnapshot, opts, &s)
	return s, err
}

func (c *Client) QuerySelectorOuterHTML(ctx context.Context, selector string, limit int) ([]string, error) {
	var out []string
	err := c.sendRequest(ctx, wire.MethodQuerySelectorOuterHTML, wire.OuterHTMLParams{Selector: selector, Limit: &limit}, &out)
	return out, err
}

func (c *Client) GetAccessibleTree(ctx context.Context, interestingOnly bool) (json.RawMessage, error) {
	var tree json.RawMessage
	err := c.sendRequest(ctx, wire.MethodGetAccessibleTree, wire.AccessibleTreeParams{InterestingOnly: interestingOnly}, &tree)
	return tree, err
}

func (c *Client) GetVisibleText(ctx context.Context) (string, error) {
	var s string
	err := c.sendRequest(ctx, wire.MethodGetVisibleText, nil, &s)
	return s, err
}

func (c *Client) GetViewport(ctx context.Context) (wire.Viewport, error) {
	var vp wire.Viewport
	err := c.sendRequest(ctx, wire.MethodGetViewport, nil, &vp)
	return vp, err
}

// CaptureScreenshot captures the tab and reports the viewport size, or the
// scrollable size for full-page captures.
func (c *Client) CaptureScreenshot(ctx context.Context, opts ScreenshotOptions) (ScreenshotResult, error) {
	if opts.Format == "" {
		opts.Format = FormatJPEG
	}
	if opts.Quality <= 0 {
		opts.Quality = DefaultCaptureQuality
	}
	if err := c.checkOpen(); err != nil {
		return ScreenshotResult{}, err
	}
	if opts.FullPage && c.windowID == 0 {
		return ScreenshotResult{}, newError(CodeValidation, "Full page screenshots require a known window context.", nil)
	}

	raw, err := c.host.CaptureVisible(ctx, c.tabID, host.CaptureOptions{
		Format:   opts.Format,
		Quality:  opts.Quality,
		FullPage: opts.FullPage,
	})
	if err != nil {
		return ScreenshotResult{}, c.hostError("capture screenshot", err)
	}
	if len(raw) == 0 {
		return ScreenshotResult{}, newError(CodeHostUnavailable, "Failed to capture screenshot", nil)
	}

	vp, err := c.GetViewport(ctx)
	if err != nil {
		return ScreenshotResult{}, err
	}
	width, height := vp.Width, vp.Height
	if opts.FullPage {
		if vp.ScrollWidth != nil {
			width = *vp.ScrollWidth
		}
		if vp.ScrollHeight != nil {
			height = *vp.ScrollHeight
		}
	}
	return ScreenshotResult{
		Base64:   base64.StdEncoding.EncodeToString(raw),
		Width:    width,
		Height:   height,
		Format:   opts.Format,
		FullPage: opts.FullPage,
	}, nil
}

func (c *Client) ResizeImage(ctx context.Context, p wire.ResizeImageParams) (wire.ImageResult, error) {
	var out wire.ImageResult
	err := c.sendRequest(ctx, wire.MethodResizeImage, p, &out)
	return out, err
}

func (c *Client) RecompressImage(ctx context.Context, p wire.RecompressImageParams) (wire.ImageResult, error) {
	var out wire.ImageResult
	err := c.sendRequest(ctx, wire.MethodRecompressImage, p, &out)
	return out, err
}

func (c *Client) GetLastDialog(ctx context.Context) (*wire.DialogState, error) {
	var st *wire.DialogState
	err := c.sendRequest(ctx, wire.MethodGetLastDialog, nil, &st)
	return st, err
}

func (c *Client) HandleDialog(ctx context.Context, action string, promptText *string) (wire.DialogResult, error) {
	var res wire.DialogResult
	err := c.sendRequest(ctx, wire.MethodHandleDialog, wire.DialogDirective{Action: action, PromptText: promptText}, &res)
	return res, err
}

// Dispose clears the page's dialog state and detaches the client. Later
// calls fail with a transport error.
func (c *Client) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.mu.Unlock()

	if err := c.sendRequest(ctx, wire.MethodResetDialog, nil, nil); err != nil {
		slog.Debug("bridge dispose reset dialog failed", "tab_id", c.tabID, "error", err)
	}

	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	c.unsubscribe()
}
