// Package statichost is a Host that runs pages in process: documents are
// parsed with htmldoc and driven by the same page handler a real browser
// would run.
package statichost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/htmldoc"
	"github.com/Berry7028/browserbee/internal/pagehandler"
	"github.com/Berry7028/browserbee/internal/wire"
)

const (
	defaultLoadDelay    = 10 * time.Millisecond
	defaultFetchTimeout = 10 * time.Second
	maxPageBytes        = 8 << 20
)

// Options configures a Host.
type Options struct {
	// Pages serves documents by exact URL before falling back to HTTP.
	Pages map[string]string
	// Client fetches http and https pages. Nil uses a client with a ten
	// second timeout.
	Client *http.Client
	// LoadDelay separates the loading and complete notifications.
	LoadDelay time.Duration
	// ViewportWidth and ViewportHeight size every tab.
	ViewportWidth  int
	ViewportHeight int
	// Noise fills captures with random pixels so encoded sizes resemble a
	// busy page.
	Noise bool
	// WindowID is reported for every tab.
	WindowID host.WindowID
}

type tab struct {
	id     host.TabID
	url    string
	title  string
	status string

	doc            *htmldoc.Document
	handler        *pagehandler.Handler
	injectOnCommit bool
	pageMu         sync.Mutex

	history []string
	pos     int
	gen     int
}

// Host is an in-process browser with a single window.
type Host struct {
	opts Options
	bus  *host.Bus

	mu     sync.Mutex
	tabs   map[host.TabID]*tab
	order  []host.TabID
	active host.TabID
	seq    int
	wg     sync.WaitGroup
}

var _ host.Host = (*Host)(nil)

// New returns an empty host.
func New(opts Options) *Host {
	if opts.LoadDelay <= 0 {
		opts.LoadDelay = defaultLoadDelay
	}
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = htmldoc.DefaultWidth
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = htmldoc.DefaultHeight
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: defaultFetchTimeout}
	}
	if opts.WindowID == 0 {
		opts.WindowID = 1
	}
	return &Host{
		opts: opts,
		bus:  host.NewBus(),
		tabs: make(map[host.TabID]*tab),
	}
}

func (h *Host) Events() *host.Bus { return h.bus }

// Wait blocks until every in-flight page load has committed.
func (h *Host) Wait() { h.wg.Wait() }

func (h *Host) info(t *tab) host.TabInfo {
	idx := 0
	for i, id := range h.order {
		if id == t.id {
			idx = i
			break
		}
	}
	return host.TabInfo{
		ID:       t.id,
		WindowID: h.opts.WindowID,
		Index:    idx,
		URL:      t.url,
		Title:    t.title,
		Active:   t.id == h.active,
		Status:   t.status,
	}
}

func (h *Host) lookup(id host.TabID) (*tab, error) {
	t, ok := h.tabs[id]
	if !ok {
		return nil, fmt.Errorf("statichost: tab %s: %w", id, host.ErrTabNotFound)
	}
	return t, nil
}

func (h *Host) GetTab(_ context.Context, id host.TabID) (host.TabInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.lookup(id)
	if err != nil {
		return host.TabInfo{}, err
	}
	return h.info(t), nil
}

func (h *Host) QueryTabs(_ context.Context) ([]host.TabInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]host.TabInfo, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.info(h.tabs[id]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (h *Host) CreateTab(ctx context.Context, rawURL string, active bool) (host.TabInfo, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = "about:blank"
	}
	h.mu.Lock()
	h.seq++
	t := &tab{
		id:      host.TabID(fmt.Sprintf("tab-%d", h.seq)),
		title:   "New Tab",
		history: []string{rawURL},
	}
	h.tabs[t.id] = t
	h.order = append(h.order, t.id)
	info := h.info(t)
	h.mu.Unlock()

	h.bus.Publish(host.Event{Kind: host.EventTabCreated, TabID: t.id, WindowID: h.opts.WindowID, URL: rawURL})
	h.startLoad(t.id, rawURL)

	if active {
		if err := h.ActivateTab(ctx, t.id); err != nil {
			return host.TabInfo{}, err
		}
		info.Active = true
	}
	return info, nil
}

func (h *Host) NavigateTab(_ context.Context, id host.TabID, rawURL string) error {
	h.mu.Lock()
	t, err := h.lookup(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	t.history = append(t.history[:t.pos+1], rawURL)
	t.pos = len(t.history) - 1
	h.mu.Unlock()

	h.startLoad(id, rawURL)
	return nil
}

func (h *Host) traverse(id host.TabID, delta int) error {
	h.mu.Lock()
	t, err := h.lookup(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	next := t.pos + delta
	if next < 0 || next >= len(t.history) {
		h.mu.Unlock()
		return fmt.Errorf("statichost: tab %s: %w", id, host.ErrNoHistory)
	}
	t.pos = next
	target := t.history[next]
	h.mu.Unlock()

	h.startLoad(id, target)
	return nil
}

func (h *Host) GoBack(_ context.Context, id host.TabID) error    { return h.traverse(id, -1) }
func (h *Host) GoForward(_ context.Context, id host.TabID) error { return h.traverse(id, 1) }

func (h *Host) ActivateTab(_ context.Context, id host.TabID) error {
	h.mu.Lock()
	if _, err := h.lookup(id); err != nil {
		h.mu.Unlock()
		return err
	}
	old := h.active
	h.active = id
	h.mu.Unlock()

	if old != id {
		h.bus.Publish(host.Event{Kind: host.EventTabActivated, TabID: id, OldTabID: old, WindowID: h.opts.WindowID})
	}
	return nil
}

// RemoveTab closes a tab. Closing the active tab activates its right
// neighbour, or the new last tab.
func (h *Host) RemoveTab(ctx context.Context, id host.TabID) error {
	h.mu.Lock()
	t, err := h.lookup(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	t.gen++
	idx := 0
	for i, tid := range h.order {
		if tid == id {
			idx = i
			break
		}
	}
	delete(h.tabs, id)
	h.order = append(h.order[:idx:idx], h.order[idx+1:]...)
	var next host.TabID
	wasActive := h.active == id
	if wasActive {
		h.active = ""
		if len(h.order) > 0 {
			if idx >= len(h.order) {
				idx = len(h.order) - 1
			}
			next = h.order[idx]
		}
	}
	h.mu.Unlock()

	h.bus.Publish(host.Event{Kind: host.EventTabRemoved, TabID: id, WindowID: h.opts.WindowID})
	if next != "" {
		return h.ActivateTab(ctx, next)
	}
	return nil
}

// startLoad marks the tab loading and commits the new document in the
// background after LoadDelay.
func (h *Host) startLoad(id host.TabID, rawURL string) {
	h.mu.Lock()
	t, ok := h.tabs[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	t.gen++
	gen := t.gen
	t.status = host.StatusLoading
	t.url = rawURL
	h.mu.Unlock()

	h.bus.Publish(host.Event{Kind: host.EventTabUpdated, TabID: id, WindowID: h.opts.WindowID, URL: rawURL, Status: host.StatusLoading})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		doc := h.fetch(rawURL)
		time.Sleep(h.opts.LoadDelay)
		h.commit(id, gen, rawURL, doc)
	}()
}

func (h *Host) commit(id host.TabID, gen int, rawURL string, doc *htmldoc.Document) {
	doc.SetViewport(h.opts.ViewportWidth, h.opts.ViewportHeight)
	doc.OnNavigate(func(href string) {
		if err := h.NavigateTab(context.Background(), id, href); err != nil {
			slog.Debug("statichost link navigation failed", "tab_id", id, "href", href, "error", err)
		}
	})

	h.mu.Lock()
	t, ok := h.tabs[id]
	if !ok || t.gen != gen {
		h.mu.Unlock()
		return
	}
	t.pageMu.Lock()
	t.doc = doc
	t.handler = nil
	if t.injectOnCommit && !host.IsRestrictedURL(rawURL) {
		t.handler = pagehandler.New(doc)
	}
	t.injectOnCommit = false
	t.pageMu.Unlock()

	oldTitle := t.title
	t.title = doc.Title()
	if t.title == "" {
		t.title = rawURL
	}
	t.status = host.StatusComplete
	title := t.title
	h.mu.Unlock()

	base := host.Event{Kind: host.EventTabUpdated, TabID: id, WindowID: h.opts.WindowID}
	for _, lc := range []string{host.LifecycleDOMContentLoaded, host.LifecycleLoad} {
		evt := base
		evt.Lifecycle = lc
		h.bus.Publish(evt)
	}
	if title != oldTitle {
		evt := base
		evt.Title = title
		h.bus.Publish(evt)
	}
	done := base
	done.Status = host.StatusComplete
	done.URL = rawURL
	done.Lifecycle = host.LifecycleNetworkIdle
	h.bus.Publish(done)
}

func (h *Host) fetch(rawURL string) *htmldoc.Document {
	if src, ok := h.opts.Pages[rawURL]; ok {
		doc, err := htmldoc.ParseString(rawURL, src)
		if err == nil {
			return doc
		}
		return errorPage(rawURL, err)
	}
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return htmldoc.Blank(rawURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errorPage(rawURL, err)
	}
	resp, err := h.opts.Client.Do(req)
	if err != nil {
		slog.Warn("statichost fetch failed", "url", rawURL, "error", err)
		return errorPage(rawURL, err)
	}
	defer resp.Body.Close()
	doc, err := htmldoc.Parse(rawURL, io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return errorPage(rawURL, err)
	}
	return doc
}

func errorPage(rawURL string, cause error) *htmldoc.Document {
	doc, err := htmldoc.ParseString(rawURL, fmt.Sprintf(
		"<html><head><title>Error</title></head><body><p>Failed to load %s: %s</p></body></html>",
		htmlEscape(rawURL), htmlEscape(cause.Error())))
	if err != nil {
		return htmldoc.Blank(rawURL)
	}
	return doc
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func htmlEscape(s string) string { return escaper.Replace(s) }

// InjectHandler installs the page handler. While a load is in flight the
// handler is installed into the incoming document when it commits.
func (h *Host) InjectHandler(_ context.Context, id host.TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, err := h.lookup(id)
	if err != nil {
		return err
	}
	if host.IsRestrictedURL(t.url) {
		return fmt.Errorf("statichost: %s: %w", t.url, host.ErrRestrictedURL)
	}
	if t.status == host.StatusLoading || t.doc == nil {
		t.injectOnCommit = true
		return nil
	}
	t.pageMu.Lock()
	defer t.pageMu.Unlock()
	if t.handler != nil {
		return host.ErrAlreadyInjected
	}
	t.handler = pagehandler.New(t.doc)
	return nil
}

// SendMessage round-trips req through JSON to the tab's handler. A tab
// without a handler produces no response.
func (h *Host) SendMessage(_ context.Context, id host.TabID, req wire.Request) (*wire.Reply, error) {
	h.mu.Lock()
	t, err := h.lookup(id)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("statichost: marshal request: %w", err)
	}

	t.pageMu.Lock()
	defer t.pageMu.Unlock()
	if t.handler == nil {
		return nil, nil
	}

	out := t.handler.ServeJSON(data)
	if out == nil {
		return nil, nil
	}
	var reply wire.Reply
	if err := json.Unmarshal(out, &reply); err != nil {
		return nil, fmt.Errorf("statichost: decode reply: %w", err)
	}
	return &reply, nil
}

// CaptureVisible paints every rendered element as a flat box and encodes
// the result.
func (h *Host) CaptureVisible(_ context.Context, id host.TabID, opts host.CaptureOptions) ([]byte, error) {
	h.mu.Lock()
	t, err := h.lookup(id)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	t.pageMu.Lock()
	defer t.pageMu.Unlock()
	doc := t.doc
	if doc == nil {
		doc = htmldoc.Blank(string(id))
		doc.SetViewport(h.opts.ViewportWidth, h.opts.ViewportHeight)
	}

	width, height := doc.InnerWidth(), doc.InnerHeight()
	if opts.FullPage {
		width, height = doc.ScrollWidth(), doc.ScrollHeight()
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	els, err := doc.QuerySelectorAll("body *")
	if err != nil {
		return nil, err
	}
	for _, el := range els {
		if !pagehandler.IsVisible(el) {
			continue
		}
		r := el.BoundingRect()
		box := image.Rect(int(r.X), int(r.Y), int(r.X+r.Width), int(r.Y+r.Height))
		draw.Draw(img, box.Intersect(img.Bounds()), image.NewUniform(boxColor(pagehandler.Describe(el))), image.Point{}, draw.Over)
	}
	if h.opts.Noise {
		rng := rand.New(rand.NewSource(int64(len(t.url))))
		for i := range img.Pix {
			if i%4 != 3 {
				img.Pix[i] = uint8(rng.Intn(256))
			}
		}
	}

	var buf bytes.Buffer
	switch opts.Format {
	case "png":
		err = png.Encode(&buf, img)
	default:
		q := opts.Quality
		if q <= 0 || q > 100 {
			q = 90
		}
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: q})
	}
	if err != nil {
		return nil, fmt.Errorf("statichost: encode capture: %w", err)
	}
	return buf.Bytes(), nil
}

func boxColor(key string) color.RGBA {
	f := fnv.New32a()
	f.Write([]byte(key))
	v := f.Sum32()
	return color.RGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 48}
}
