// Package htmldoc is an in-process DOM over golang.org/x/net/html with just
// enough layout, focus, form state and event bookkeeping to run the page
// handler without a browser.
package htmldoc

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/Berry7028/browserbee/internal/pagehandler"
)

const (
	DefaultWidth  = 1280
	DefaultHeight = 720
)

// Event is a recorded dispatch.
type Event struct {
	Target string `json:"target"`
	pagehandler.DOMEvent
}

// DialogCall records a dialog raised by an inline handler and its answer.
type DialogCall struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

// Document is not safe for concurrent use; callers serialize access the
// way a page's event loop would.
type Document struct {
	url  string
	root *html.Node

	elems   map[*html.Node]*element
	values  map[*html.Node]string
	focused *html.Node
	events  []Event
	calls   []DialogCall
	dialogs pagehandler.NativeDialogs

	width, height int
	onNavigate    func(href string)
}

var _ pagehandler.Document = (*Document)(nil)

// Parse reads an HTML page served from pageURL.
func Parse(pageURL string, r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse %s: %w", pageURL, err)
	}
	return &Document{
		url:     pageURL,
		root:    root,
		elems:   make(map[*html.Node]*element),
		values:  make(map[*html.Node]string),
		dialogs: AutoDismiss{},
		width:   DefaultWidth,
		height:  DefaultHeight,
	}, nil
}

// ParseString is Parse over a string.
func ParseString(pageURL, src string) (*Document, error) {
	return Parse(pageURL, strings.NewReader(src))
}

// Blank returns an empty document.
func Blank(pageURL string) *Document {
	doc, err := ParseString(pageURL, "<html><head></head><body></body></html>")
	if err != nil {
		panic(err)
	}
	return doc
}

// SetViewport changes the window's inner size.
func (d *Document) SetViewport(width, height int) {
	d.width, d.height = width, height
}

// OnNavigate registers fn to be called with the absolute URL when a link
// is activated.
func (d *Document) OnNavigate(fn func(href string)) { d.onNavigate = fn }

// Events returns the dispatch log.
func (d *Document) Events() []Event {
	out := make([]Event, len(d.events))
	copy(out, d.events)
	return out
}

// DialogCalls returns the dialogs raised by inline handlers.
func (d *Document) DialogCalls() []DialogCall {
	out := make([]DialogCall, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *Document) URL() string { return d.url }

func (d *Document) Title() string {
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "title"
	})
	if n == nil {
		return ""
	}
	return strings.Join(strings.Fields(textOf(n)), " ")
}

func (d *Document) DocumentElement() pagehandler.Element {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return d.wrap(c)
		}
	}
	return nil
}

func (d *Document) Body() pagehandler.Element {
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == "body"
	})
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

func (d *Document) query(selector string) ([]*html.Node, error) {
	sel := strings.TrimSpace(selector)
	if sel == "" {
		return nil, fmt.Errorf("'%s' is not a valid selector", selector)
	}
	if strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") {
		nodes, err := htmlquery.QueryAll(d.root, sel)
		if err != nil {
			return nil, fmt.Errorf("'%s' is not a valid selector", selector)
		}
		out := nodes[:0]
		for _, n := range nodes {
			if n.Type == html.ElementNode {
				out = append(out, n)
			}
		}
		return out, nil
	}
	compiled, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid selector", selector)
	}
	return compiled.MatchAll(d.root), nil
}

// QuerySelector accepts CSS selectors and, when the selector starts with
// "/" or "(", XPath expressions.
func (d *Document) QuerySelector(selector string) (pagehandler.Element, error) {
	nodes, err := d.query(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, nil
	}
	return d.wrap(nodes[0]), nil
}

func (d *Document) QuerySelectorAll(selector string) ([]pagehandler.Element, error) {
	nodes, err := d.query(selector)
	if err != nil {
		return nil, err
	}
	out := make([]pagehandler.Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, d.wrap(n))
	}
	return out, nil
}

func (d *Document) ActiveElement() pagehandler.Element {
	if d.focused != nil && attached(d.root, d.focused) {
		return d.wrap(d.focused)
	}
	return d.Body()
}

// ElementFromPoint returns the last rendered element in document order
// whose box contains the point.
func (d *Document) ElementFromPoint(x, y float64) pagehandler.Element {
	if x < 0 || y < 0 || x >= float64(d.width) || y >= float64(d.height) {
		return nil
	}
	boxes := d.layout()
	var hit *html.Node
	walkElements(d.root, func(n *html.Node) {
		if r, ok := boxes[n]; ok && r.Contains(x, y) {
			hit = n
		}
	})
	if hit == nil {
		return nil
	}
	return d.wrap(hit)
}

func (d *Document) Dispatch(evt pagehandler.DOMEvent) {
	d.events = append(d.events, Event{Target: "document", DOMEvent: evt})
}

func (d *Document) InnerWidth() int  { return d.width }
func (d *Document) InnerHeight() int { return d.height }

func (d *Document) ScrollWidth() int {
	w := float64(d.width)
	for _, r := range d.layout() {
		if r.X+r.Width > w {
			w = r.X + r.Width
		}
	}
	return int(w)
}

func (d *Document) ScrollHeight() int {
	h := float64(d.height)
	for _, r := range d.layout() {
		if r.Y+r.Height > h {
			h = r.Y + r.Height
		}
	}
	return int(h)
}

func (d *Document) Dialogs() pagehandler.NativeDialogs { return d.dialogs }

func (d *Document) SetDialogs(nd pagehandler.NativeDialogs) { d.dialogs = nd }

func (d *Document) wrap(n *html.Node) pagehandler.Element {
	if n == nil {
		return nil
	}
	e, ok := d.elems[n]
	if !ok {
		e = &element{doc: d, n: n}
		d.elems[n] = e
	}
	return e
}

func (d *Document) navigate(href string) {
	if d.onNavigate == nil {
		return
	}
	base, err := url.Parse(d.url)
	if err != nil {
		return
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return
	}
	d.onNavigate(base.ResolveReference(ref).String())
}

// AutoDismiss answers native dialogs the way a headless browser does:
// alerts return immediately, confirms are refused and prompts cancelled.
type AutoDismiss struct{}

func (AutoDismiss) Alert(string)                   {}
func (AutoDismiss) Confirm(string) bool            { return false }
func (AutoDismiss) Prompt(string, *string) *string { return nil }

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func walkElements(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walkElements(c, fn)
	}
}

func attached(root, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
