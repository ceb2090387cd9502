package htmldoc

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/Berry7028/browserbee/internal/pagehandler"
)

type element struct {
	doc *Document
	n   *html.Node
}

var _ pagehandler.Element = (*element)(nil)

func (e *element) TagName() string { return strings.ToUpper(e.n.Data) }

func (e *element) ID() string { return attr(e.n, "id") }

func (e *element) ClassList() []string { return strings.Fields(attr(e.n, "class")) }

func (e *element) Attrs() []pagehandler.Attr {
	out := make([]pagehandler.Attr, 0, len(e.n.Attr))
	for _, a := range e.n.Attr {
		out = append(out, pagehandler.Attr{Name: a.Key, Value: a.Val})
	}
	return out
}

func (e *element) Attribute(name string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func (e *element) TextContent() string { return textOf(e.n) }

func (e *element) SetTextContent(text string) {
	for c := e.n.FirstChild; c != nil; {
		next := c.NextSibling
		e.n.RemoveChild(c)
		c = next
	}
	if text != "" {
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (e *element) Children() []pagehandler.Element {
	var out []pagehandler.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.doc.wrap(c))
		}
	}
	return out
}

func (e *element) ChildNodes() []pagehandler.Node {
	var out []pagehandler.Node
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			out = append(out, pagehandler.Node{Text: c.Data})
		case html.ElementNode:
			out = append(out, pagehandler.Node{Elem: e.doc.wrap(c)})
		}
	}
	return out
}

func (e *element) Parent() pagehandler.Element {
	if e.n.Parent == nil || e.n.Parent.Type != html.ElementNode {
		return nil
	}
	return e.doc.wrap(e.n.Parent)
}

func (e *element) OuterHTML() string {
	var b strings.Builder
	if err := html.Render(&b, e.n); err != nil {
		return ""
	}
	return b.String()
}

func (e *element) ComputedStyle() pagehandler.Style { return e.doc.style(e.n) }

func (e *element) BoundingRect() pagehandler.Rect { return e.doc.rect(e.n) }

var disableable = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true,
	"optgroup": true, "option": true, "fieldset": true,
}

func (e *element) Disabled() bool {
	if !disableable[e.n.Data] {
		return false
	}
	if hasAttr(e.n, "disabled") {
		return true
	}
	for p := e.n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "fieldset" && hasAttr(p, "disabled") {
			return true
		}
	}
	return false
}

var valueTags = map[string]bool{
	"input": true, "textarea": true, "select": true, "button": true, "option": true, "output": true,
}

func (e *element) HasValue() bool { return valueTags[e.n.Data] }

func (e *element) IsContentEditable() bool {
	for p := e.n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		v, ok := attrOK(p, "contenteditable")
		if !ok {
			continue
		}
		return v == "" || strings.EqualFold(v, "true") || strings.EqualFold(v, "plaintext-only")
	}
	return false
}

func (e *element) Value() string {
	if v, ok := e.doc.values[e.n]; ok {
		return v
	}
	switch e.n.Data {
	case "textarea":
		return textOf(e.n)
	case "option":
		if v, ok := attrOK(e.n, "value"); ok {
			return v
		}
		return strings.TrimSpace(textOf(e.n))
	case "select":
		var first, selected *html.Node
		walkElements(e.n, func(c *html.Node) {
			if c.Data != "option" {
				return
			}
			if first == nil {
				first = c
			}
			if selected == nil && hasAttr(c, "selected") {
				selected = c
			}
		})
		if selected == nil {
			selected = first
		}
		if selected == nil {
			return ""
		}
		return e.doc.wrap(selected).Value()
	default:
		return attr(e.n, "value")
	}
}

func (e *element) SetValue(v string) { e.doc.values[e.n] = v }

func (e *element) Focus() {
	e.doc.focused = e.n
	e.Dispatch(pagehandler.DOMEvent{Type: "focus"})
}

func (e *element) Click() {
	e.Dispatch(pagehandler.DOMEvent{Type: "click"})
	if e.Disabled() {
		return
	}
	if e.n.Data == "input" {
		switch strings.ToLower(attr(e.n, "type")) {
		case "checkbox", "radio":
			if e.Value() == "on" || hasAttr(e.n, "checked") {
				e.doc.values[e.n] = "off"
			} else {
				e.doc.values[e.n] = "on"
			}
		}
	}
	for p := e.n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "a" {
			href, ok := attrOK(p, "href")
			if ok && href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
				e.doc.navigate(href)
			}
			return
		}
	}
}

// Dispatch records evt and runs inline on<type> handlers on the target
// and its ancestors.
func (e *element) Dispatch(evt pagehandler.DOMEvent) {
	e.doc.events = append(e.doc.events, Event{Target: pagehandler.Describe(e), DOMEvent: evt})
	if e.Disabled() && strings.HasPrefix(evt.Type, "click") {
		return
	}
	for p := e.n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if script, ok := attrOK(p, "on"+evt.Type); ok {
			e.doc.runInline(script)
		}
	}
}

var dialogCallRe = regexp.MustCompile(`\b(alert|confirm|prompt)\s*\(\s*(?:'([^']*)'|"([^"]*)")?\s*(?:,\s*(?:'([^']*)'|"([^"]*)")\s*)?\)`)

// quoted returns the string literal captured by one of two alternative
// groups starting at group g.
func quoted(script string, m []int, g int) (string, bool) {
	for _, i := range []int{g, g + 1} {
		if m[2*i] >= 0 {
			return script[m[2*i]:m[2*i+1]], true
		}
	}
	return "", false
}

// runInline interprets the dialog calls in an inline handler. Nothing else
// in the script is executed.
func (d *Document) runInline(script string) {
	for _, m := range dialogCallRe.FindAllStringSubmatchIndex(script, -1) {
		kind := script[m[2]:m[3]]
		msg, _ := quoted(script, m, 2)
		switch kind {
		case "alert":
			d.dialogs.Alert(msg)
			d.calls = append(d.calls, DialogCall{Kind: kind, Message: msg})
		case "confirm":
			ok := d.dialogs.Confirm(msg)
			d.calls = append(d.calls, DialogCall{Kind: kind, Message: msg, Result: ok})
		case "prompt":
			var def *string
			if v, ok := quoted(script, m, 4); ok {
				def = &v
			}
			var result any
			if got := d.dialogs.Prompt(msg, def); got != nil {
				result = *got
			}
			d.calls = append(d.calls, DialogCall{Kind: kind, Message: msg, Result: result})
		}
	}
}

func attrOK(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := attrOK(n, name)
	return v
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attrOK(n, name)
	return ok
}
