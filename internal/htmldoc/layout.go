package htmldoc

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/Berry7028/browserbee/internal/pagehandler"
)

const (
	lineHeight   = 20
	charWidth    = 8
	controlWidth = 100
)

var hiddenTags = map[string]bool{
	"head": true, "script": true, "style": true, "meta": true, "link": true,
	"title": true, "template": true, "noscript": true, "base": true,
}

var inlineTags = map[string]bool{
	"a": true, "abbr": true, "b": true, "bdi": true, "bdo": true, "br": true,
	"button": true, "cite": true, "code": true, "em": true, "i": true,
	"img": true, "input": true, "kbd": true, "label": true, "mark": true,
	"q": true, "s": true, "select": true, "small": true, "span": true,
	"strong": true, "sub": true, "sup": true, "textarea": true, "time": true,
	"u": true, "var": true,
}

var controlTags = map[string]bool{
	"button": true, "input": true, "select": true, "textarea": true, "img": true,
}

// inlineStyle parses the style attribute into lower-cased property names.
func inlineStyle(n *html.Node) map[string]string {
	out := make(map[string]string)
	for _, decl := range strings.Split(attr(n, "style"), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		if k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func pixels(v string) (float64, bool) {
	v = strings.TrimSuffix(strings.TrimSpace(v), "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

func (d *Document) style(n *html.Node) pagehandler.Style {
	st := pagehandler.Style{Display: "block", Visibility: "visible", Opacity: 1}
	switch {
	case hiddenTags[n.Data], hasAttr(n, "hidden"):
		st.Display = "none"
	case n.Data == "input" && strings.EqualFold(attr(n, "type"), "hidden"):
		st.Display = "none"
	case inlineTags[n.Data]:
		st.Display = "inline"
	}
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if v, ok := inlineStyle(p)["visibility"]; ok && v != "inherit" {
			st.Visibility = v
			break
		}
	}
	props := inlineStyle(n)
	if v, ok := props["display"]; ok {
		st.Display = v
	}
	if v, ok := props["visibility"]; ok && v != "inherit" {
		st.Visibility = v
	}
	if v, ok := props["opacity"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			st.Opacity = f
		}
	}
	return st
}

func ownText(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(b.String())
}

// layout assigns every rendered element a box. Blocks and inlines alike
// stack vertically; absolutely positioned elements take their left and top
// from the style attribute and do not advance the flow.
func (d *Document) layout() map[*html.Node]pagehandler.Rect {
	boxes := make(map[*html.Node]pagehandler.Rect)
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			d.place(c, 0, 0, float64(d.width), boxes)
		}
	}
	return boxes
}

func (d *Document) place(n *html.Node, x, y, avail float64, boxes map[*html.Node]pagehandler.Rect) float64 {
	st := d.style(n)
	if st.Display == "none" {
		return 0
	}
	props := inlineStyle(n)
	positioned := false
	if pos := props["position"]; pos == "absolute" || pos == "fixed" {
		positioned = true
		if v, ok := pixels(props["left"]); ok {
			x = v
		}
		if v, ok := pixels(props["top"]); ok {
			y = v
		}
	}

	var width float64
	switch {
	case n.Data == "html" || n.Data == "body":
		width = float64(d.width)
	case props["width"] != "":
		width, _ = pixels(props["width"])
	case attr(n, "width") != "":
		width, _ = pixels(attr(n, "width"))
	case controlTags[n.Data]:
		width = controlWidth
	case st.Display == "inline":
		width = float64(utf8.RuneCountInString(strings.TrimSpace(textOf(n))) * charWidth)
	default:
		width = avail
	}
	if width > avail && !positioned && n.Data != "html" && n.Data != "body" {
		width = avail
	}

	var content float64
	if ownText(n) != "" {
		content = lineHeight
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			content += d.place(c, x, y+content, width, boxes)
		}
	}

	var height float64
	switch {
	case props["height"] != "":
		height, _ = pixels(props["height"])
	case attr(n, "height") != "":
		height, _ = pixels(attr(n, "height"))
	case controlTags[n.Data] && content == 0:
		height = lineHeight
	default:
		height = content
	}
	if n.Data == "html" || n.Data == "body" {
		if height < float64(d.height) {
			height = float64(d.height)
		}
	}

	boxes[n] = pagehandler.Rect{X: x, Y: y, Width: width, Height: height}
	if positioned {
		return 0
	}
	return height
}

func (d *Document) rect(n *html.Node) pagehandler.Rect {
	return d.layout()[n]
}
