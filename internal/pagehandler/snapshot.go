package pagehandler

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Berry7028/browserbee/internal/wire"
)

// Tags dropped by the clean snapshot mode.
var cleanDropTags = map[string]bool{
	"SCRIPT":   true,
	"STYLE":    true,
	"NOSCRIPT": true,
	"TEMPLATE": true,
	"META":     true,
	"LINK":     true,
}

var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "\u00a0", "&nbsp;")
)

// Truncate cuts s to max runes and appends a marker with the number of
// dropped characters.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return fmt.Sprintf("%s\n\n[Truncated %d characters]", string(r[:max]), len(r)-max)
}

// CleanHTML serializes el without script-like elements and without on*
// and data-* attributes.
func CleanHTML(el Element) string {
	var b strings.Builder
	writeClean(&b, el)
	return b.String()
}

func writeClean(b *strings.Builder, el Element) {
	if cleanDropTags[el.TagName()] {
		return
	}
	tag := strings.ToLower(el.TagName())
	b.WriteString("<" + tag)
	for _, a := range el.Attrs() {
		if strings.HasPrefix(a.Name, "on") || strings.HasPrefix(a.Name, "data-") {
			continue
		}
		b.WriteString(" " + a.Name + `="` + attrEscaper.Replace(a.Value) + `"`)
	}
	b.WriteString(">")
	if voidTags[tag] {
		return
	}
	for _, n := range el.ChildNodes() {
		if n.Elem == nil {
			b.WriteString(textEscaper.Replace(n.Text))
			continue
		}
		writeClean(b, n.Elem)
	}
	b.WriteString("</" + tag + ">")
}

// DescribeStructure renders an indented outline of tags with id and
// classes.
func DescribeStructure(el Element, depth int) string {
	indent := strings.Repeat("  ", depth)
	tag := strings.ToLower(el.TagName())
	var b strings.Builder
	b.WriteString(indent + "<" + tag)
	if id := el.ID(); id != "" {
		b.WriteString("#" + id)
	}
	if cls := el.ClassList(); len(cls) > 0 {
		b.WriteString("." + strings.Join(cls, "."))
	}
	b.WriteString(">")

	children := el.Children()
	if len(children) == 0 {
		b.WriteString("</" + tag + ">")
		return b.String()
	}
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, DescribeStructure(c, depth+1))
	}
	b.WriteString("\n" + strings.Join(parts, "\n"))
	b.WriteString("\n" + indent + "</" + tag + ">")
	return b.String()
}

func renderSnapshot(el Element, opts wire.SnapshotOptions) string {
	switch {
	case opts.Structure:
		return DescribeStructure(el, 0)
	case opts.Clean:
		return CleanHTML(el)
	default:
		return el.OuterHTML()
	}
}

// Snapshot serializes the document or the elements matching opts.Selector.
func Snapshot(doc Document, opts wire.SnapshotOptions) (string, error) {
	max := wire.MaxDOMReturnChars
	if opts.Limit != nil {
		max = *opts.Limit
	}

	if opts.Selector != "" {
		els, err := doc.QuerySelectorAll(opts.Selector)
		if err != nil {
			return "", err
		}
		if len(els) == 0 {
			return "No elements found matching selector: " + opts.Selector, nil
		}
		parts := make([]string, 0, len(els))
		for _, el := range els {
			parts = append(parts, renderSnapshot(el, opts))
		}
		return Truncate(strings.Join(parts, "\n\n"), max), nil
	}

	root := doc.DocumentElement()
	if root == nil {
		return "", nil
	}
	return Truncate(renderSnapshot(root, opts), max), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// AccessibleNodeFor builds the simplified accessibility subtree of el.
func AccessibleNodeFor(el Element) *wire.AccessibleNode {
	tag := strings.ToLower(el.TagName())
	node := &wire.AccessibleNode{Role: tag, Tag: tag}
	if role, ok := el.Attribute("role"); ok && role != "" {
		node.Role = role
	}
	if label, ok := el.Attribute("aria-label"); ok && label != "" {
		node.Name = label
	} else {
		node.Name = truncateRunes(strings.TrimSpace(el.TextContent()), 80)
	}
	for _, c := range el.Children() {
		node.Children = append(node.Children, AccessibleNodeFor(c))
	}
	return node
}

func interesting(el Element) bool {
	if _, ok := el.Attribute("role"); ok {
		return true
	}
	if _, ok := el.Attribute("aria-label"); ok {
		return true
	}
	return strings.TrimSpace(el.TextContent()) != ""
}

func collectInteresting(el Element, out []*wire.AccessibleNode) []*wire.AccessibleNode {
	for _, c := range el.Children() {
		if interesting(c) {
			out = append(out, AccessibleNodeFor(c))
		}
		out = collectInteresting(c, out)
	}
	return out
}

// AccessibleTree returns the full tree rooted at the document element, or
// a flat list of subtrees for every body descendant carrying a role, a
// label or text.
func AccessibleTree(doc Document, interestingOnly bool) any {
	if interestingOnly {
		out := []*wire.AccessibleNode{}
		if body := doc.Body(); body != nil {
			out = collectInteresting(body, out)
		}
		return out
	}
	root := doc.DocumentElement()
	if root == nil {
		return nil
	}
	return AccessibleNodeFor(root)
}

// VisibleText joins the trimmed text nodes under body whose parent is
// displayed and not hidden.
func VisibleText(doc Document) string {
	body := doc.Body()
	if body == nil {
		return ""
	}
	var out []string
	walkText(body, func(text string, parent Element) bool {
		st := parent.ComputedStyle()
		if st.Display == "none" || st.Visibility == "hidden" {
			return true
		}
		if t := strings.TrimSpace(text); t != "" {
			out = append(out, t)
		}
		return true
	})
	return Truncate(strings.Join(out, "\n"), wire.MaxDOMReturnChars)
}

func handleGetDomSnapshot(h *Handler, params json.RawMessage) (any, error) {
	var p wire.SnapshotOptions
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return Snapshot(h.doc, p)
}

func handleQuerySelectorOuterHTML(h *Handler, params json.RawMessage) (any, error) {
	var p wire.OuterHTMLParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	els, err := h.doc.QuerySelectorAll(p.Selector)
	if err != nil {
		return nil, err
	}
	if p.Limit != nil && *p.Limit >= 0 && *p.Limit < len(els) {
		els = els[:*p.Limit]
	}
	out := make([]string, 0, len(els))
	for _, el := range els {
		out = append(out, el.OuterHTML())
	}
	return out, nil
}

func handleGetAccessibleTree(h *Handler, params json.RawMessage) (any, error) {
	var p wire.AccessibleTreeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return AccessibleTree(h.doc, p.InterestingOnly), nil
}

func handleGetVisibleText(h *Handler, _ json.RawMessage) (any, error) {
	return VisibleText(h.doc), nil
}
