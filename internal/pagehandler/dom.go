package pagehandler

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Berry7028/browserbee/internal/wire"
)

// IsVisible applies the page visibility rule: displayed, not hidden, not
// fully transparent and with a non-empty box.
func IsVisible(el Element) bool {
	st := el.ComputedStyle()
	if st.Display == "none" || st.Visibility == "hidden" || st.Opacity == 0 {
		return false
	}
	r := el.BoundingRect()
	return r.Width > 0 && r.Height > 0
}

// Describe renders tag#id.class1.class2.
func Describe(el Element) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(el.TagName()))
	if id := el.ID(); id != "" {
		b.WriteString("#" + id)
	}
	if cls := el.ClassList(); len(cls) > 0 {
		b.WriteString("." + strings.Join(cls, "."))
	}
	return b.String()
}

// InspectSelector observes the first element matching selector.
func InspectSelector(doc Document, selector string) (wire.ElementState, error) {
	el, err := doc.QuerySelector(selector)
	if err != nil {
		return wire.ElementState{}, err
	}
	if el == nil {
		return wire.ElementState{}, nil
	}
	return wire.ElementState{
		Found:       true,
		Visible:     IsVisible(el),
		Disabled:    el.Disabled(),
		Description: Describe(el),
	}, nil
}

// walkText calls fn for every text node under root in document order with
// the node's parent element. Returning false stops the walk.
func walkText(root Element, fn func(text string, parent Element) bool) bool {
	for _, n := range root.ChildNodes() {
		if n.Elem == nil {
			if !fn(n.Text, root) {
				return false
			}
			continue
		}
		if !walkText(n.Elem, fn) {
			return false
		}
	}
	return true
}

func textMatches(content, needle string, exact bool) bool {
	if exact {
		return content == needle
	}
	return strings.Contains(content, needle)
}

// FindByText returns the parent of the first text node whose trimmed
// content contains needle (equals it when exact) and the number of
// matching text nodes.
func FindByText(doc Document, text string, exact bool) (Element, int) {
	needle := strings.TrimSpace(text)
	body := doc.Body()
	if needle == "" || body == nil {
		return nil, 0
	}
	var first Element
	matches := 0
	walkText(body, func(content string, parent Element) bool {
		content = strings.TrimSpace(content)
		if content == "" || !textMatches(content, needle, exact) {
			return true
		}
		matches++
		if first == nil {
			first = parent
		}
		return true
	})
	return first, matches
}

// InspectByText observes the first element found by FindByText.
func InspectByText(doc Document, text string, exact bool) wire.ElementState {
	if strings.TrimSpace(text) == "" {
		return wire.ElementState{}
	}
	el, matches := FindByText(doc, text, exact)
	if el == nil {
		zero := 0
		return wire.ElementState{Matches: &zero}
	}
	return wire.ElementState{
		Found:       true,
		Visible:     IsVisible(el),
		Disabled:    el.Disabled(),
		Description: Describe(el),
		Matches:     &matches,
	}
}

func handleInspectSelector(h *Handler, params json.RawMessage) (any, error) {
	var p wire.SelectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return InspectSelector(h.doc, p.Selector)
}

func handleInspectByText(h *Handler, params json.RawMessage) (any, error) {
	var p wire.TextParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return InspectByText(h.doc, p.Text, p.Exact), nil
}

func handleGetInputValue(h *Handler, params json.RawMessage) (any, error) {
	var p wire.SelectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	el, err := h.doc.QuerySelector(p.Selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, nil
	}
	switch {
	case el.HasValue():
		return el.Value(), nil
	case el.IsContentEditable():
		return el.TextContent(), nil
	default:
		return nil, nil
	}
}

func handleClickSelector(h *Handler, params json.RawMessage) (any, error) {
	var p wire.SelectorParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	el, err := h.doc.QuerySelector(p.Selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("Selector not found: %s", p.Selector)
	}
	el.Click()
	return true, nil
}

func handleClickByText(h *Handler, params json.RawMessage) (any, error) {
	var p wire.TextParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	needle := strings.TrimSpace(p.Text)
	el, _ := FindByText(h.doc, needle, p.Exact)
	if el == nil {
		return nil, fmt.Errorf("Element containing text %q not found", needle)
	}
	el.Click()
	return true, nil
}

func handleFillSelector(h *Handler, params json.RawMessage) (any, error) {
	var p wire.FillParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	el, err := h.doc.QuerySelector(p.Selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, fmt.Errorf("Selector not found: %s", p.Selector)
	}
	el.Focus()
	el.SetValue(p.Text)
	el.Dispatch(DOMEvent{Type: "input"})
	el.Dispatch(DOMEvent{Type: "change"})
	return true, nil
}

func handleTypeText(h *Handler, params json.RawMessage) (any, error) {
	var p wire.TypeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	active := h.doc.ActiveElement()
	if active == nil {
		return nil, errors.New("No active element to type into")
	}
	if active.HasValue() {
		active.SetValue(active.Value() + p.Text)
		active.Dispatch(DOMEvent{Type: "input"})
		active.Dispatch(DOMEvent{Type: "change"})
		return true, nil
	}
	active.Dispatch(DOMEvent{Type: "beforeinput", InputType: "insertText", Data: p.Text})
	active.SetTextContent(active.TextContent() + p.Text)
	active.Dispatch(DOMEvent{Type: "input", InputType: "insertText", Data: p.Text})
	return true, nil
}

func handlePressKey(h *Handler, params json.RawMessage) (any, error) {
	var p wire.KeyParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target := h.doc.ActiveElement()
	if target == nil {
		target = h.doc.Body()
	}
	if target == nil {
		return nil, errors.New("No element to receive key events")
	}
	for _, typ := range []string{"keydown", "keypress", "keyup"} {
		target.Dispatch(DOMEvent{Type: typ, Key: p.Key})
	}
	return true, nil
}

func handleMoveMouse(h *Handler, params json.RawMessage) (any, error) {
	var p wire.Point
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target := h.doc.ElementFromPoint(p.X, p.Y)
	if target == nil {
		return nil, errors.New("No element at provided coordinates")
	}
	target.Dispatch(DOMEvent{Type: "mousemove", X: p.X, Y: p.Y})
	return true, nil
}

func handleClickMouse(h *Handler, params json.RawMessage) (any, error) {
	var p wire.Point
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	target := h.doc.ElementFromPoint(p.X, p.Y)
	if target == nil {
		return nil, errors.New("No element at provided coordinates")
	}
	target.Dispatch(DOMEvent{Type: "mousedown", X: p.X, Y: p.Y})
	target.Dispatch(DOMEvent{Type: "mouseup", X: p.X, Y: p.Y})
	target.Click()
	return true, nil
}

func handleDragMouse(h *Handler, params json.RawMessage) (any, error) {
	var p wire.DragParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	start := h.doc.ElementFromPoint(p.From.X, p.From.Y)
	if start == nil {
		return nil, errors.New("No element at starting coordinates")
	}
	start.Dispatch(DOMEvent{Type: "pointerdown", X: p.From.X, Y: p.From.Y})
	h.doc.Dispatch(DOMEvent{Type: "pointermove", X: p.To.X, Y: p.To.Y})
	end := h.doc.ElementFromPoint(p.To.X, p.To.Y)
	if end == nil {
		end = h.doc.Body()
	}
	if end != nil {
		end.Dispatch(DOMEvent{Type: "pointerup", X: p.To.X, Y: p.To.Y})
	}
	return true, nil
}
