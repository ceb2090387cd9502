package pagehandler

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.Width && y < r.Y+r.Height
}

// Style is the subset of an element's computed style used for visibility.
type Style struct {
	Display    string
	Visibility string
	Opacity    float64
}

// Attr is one element attribute in source order.
type Attr struct {
	Name  string
	Value string
}

// Node is a child of an element: either text or an element.
type Node struct {
	Text string
	Elem Element
}

// DOMEvent is a synthetic event dispatched by the handler.
type DOMEvent struct {
	Type      string  `json:"type"`
	Key       string  `json:"key,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	InputType string  `json:"inputType,omitempty"`
	Data      string  `json:"data,omitempty"`
}

// Element is a DOM element as seen by the handler. Implementations must
// return the same Element value for the same underlying node so elements
// can be compared with ==.
type Element interface {
	// TagName is upper case, as in the DOM.
	TagName() string
	ID() string
	ClassList() []string
	Attrs() []Attr
	Attribute(name string) (string, bool)

	TextContent() string
	SetTextContent(text string)
	Children() []Element
	ChildNodes() []Node
	Parent() Element
	OuterHTML() string

	ComputedStyle() Style
	BoundingRect() Rect
	Disabled() bool

	// HasValue reports whether the element exposes a form value.
	HasValue() bool
	IsContentEditable() bool
	Value() string
	SetValue(v string)

	Focus()
	// Click dispatches a click and runs the element's default action.
	Click()
	Dispatch(evt DOMEvent)
}

// Document is the page the handler runs in.
type Document interface {
	Title() string
	URL() string
	DocumentElement() Element
	Body() Element
	QuerySelector(selector string) (Element, error)
	QuerySelectorAll(selector string) ([]Element, error)
	ActiveElement() Element
	ElementFromPoint(x, y float64) Element
	Dispatch(evt DOMEvent)

	InnerWidth() int
	InnerHeight() int
	ScrollWidth() int
	ScrollHeight() int

	// Dialogs returns the window's current dialog functions and
	// SetDialogs replaces them.
	Dialogs() NativeDialogs
	SetDialogs(d NativeDialogs)
}

// NativeDialogs are the window's alert, confirm and prompt. Prompt returns
// nil when the dialog is dismissed.
type NativeDialogs interface {
	Alert(message string)
	Confirm(message string) bool
	Prompt(message string, defaultValue *string) *string
}
