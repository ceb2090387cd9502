package wire

// ElementState is a point-in-time observation of a DOM lookup. It is stale
// after any mutating call.
type ElementState struct {
	Found       bool   `json:"found"`
	Visible     bool   `json:"visible"`
	Disabled    bool   `json:"disabled"`
	Description string `json:"description,omitempty"`
	Matches     *int   `json:"matches,omitempty"`
}

// Dialog actions.
const (
	DialogAccept  = "accept"
	DialogDismiss = "dismiss"
)

// DialogState records the most recent native dialog raised in the page.
type DialogState struct {
	Type         string  `json:"type"`
	Message      string  `json:"message,omitempty"`
	DefaultValue *string `json:"defaultValue,omitempty"`
}

// DialogDirective pre-arms the answer to the next native dialog.
type DialogDirective struct {
	Action     string  `json:"action"`
	PromptText *string `json:"promptText,omitempty"`
}

// DialogResult is the answer to handleDialog.
type DialogResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Point is a viewport coordinate in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DragParams describes a pointer drag.
type DragParams struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// Viewport describes the page's visible and scrollable size.
type Viewport struct {
	Width        int  `json:"width"`
	Height       int  `json:"height"`
	ScrollWidth  *int `json:"scrollWidth,omitempty"`
	ScrollHeight *int `json:"scrollHeight,omitempty"`
}

// SnapshotOptions controls getDomSnapshot.
type SnapshotOptions struct {
	Selector  string `json:"selector,omitempty"`
	Clean     bool   `json:"clean,omitempty"`
	Structure bool   `json:"structure,omitempty"`
	Limit     *int   `json:"limit,omitempty"`
}

// SelectorParams addresses an element by CSS or XPath selector.
type SelectorParams struct {
	Selector string `json:"selector"`
}

// TextParams addresses an element by its text content.
type TextParams struct {
	Text  string `json:"text"`
	Exact bool   `json:"exact,omitempty"`
}

// FillParams sets a form control's value.
type FillParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// TypeParams appends text to the focused element.
type TypeParams struct {
	Text string `json:"text"`
}

// KeyParams names a keyboard key.
type KeyParams struct {
	Key string `json:"key"`
}

// OuterHTMLParams bounds querySelectorOuterHTML. A nil Limit returns every
// match.
type OuterHTMLParams struct {
	Selector string `json:"selector"`
	Limit    *int   `json:"limit,omitempty"`
}

// AccessibleTreeParams controls getAccessibleTree.
type AccessibleTreeParams struct {
	InterestingOnly bool `json:"interestingOnly,omitempty"`
}

// AccessibleNode is one node of the simplified accessibility tree.
type AccessibleNode struct {
	Role     string            `json:"role"`
	Name     string            `json:"name"`
	Tag      string            `json:"tag"`
	Children []*AccessibleNode `json:"children,omitempty"`
}

// ResizeImageParams asks the page to scale a JPEG down to TargetWidth.
type ResizeImageParams struct {
	Base64      string `json:"base64"`
	TargetWidth int    `json:"targetWidth"`
	Quality     int    `json:"quality"`
}

// RecompressImageParams asks the page to redraw a JPEG at fixed dimensions.
type RecompressImageParams struct {
	Base64  string `json:"base64"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Quality int    `json:"quality"`
}

// ImageResult is the output of resizeImage and recompressImage.
type ImageResult struct {
	Base64 string `json:"base64"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}
