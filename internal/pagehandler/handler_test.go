package pagehandler_test

import (
	"encoding/json"
	"sort"
	"strings"
	"testing"

	"github.com/Berry7028/browserbee/internal/htmldoc"
	"github.com/Berry7028/browserbee/internal/pagehandler"
	"github.com/Berry7028/browserbee/internal/wire"
)

const page = `<html><head><title>Example</title><script>track()</script></head>
<body>
  <h1 id="hdr" data-x="1" onclick="alert('hi')">Welcome</h1>
  <form>
    <input id="email" name="email">
    <button id="go" onclick="var who = prompt('Who?')">Submit</button>
  </form>
  <p class="note">Submit twice</p>
  <nav role="navigation" aria-label="Main"><a href="/a">A</a></nav>
  <div style="display:none">secret</div>
</body></html>`

func newHandler(t *testing.T) (*pagehandler.Handler, *htmldoc.Document) {
	t.Helper()
	doc, err := htmldoc.ParseString("https://example.com/", page)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	return pagehandler.New(doc), doc
}

func call(t *testing.T, h *pagehandler.Handler, method string, params any, out any) wire.Reply {
	t.Helper()
	req, err := wire.NewRequest(wire.NextID(), method, params)
	if err != nil {
		t.Fatalf("NewRequest(%s) error = %v", method, err)
	}
	reply, ok := h.Serve(req)
	if !ok {
		t.Fatalf("Serve(%s) ignored the request", method)
	}
	if reply.ID != req.ID {
		t.Fatalf("reply id = %q; want %q", reply.ID, req.ID)
	}
	if !reply.Failed() && out != nil {
		if err := reply.Decode(out); err != nil {
			t.Fatalf("Decode(%s) error = %v", method, err)
		}
	}
	return reply
}

func TestMethodTableComplete(t *testing.T) {
	got := pagehandler.Methods()
	sort.Strings(got)
	want := []string{
		wire.MethodClickByText, wire.MethodClickMouse, wire.MethodClickSelector,
		wire.MethodDragMouse, wire.MethodFillSelector, wire.MethodGetAccessibleTree,
		wire.MethodGetDomSnapshot, wire.MethodGetInputValue, wire.MethodGetLastDialog,
		wire.MethodGetTitle, wire.MethodGetURL, wire.MethodGetViewport,
		wire.MethodGetVisibleText, wire.MethodHandleDialog, wire.MethodInspectByText,
		wire.MethodInspectSelector, wire.MethodMoveMouse, wire.MethodPing,
		wire.MethodPressKey, wire.MethodQuerySelectorOuterHTML, wire.MethodRecompressImage,
		wire.MethodResetDialog, wire.MethodResizeImage, wire.MethodTypeText,
	}
	sort.Strings(want)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Methods() = %v; want %v", got, want)
	}
}

func TestServeIgnoresForeignMessages(t *testing.T) {
	h, _ := newHandler(t)
	if _, ok := h.Serve(wire.Request{Target: "other", ID: "1", Method: wire.MethodPing}); ok {
		t.Fatalf("Serve() answered a request for another target")
	}
	if _, ok := h.Serve(wire.Request{Target: wire.Target, Method: wire.MethodPing}); ok {
		t.Fatalf("Serve() answered a request without an id")
	}
	if out := h.ServeJSON([]byte("{not json")); out != nil {
		t.Fatalf("ServeJSON(malformed) = %s; want nil", out)
	}
}

func TestServeUnknownMethod(t *testing.T) {
	h, _ := newHandler(t)
	reply := call(t, h, "selfDestruct", nil, nil)
	if reply.Error != "Unknown method: selfDestruct" {
		t.Fatalf("reply.Error = %q; want Unknown method: selfDestruct", reply.Error)
	}
}

func TestServeJSONRoundTrip(t *testing.T) {
	h, _ := newHandler(t)
	out := h.ServeJSON([]byte(`{"target":"content-script-bridge","id":"7","method":"getTitle"}`))
	var reply wire.Reply
	if err := json.Unmarshal(out, &reply); err != nil {
		t.Fatalf("Unmarshal(%s) error = %v", out, err)
	}
	var title string
	if err := reply.Decode(&title); err != nil || reply.ID != "7" || title != "Example" {
		t.Fatalf("reply = %+v (%q, %v); want id 7 title Example", reply, title, err)
	}
}

func TestPingTitleURL(t *testing.T) {
	h, _ := newHandler(t)
	var s string
	call(t, h, wire.MethodPing, nil, &s)
	if s != wire.PingReply {
		t.Fatalf("ping = %q; want pong", s)
	}
	call(t, h, wire.MethodGetURL, nil, &s)
	if s != "https://example.com/" {
		t.Fatalf("getUrl = %q", s)
	}
}

func TestInspect(t *testing.T) {
	h, _ := newHandler(t)

	var st wire.ElementState
	call(t, h, wire.MethodInspectSelector, wire.SelectorParams{Selector: "#go"}, &st)
	if !st.Found || !st.Visible || st.Disabled || st.Description != "button#go" {
		t.Fatalf("inspectSelector(#go) = %+v", st)
	}

	st = wire.ElementState{}
	call(t, h, wire.MethodInspectByText, wire.TextParams{Text: "Submit"}, &st)
	if !st.Found || st.Description != "button#go" || st.Matches == nil || *st.Matches != 2 {
		t.Fatalf("inspectByText(Submit) = %+v; want first match button#go of 2", st)
	}

	st = wire.ElementState{}
	call(t, h, wire.MethodInspectByText, wire.TextParams{Text: "Submit", Exact: true}, &st)
	if st.Matches == nil || *st.Matches != 1 {
		t.Fatalf("inspectByText(Submit, exact) = %+v; want 1 match", st)
	}

	st = wire.ElementState{}
	call(t, h, wire.MethodInspectByText, wire.TextParams{Text: "nowhere"}, &st)
	if st.Found || st.Matches == nil || *st.Matches != 0 {
		t.Fatalf("inspectByText(nowhere) = %+v; want not found with 0 matches", st)
	}

	reply := call(t, h, wire.MethodInspectSelector, wire.SelectorParams{Selector: "div["}, nil)
	if !reply.Failed() {
		t.Fatalf("inspectSelector(invalid) succeeded")
	}
}

func TestFillTypeAndReadBack(t *testing.T) {
	h, doc := newHandler(t)

	var ok bool
	call(t, h, wire.MethodFillSelector, wire.FillParams{Selector: "#email", Text: "a@b.c"}, &ok)
	if !ok {
		t.Fatalf("fillSelector = false")
	}
	call(t, h, wire.MethodTypeText, wire.TypeParams{Text: "om"}, &ok)

	var v *string
	call(t, h, wire.MethodGetInputValue, wire.SelectorParams{Selector: "#email"}, &v)
	if v == nil || *v != "a@b.com" {
		t.Fatalf("getInputValue = %v; want a@b.com", v)
	}

	v = nil
	call(t, h, wire.MethodGetInputValue, wire.SelectorParams{Selector: "#missing"}, &v)
	if v != nil {
		t.Fatalf("getInputValue(missing) = %q; want null", *v)
	}

	var kinds []string
	for _, e := range doc.Events() {
		if e.Target == "input#email" {
			kinds = append(kinds, e.Type)
		}
	}
	if got := strings.Join(kinds, ","); got != "focus,input,change,input,change" {
		t.Fatalf("events on input = %s", got)
	}

	reply := call(t, h, wire.MethodFillSelector, wire.FillParams{Selector: "#missing", Text: "x"}, nil)
	if reply.Error != "Selector not found: #missing" {
		t.Fatalf("fillSelector(missing) error = %q", reply.Error)
	}
}

func TestPressKeyTargetsActiveElement(t *testing.T) {
	h, doc := newHandler(t)
	call(t, h, wire.MethodPressKey, wire.KeyParams{Key: "Enter"}, nil)
	var seq []string
	for _, e := range doc.Events() {
		if e.Key == "Enter" {
			seq = append(seq, e.Target+":"+e.Type)
		}
	}
	if got := strings.Join(seq, ","); got != "body:keydown,body:keypress,body:keyup" {
		t.Fatalf("key events = %s", got)
	}
}

func TestClickByTextMissing(t *testing.T) {
	h, _ := newHandler(t)
	reply := call(t, h, wire.MethodClickByText, wire.TextParams{Text: "  Nope "}, nil)
	if reply.Error != `Element containing text "Nope" not found` {
		t.Fatalf("clickByText error = %q", reply.Error)
	}
}

func TestDialogDirectiveAppliesOnce(t *testing.T) {
	h, doc := newHandler(t)

	var res wire.DialogResult
	text := "X"
	call(t, h, wire.MethodHandleDialog, wire.DialogDirective{Action: wire.DialogAccept, PromptText: &text}, &res)
	if !res.Success || res.Message != "Next dialog will be accepted automatically." {
		t.Fatalf("handleDialog = %+v", res)
	}

	call(t, h, wire.MethodClickSelector, wire.SelectorParams{Selector: "#go"}, nil)
	call(t, h, wire.MethodClickSelector, wire.SelectorParams{Selector: "#go"}, nil)

	calls := doc.DialogCalls()
	if len(calls) != 2 {
		t.Fatalf("DialogCalls() = %+v; want 2", calls)
	}
	if calls[0].Result != "X" {
		t.Fatalf("first prompt result = %v; want X", calls[0].Result)
	}
	if calls[1].Result != nil {
		t.Fatalf("second prompt result = %v; want nil (native dismiss)", calls[1].Result)
	}

	var last wire.DialogState
	call(t, h, wire.MethodGetLastDialog, nil, &last)
	if last.Type != "prompt" || last.Message != "Who?" {
		t.Fatalf("getLastDialog = %+v", last)
	}

	call(t, h, wire.MethodResetDialog, nil, nil)
	var after *wire.DialogState
	call(t, h, wire.MethodGetLastDialog, nil, &after)
	if after != nil {
		t.Fatalf("getLastDialog after reset = %+v; want null", after)
	}

	reply := call(t, h, wire.MethodHandleDialog, wire.DialogDirective{Action: "maybe"}, &res)
	if reply.Failed() || res.Success || res.Message != "Unsupported dialog action: maybe" {
		t.Fatalf("handleDialog(maybe) = %+v %+v", reply, res)
	}
}

func TestDomSnapshotModes(t *testing.T) {
	h, _ := newHandler(t)

	var s string
	call(t, h, wire.MethodGetDomSnapshot, wire.SnapshotOptions{Clean: true}, &s)
	for _, banned := range []string{"<script", "onclick", "data-x", "track()"} {
		if strings.Contains(s, banned) {
			t.Fatalf("clean snapshot contains %q:\n%s", banned, s)
		}
	}
	if !strings.Contains(s, `<h1 id="hdr">Welcome</h1>`) {
		t.Fatalf("clean snapshot missing heading:\n%s", s)
	}

	call(t, h, wire.MethodGetDomSnapshot, wire.SnapshotOptions{Selector: "form", Structure: true}, &s)
	want := "<form>\n  <input#email></input>\n  <button#go></button>\n</form>"
	if s != want {
		t.Fatalf("structure snapshot = %q; want %q", s, want)
	}

	call(t, h, wire.MethodGetDomSnapshot, wire.SnapshotOptions{Selector: "table"}, &s)
	if s != "No elements found matching selector: table" {
		t.Fatalf("snapshot(table) = %q", s)
	}

	limit := 10
	call(t, h, wire.MethodGetDomSnapshot, wire.SnapshotOptions{Limit: &limit}, &s)
	if !strings.HasPrefix(s, "<html><hea") || !strings.Contains(s, "\n\n[Truncated ") {
		t.Fatalf("limited snapshot = %q", s)
	}
}

func TestQuerySelectorOuterHTMLLimit(t *testing.T) {
	h, _ := newHandler(t)
	var out []string
	call(t, h, wire.MethodQuerySelectorOuterHTML, map[string]any{"selector": "body *"}, &out)
	if len(out) < 5 {
		t.Fatalf("querySelectorOuterHTML without limit = %d items", len(out))
	}
	limit := 1
	call(t, h, wire.MethodQuerySelectorOuterHTML, wire.OuterHTMLParams{Selector: "button", Limit: &limit}, &out)
	if len(out) != 1 || !strings.HasPrefix(out[0], `<button id="go"`) {
		t.Fatalf("querySelectorOuterHTML(button, 1) = %v", out)
	}
}

func TestAccessibleTreeInterestingOnly(t *testing.T) {
	h, _ := newHandler(t)
	var nodes []wire.AccessibleNode
	call(t, h, wire.MethodGetAccessibleTree, wire.AccessibleTreeParams{InterestingOnly: true}, &nodes)
	found := false
	for _, n := range nodes {
		if n.Role == "navigation" && n.Name == "Main" && n.Tag == "nav" {
			found = true
		}
	}
	if !found {
		t.Fatalf("interesting nodes missing nav: %+v", nodes)
	}

	var root wire.AccessibleNode
	call(t, h, wire.MethodGetAccessibleTree, nil, &root)
	if root.Tag != "html" || len(root.Children) != 2 {
		t.Fatalf("full tree root = %+v", root)
	}
}

func TestVisibleTextSkipsHidden(t *testing.T) {
	h, _ := newHandler(t)
	var s string
	call(t, h, wire.MethodGetVisibleText, nil, &s)
	if strings.Contains(s, "secret") || !strings.Contains(s, "Welcome") {
		t.Fatalf("getVisibleText = %q", s)
	}
}

func TestViewportAndMouse(t *testing.T) {
	h, doc := newHandler(t)
	doc.SetViewport(640, 480)

	var vp wire.Viewport
	call(t, h, wire.MethodGetViewport, nil, &vp)
	if vp.Width != 640 || vp.Height != 480 || vp.ScrollHeight == nil || *vp.ScrollHeight < 480 {
		t.Fatalf("getViewport = %+v", vp)
	}

	reply := call(t, h, wire.MethodMoveMouse, wire.Point{X: 5000, Y: 5}, nil)
	if reply.Error != "No element at provided coordinates" {
		t.Fatalf("moveMouse outside = %q", reply.Error)
	}
	call(t, h, wire.MethodClickMouse, wire.Point{X: 5, Y: 5}, nil)
	var types []string
	for _, e := range doc.Events() {
		types = append(types, e.Type)
	}
	if got := strings.Join(types, ","); got != "mousedown,mouseup,click" {
		t.Fatalf("clickMouse events = %s", got)
	}
	calls := doc.DialogCalls()
	if len(calls) != 1 || calls[0].Kind != "alert" || calls[0].Message != "hi" {
		t.Fatalf("clickMouse on heading raised %+v; want alert hi", calls)
	}
}
