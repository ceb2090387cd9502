// Package pagehandler answers bridge requests inside a page. It owns the
// method table, the dialog interception layer and the DOM read and write
// operations, all expressed over the Document interface.
package pagehandler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Berry7028/browserbee/internal/wire"
)

// HandlerFunc implements one method of the table.
type HandlerFunc func(h *Handler, params json.RawMessage) (any, error)

var methodTable = map[string]HandlerFunc{
	wire.MethodPing:                   handlePing,
	wire.MethodGetTitle:               handleGetTitle,
	wire.MethodGetURL:                 handleGetURL,
	wire.MethodInspectSelector:        handleInspectSelector,
	wire.MethodInspectByText:          handleInspectByText,
	wire.MethodGetInputValue:          handleGetInputValue,
	wire.MethodClickSelector:          handleClickSelector,
	wire.MethodClickByText:            handleClickByText,
	wire.MethodFillSelector:           handleFillSelector,
	wire.MethodTypeText:               handleTypeText,
	wire.MethodPressKey:               handlePressKey,
	wire.MethodMoveMouse:              handleMoveMouse,
	wire.MethodClickMouse:             handleClickMouse,
	wire.MethodDragMouse:              handleDragMouse,
	wire.MethodGetDomSnapshot:         handleGetDomSnapshot,
	wire.MethodQuerySelectorOuterHTML: handleQuerySelectorOuterHTML,
	wire.MethodGetAccessibleTree:      handleGetAccessibleTree,
	wire.MethodGetVisibleText:         handleGetVisibleText,
	wire.MethodGetViewport:            handleGetViewport,
	wire.MethodGetLastDialog:          handleGetLastDialog,
	wire.MethodHandleDialog:           handleHandleDialog,
	wire.MethodResizeImage:            handleResizeImage,
	wire.MethodRecompressImage:        handleRecompressImage,
	wire.MethodResetDialog:            handleResetDialog,
}

// Methods returns the names in the method table.
func Methods() []string {
	out := make([]string, 0, len(methodTable))
	for name := range methodTable {
		out = append(out, name)
	}
	return out
}

// Handler serves requests for one document. Requests are processed one at
// a time, like a page's event loop.
type Handler struct {
	mu      sync.Mutex
	doc     Document
	dialogs *Dialogs
}

// New installs dialog interception on doc and returns its handler.
func New(doc Document) *Handler {
	d := NewDialogs(doc.Dialogs())
	doc.SetDialogs(d)
	return &Handler{doc: doc, dialogs: d}
}

// Dialogs exposes the interception layer.
func (h *Handler) Dialogs() *Dialogs { return h.dialogs }

// Serve answers req. The second result is false when the request is not
// addressed to this handler, in which case no reply must be sent. Serve
// never panics: handler panics become error replies.
func (h *Handler) Serve(req wire.Request) (reply wire.Reply, ok bool) {
	if req.Target != wire.Target || req.ID == "" || req.Method == "" {
		return wire.Reply{}, false
	}

	fn, found := methodTable[req.Method]
	if !found {
		return wire.Fail(req.ID, "Unknown method: "+req.Method), true
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("pagehandler method panicked", "method", req.Method, "panic", r)
			reply = wire.Fail(req.ID, fmt.Sprint(r))
			ok = true
		}
	}()

	result, err := fn(h, req.Params)
	if err != nil {
		return wire.Fail(req.ID, err.Error()), true
	}
	return wire.OK(req.ID, result), true
}

// ServeJSON decodes a request, serves it and encodes the reply. A nil
// result means no reply.
func (h *Handler) ServeJSON(data []byte) []byte {
	var req wire.Request
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Debug("pagehandler ignoring malformed request", "error", err)
		return nil
	}
	reply, ok := h.Serve(req)
	if !ok {
		return nil
	}
	out, err := json.Marshal(reply)
	if err != nil {
		out, _ = json.Marshal(wire.Fail(req.ID, err.Error()))
	}
	return out
}

func decodeParams(params json.RawMessage, out any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func handlePing(*Handler, json.RawMessage) (any, error) { return wire.PingReply, nil }

func handleGetTitle(h *Handler, _ json.RawMessage) (any, error) { return h.doc.Title(), nil }

func handleGetURL(h *Handler, _ json.RawMessage) (any, error) { return h.doc.URL(), nil }

func handleGetLastDialog(h *Handler, _ json.RawMessage) (any, error) {
	return h.dialogs.Last(), nil
}

func handleHandleDialog(h *Handler, params json.RawMessage) (any, error) {
	var p wire.DialogDirective
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return h.dialogs.Arm(p.Action, p.PromptText), nil
}

func handleResetDialog(h *Handler, _ json.RawMessage) (any, error) {
	h.dialogs.Reset()
	return true, nil
}

func handleGetViewport(h *Handler, _ json.RawMessage) (any, error) {
	sw, sh := h.doc.ScrollWidth(), h.doc.ScrollHeight()
	return wire.Viewport{
		Width:        h.doc.InnerWidth(),
		Height:       h.doc.InnerHeight(),
		ScrollWidth:  &sw,
		ScrollHeight: &sh,
	}, nil
}

func handleResizeImage(_ *Handler, params json.RawMessage) (any, error) {
	var p wire.ResizeImageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return ResizeImage(p)
}

func handleRecompressImage(_ *Handler, params json.RawMessage) (any, error) {
	var p wire.RecompressImageParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	return RecompressImage(p)
}
