package cdphost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var errNotConnected = errors.New("rawcdp: not connected")

// rawCDP speaks the DevTools protocol over one browser-level websocket.
// Tab sessions are flat: commands carry a sessionId in the envelope.
type rawCDP struct {
	httpBase string
	client   *http.Client

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

// cdpError is a protocol-level error answer.
type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func newRawCDP(httpBase string, client *http.Client) *rawCDP {
	if client == nil {
		client = http.DefaultClient
	}
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		client:        client,
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}
	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

func (r *rawCDP) readLoop(conn net.Conn) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.mu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.mu.Unlock()
			r.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		switch {
		case msg.ID > 0:
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			if ok {
				delete(r.pending, msg.ID)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		case msg.Method != "":
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// call sends one command, optionally on a session, and returns the inner
// result of the answer.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, errNotConnected
	}

	id := r.seq.Add(1)
	envelope := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("rawcdp: marshal %s: %w", method, err)
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send %s: %w", method, err)
	}

	var resp json.RawMessage
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: %s: connection closed", method)
		}
		resp = msg
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}

	var answer struct {
		Result json.RawMessage `json:"result"`
		Error  *cdpError       `json:"error"`
	}
	if err := json.Unmarshal(resp, &answer); err != nil {
		return nil, fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if answer.Error != nil {
		return nil, fmt.Errorf("rawcdp: %s: %s", method, answer.Error.Message)
	}
	return answer.Result, nil
}

// callInto sends a command and decodes its result into out.
func (r *rawCDP) callInto(ctx context.Context, sessionID, method string, params, out any) error {
	raw, err := r.call(ctx, sessionID, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s result: %w", method, err)
	}
	return nil
}

func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := r.callInto(ctx, "", "Target.attachToTarget", target.AttachToTarget(targetID).WithFlatten(true), &resp); err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// evaluation is a Runtime.evaluate result. Undefined results have an empty
// Value.
type evaluation struct {
	Type  string
	Value json.RawMessage
}

func (r *rawCDP) evaluate(ctx context.Context, sessionID, js string) (evaluation, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: js, ReturnByValue: true, AwaitPromise: true}

	var resp struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := r.callInto(ctx, sessionID, "Runtime.evaluate", params, &resp); err != nil {
		return evaluation{}, err
	}
	if ex := resp.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return evaluation{}, fmt.Errorf("rawcdp: eval exception: %s", msg)
	}
	return evaluation{Type: resp.Result.Type, Value: resp.Result.Value}, nil
}

// evaluateString runs js and returns its string result. Non-string results
// are returned as their JSON text.
func (r *rawCDP) evaluateString(ctx context.Context, sessionID, js string) (string, error) {
	ev, err := r.evaluate(ctx, sessionID, js)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(ev.Value, &s); err != nil {
		return string(ev.Value), nil
	}
	return s, nil
}

func (r *rawCDP) captureScreenshot(ctx context.Context, sessionID, format string, quality int, fullPage bool) (string, error) {
	params := struct {
		Format                string `json:"format"`
		Quality               int    `json:"quality,omitempty"`
		CaptureBeyondViewport bool   `json:"captureBeyondViewport,omitempty"`
		FromSurface           bool   `json:"fromSurface"`
	}{
		Format:                format,
		FromSurface:           true,
		CaptureBeyondViewport: fullPage,
	}
	if format == "jpeg" && quality > 0 {
		params.Quality = quality
	}

	var resp struct {
		Data string `json:"data"`
	}
	if err := r.callInto(ctx, sessionID, "Page.captureScreenshot", params, &resp); err != nil {
		return "", fmt.Errorf("rawcdp: captureScreenshot: %w", err)
	}
	return resp.Data, nil
}

// registerEventHandler subscribes fn to a CDP event method and returns the
// unsubscribe func.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// listTargets reads open targets from the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]*target.Info, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := r.getJSON(ctx, "/json/list")
	if err != nil {
		return nil, err
	}
	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("rawcdp: decode /json/list: %w", err)
	}
	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{TargetID: target.ID(e.ID), Type: e.Type, Title: e.Title, URL: e.URL})
	}
	return out, nil
}

func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := r.getJSON(ctx, "/json/version")
	if err != nil {
		return "", err
	}
	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", errors.New("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}

func (r *rawCDP) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: %s: HTTP %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
