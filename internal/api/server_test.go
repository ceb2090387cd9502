package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/controller"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/screenshot"
	"github.com/Berry7028/browserbee/internal/tabs"
	"github.com/Berry7028/browserbee/internal/tools"
)

const shotID = "0b6f1e8e-3c6a-4e0c-9d4b-2f3f4a5b6c7d"

type stubService struct {
	bus    *host.Bus
	reset  int
	ranArg string
}

func newStub() *stubService { return &stubService{bus: host.NewBus()} }

func (s *stubService) ListTabs(ctx context.Context) ([]controller.TabView, error) {
	return []controller.TabView{{ID: "T1", WindowID: 1, URL: "https://example.com/", Title: "Example", Active: true, State: tabs.StateAttached, Current: true}}, nil
}
func (s *stubService) GetTab(ctx context.Context, tabID string) (controller.TabView, error) {
	if tabID != "T1" {
		return controller.TabView{}, bridge.NewError(bridge.CodeTabNotFound, "tab "+tabID+" not found", nil)
	}
	return controller.TabView{ID: "T1", State: tabs.StateAttached}, nil
}
func (s *stubService) AttachTab(ctx context.Context, tabID string) (controller.AttachResult, error) {
	if tabID == "blank" {
		return controller.AttachResult{Tab: controller.TabView{ID: "blank"}, Refusal: &tabs.Refusal{Error: "unsupported", Reason: "restricted"}}, nil
	}
	return controller.AttachResult{Tab: controller.TabView{ID: host.TabID(tabID), State: tabs.StateAttached}}, nil
}
func (s *stubService) ActivateTab(ctx context.Context, tabID string) (controller.TabView, error) {
	return controller.TabView{ID: host.TabID(tabID), Active: true}, nil
}
func (s *stubService) CloseTab(ctx context.Context, tabID string) error {
	if tabID == "" {
		return bridge.NewError(bridge.CodeValidation, "tab_id is required", nil)
	}
	return nil
}
func (s *stubService) Health(ctx context.Context) (controller.HealthResult, error) {
	return controller.HealthResult{Status: "ok", Backend: "static", Connected: true, Tabs: 1}, nil
}
func (s *stubService) Reset(ctx context.Context) bool { s.reset++; return true }
func (s *stubService) ListTools() []tools.Tool {
	return []tools.Tool{{Name: "browser_get_title", Description: "Get the page title"}}
}
func (s *stubService) RunTool(ctx context.Context, name, input string) (string, error) {
	if name != "browser_get_title" {
		return "", bridge.NewError(bridge.CodeNotFound, "unknown tool: "+name, nil)
	}
	s.ranArg = input
	return "Example", nil
}
func (s *stubService) ListScreenshots(ctx context.Context) ([]screenshot.Meta, error) { return nil, nil }
func (s *stubService) GetScreenshot(ctx context.Context, id string) (screenshot.Meta, error) {
	return screenshot.Meta{ID: id, Format: "jpeg"}, nil
}
func (s *stubService) ReadScreenshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if id != shotID {
		return nil, "", bridge.NewError(bridge.CodeNotFound, "screenshot not found", nil)
	}
	return []byte{0x89, 'P', 'N', 'G'}, "png", nil
}
func (s *stubService) DeleteScreenshot(ctx context.Context, id string) error { return nil }
func (s *stubService) Events() *host.Bus                                    { return s.bus }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := do(t, NewServer(newStub()), http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
}

func TestEndpoints(t *testing.T) {
	svc := newStub()
	h := NewServer(svc)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"list tabs", http.MethodGet, "/api/v1/tabs", "", http.StatusOK, `"title":"Example"`},
		{"get tab", http.MethodGet, "/api/v1/tabs/T1", "", http.StatusOK, `"state":"attached"`},
		{"missing tab", http.MethodGet, "/api/v1/tabs/T9", "", http.StatusNotFound, "tab T9 not found"},
		{"attach", http.MethodPost, "/api/v1/tabs/T2/attach", "", http.StatusOK, `"id":"T2"`},
		{"attach refused", http.MethodPost, "/api/v1/tabs/blank/attach", "", http.StatusOK, `"refusal":{"error":"unsupported"`},
		{"activate", http.MethodPost, "/api/v1/tabs/T2/activate", "", http.StatusOK, `"active":true`},
		{"close", http.MethodDelete, "/api/v1/tabs/T2", "", http.StatusOK, `"status":"closed"`},
		{"health", http.MethodGet, "/api/v1/health", "", http.StatusOK, `"backend":"static"`},
		{"ping", http.MethodGet, "/health", "", http.StatusOK, `"status":"ok"`},
		{"reset", http.MethodPost, "/api/v1/reset", "", http.StatusOK, `"success":true`},
		{"list tools", http.MethodGet, "/api/v1/tools", "", http.StatusOK, "browser_get_title"},
		{"run tool", http.MethodPost, "/api/v1/tools/browser_get_title", `{"input":"x"}`, http.StatusOK, `"output":"Example"`},
		{"unknown tool", http.MethodPost, "/api/v1/tools/browser_fly", `{}`, http.StatusNotFound, "unknown tool"},
		{"list screenshots", http.MethodGet, "/api/v1/screenshots", "", http.StatusOK, `"screenshots":[]`},
		{"screenshot meta", http.MethodGet, "/api/v1/screenshots/" + shotID, "", http.StatusOK, `"format":"jpeg"`},
		{"missing image", http.MethodGet, "/api/v1/screenshots/nope/image", "", http.StatusNotFound, "screenshot not found"},
		{"delete screenshot", http.MethodDelete, "/api/v1/screenshots/" + shotID, "", http.StatusOK, `"status":"deleted"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("%s %s status = %d, want %d; body %s", tt.method, tt.path, w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("%s %s body = %s; want substring %q", tt.method, tt.path, w.Body.String(), tt.wantBody)
			}
		})
	}
	if svc.reset != 1 {
		t.Errorf("Reset called %d times; want 1", svc.reset)
	}
	if svc.ranArg != "x" {
		t.Errorf("RunTool input = %q; want x", svc.ranArg)
	}
}

func TestScreenshotImageContentType(t *testing.T) {
	w := do(t, NewServer(newStub()), http.MethodGet, "/api/v1/screenshots/"+shotID+"/image", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Content-Type = %q; want image/png", ct)
	}
	if w.Body.Len() != 4 {
		t.Fatalf("body length = %d; want 4", w.Body.Len())
	}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{bridge.CodeValidation, http.StatusBadRequest},
		{bridge.CodeTabNotFound, http.StatusNotFound},
		{bridge.CodeNavigationTimeout, http.StatusGatewayTimeout},
		{bridge.CodeSizeExceeded, http.StatusRequestEntityTooLarge},
		{bridge.CodeTransport, http.StatusBadGateway},
		{bridge.CodeApplication, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		err := mapErr(bridge.NewError(tt.code, "boom", nil))
		se, ok := err.(interface{ GetStatus() int })
		if !ok {
			t.Fatalf("mapErr(%s) = %T; want a status error", tt.code, err)
		}
		if se.GetStatus() != tt.want {
			t.Errorf("mapErr(%s) status = %d; want %d", tt.code, se.GetStatus(), tt.want)
		}
	}
	if mapErr(nil) != nil {
		t.Error("mapErr(nil) != nil")
	}
}

func TestEventsStream(t *testing.T) {
	svc := newStub()
	srv := httptest.NewServer(NewServer(svc))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?kinds=title.changed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for svc.bus.StreamCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never opened")
		}
		time.Sleep(10 * time.Millisecond)
	}
	svc.bus.Publish(host.Event{Kind: host.EventTabCreated, TabID: "T1"})
	svc.bus.Publish(host.Event{Kind: host.EventTitleChanged, TabID: "T1", Title: "Hello"})

	rd := bufio.NewReader(resp.Body)
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read event line: %v", err)
	}
	if line != "event: title.changed\n" {
		t.Fatalf("event line = %q; want filtered title.changed", line)
	}
	data, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read data line: %v", err)
	}
	var evt host.Event
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(data), "data: ")), &evt); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if evt.Title != "Hello" || evt.TabID != "T1" {
		t.Fatalf("event = %+v", evt)
	}
}
