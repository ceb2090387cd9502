// Package controller is the service layer behind the HTTP API. It validates
// input, drives the host, registry and toolkit, and reports failures as
// bridge.CodedError values.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/screenshot"
	"github.com/Berry7028/browserbee/internal/tabs"
	"github.com/Berry7028/browserbee/internal/tools"
)

const healthProbeTimeout = 3 * time.Second

// TabView is a tab as the host reports it plus its bridge session state.
type TabView struct {
	ID       host.TabID    `json:"id"`
	WindowID host.WindowID `json:"window_id"`
	Index    int           `json:"index"`
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Active   bool          `json:"active"`
	Status   string        `json:"status,omitempty"`
	State    tabs.State    `json:"state"`
	Current  bool          `json:"current"`
}

// AttachResult reports the outcome of an attach request. Refusal is set
// when the page cannot be scripted.
type AttachResult struct {
	Tab     TabView       `json:"tab"`
	Refusal *tabs.Refusal `json:"refusal,omitempty"`
}

// HealthResult summarizes the bridge state.
type HealthResult struct {
	Status        string     `json:"status"`
	Backend       string     `json:"backend"`
	Connected     bool       `json:"connected"`
	Tabs          int        `json:"tabs"`
	Attached      int        `json:"attached"`
	CurrentTab    host.TabID `json:"current_tab,omitempty"`
	BridgeHealthy bool       `json:"bridge_healthy"`
	UptimeSeconds int64      `json:"uptime_seconds"`
}

type connectedHost interface {
	Connected() bool
}

// Service wraps tab, tool and screenshot operations.
type Service struct {
	host    host.Host
	reg     *tabs.Registry
	kit     *tools.Toolkit
	shots   *screenshot.Store
	backend string
	started time.Time
}

func NewService(h host.Host, reg *tabs.Registry, kit *tools.Toolkit, shots *screenshot.Store, backend string) *Service {
	return &Service{host: h, reg: reg, kit: kit, shots: shots, backend: backend, started: time.Now()}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return bridge.NewError(bridge.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func hostErr(id host.TabID, err error) error {
	if errors.Is(err, host.ErrTabNotFound) {
		return bridge.NewError(bridge.CodeTabNotFound, fmt.Sprintf("tab %s not found", id), err)
	}
	return bridge.NewError(bridge.CodeHostUnavailable, fmt.Sprintf("tab %s", id), err)
}

func (s *Service) view(info host.TabInfo, current host.TabID) TabView {
	return TabView{
		ID:       info.ID,
		WindowID: info.WindowID,
		Index:    info.Index,
		URL:      info.URL,
		Title:    info.Title,
		Active:   info.Active,
		Status:   info.Status,
		State:    s.reg.State(info.ID),
		Current:  info.ID == current,
	}
}

// --- Tab methods ---

func (s *Service) ListTabs(ctx context.Context) ([]TabView, error) {
	list, err := s.host.QueryTabs(ctx)
	if err != nil {
		return nil, bridge.NewError(bridge.CodeHostUnavailable, "query tabs", err)
	}
	current := s.reg.CurrentTabID()
	out := make([]TabView, 0, len(list))
	for _, info := range list {
		out = append(out, s.view(info, current))
	}
	return out, nil
}

func (s *Service) GetTab(ctx context.Context, tabID string) (TabView, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return TabView{}, err
	}
	id := host.TabID(strings.TrimSpace(tabID))
	info, err := s.host.GetTab(ctx, id)
	if err != nil {
		return TabView{}, hostErr(id, err)
	}
	return s.view(info, s.reg.CurrentTabID()), nil
}

func (s *Service) AttachTab(ctx context.Context, tabID string) (AttachResult, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return AttachResult{}, err
	}
	id := host.TabID(strings.TrimSpace(tabID))
	ref, err := s.reg.Attach(ctx, id, 0)
	if err != nil {
		return AttachResult{}, err
	}
	if ref == nil {
		if b, ok := s.reg.BridgeFor(id); ok {
			s.reg.Redirector().Set(b)
		}
	}
	tab, err := s.GetTab(ctx, string(id))
	if err != nil {
		return AttachResult{}, err
	}
	return AttachResult{Tab: tab, Refusal: ref}, nil
}

func (s *Service) ActivateTab(ctx context.Context, tabID string) (TabView, error) {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return TabView{}, err
	}
	id := host.TabID(strings.TrimSpace(tabID))
	if err := s.host.ActivateTab(ctx, id); err != nil {
		return TabView{}, hostErr(id, err)
	}
	return s.GetTab(ctx, string(id))
}

func (s *Service) CloseTab(ctx context.Context, tabID string) error {
	if err := s.requireNonEmpty(tabID, "tab_id"); err != nil {
		return err
	}
	id := host.TabID(strings.TrimSpace(tabID))
	if err := s.host.RemoveTab(ctx, id); err != nil {
		return hostErr(id, err)
	}
	return nil
}

// --- Health methods ---

func (s *Service) Health(ctx context.Context) (HealthResult, error) {
	res := HealthResult{
		Status:        "ok",
		Backend:       s.backend,
		Connected:     true,
		Attached:      len(s.reg.Sessions()),
		CurrentTab:    s.reg.CurrentTabID(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if ch, ok := s.host.(connectedHost); ok {
		res.Connected = ch.Connected()
	}
	if list, err := s.host.QueryTabs(ctx); err == nil {
		res.Tabs = len(list)
	} else {
		slog.Debug("controller health tab query failed", "error", err)
		res.Connected = false
	}

	if b := s.reg.Redirector().Current(); b != nil {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		res.BridgeHealthy = s.reg.IsConnectionHealthy(probeCtx, b)
		cancel()
	}
	if !res.Connected {
		res.Status = "degraded"
	}
	return res, nil
}

// Reset tears down every bridge session.
func (s *Service) Reset(ctx context.Context) bool {
	return s.reg.ForceReset(ctx)
}

// --- Tool methods ---

func (s *Service) ListTools() []tools.Tool {
	return s.kit.List()
}

func (s *Service) RunTool(ctx context.Context, name, input string) (string, error) {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return "", err
	}
	out, err := s.kit.Run(ctx, strings.TrimSpace(name), input)
	if errors.Is(err, tools.ErrUnknownTool) {
		return "", bridge.NewError(bridge.CodeNotFound, err.Error(), err)
	}
	return out, err
}

// --- Screenshot methods ---

func (s *Service) ListScreenshots(ctx context.Context) ([]screenshot.Meta, error) {
	return s.shots.List()
}

func shotErr(err error) error {
	switch {
	case errors.Is(err, screenshot.ErrNotFound):
		return bridge.NewError(bridge.CodeNotFound, err.Error(), err)
	case strings.HasPrefix(err.Error(), "invalid screenshot id"):
		return bridge.NewError(bridge.CodeValidation, err.Error(), err)
	}
	return bridge.NewError(bridge.CodeApplication, err.Error(), err)
}

func (s *Service) GetScreenshot(ctx context.Context, id string) (screenshot.Meta, error) {
	if err := s.requireNonEmpty(id, "screenshot_id"); err != nil {
		return screenshot.Meta{}, err
	}
	meta, err := s.shots.Get(strings.TrimSpace(id))
	if err != nil {
		return screenshot.Meta{}, shotErr(err)
	}
	return meta, nil
}

func (s *Service) ReadScreenshotImage(ctx context.Context, id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "screenshot_id"); err != nil {
		return nil, "", err
	}
	data, format, err := s.shots.ReadImage(strings.TrimSpace(id))
	if err != nil {
		return nil, "", shotErr(err)
	}
	return data, format, nil
}

func (s *Service) DeleteScreenshot(ctx context.Context, id string) error {
	if err := s.requireNonEmpty(id, "screenshot_id"); err != nil {
		return err
	}
	if err := s.shots.Delete(strings.TrimSpace(id)); err != nil {
		return shotErr(err)
	}
	return nil
}

// Events returns the bus the event stream reads from.
func (s *Service) Events() *host.Bus {
	return s.host.Events()
}
