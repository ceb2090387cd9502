package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/screenshot"
)

const visibleCaptureQuality = 70

func (k *Toolkit) registerTabs() {
	k.add("browser_tab_list", "Return a list of open tabs with their indexes and URLs.", k.tabList)
	k.add("browser_tab_new",
		"Open a new tab. Optional input = URL to navigate to (otherwise blank tab). This does NOT switch "+
			"to the new tab; use browser_tab_select to interact with it.",
		k.tabNew)
	k.add("browser_tab_select",
		"Switch focus to a tab by index. Input = integer index from browser_tab_list.",
		k.tabSelect)
	k.add("browser_tab_close", "Close a tab. Input = index to close (defaults to current tab if blank).", k.tabClose)
	k.add("browser_get_active_tab",
		"Returns information about the currently active tab, including its index, URL, and title.",
		k.getActiveTab)
	k.add("browser_navigate_tab",
		"Navigate a specific tab to a URL. Input format: 'tabIndex|url' (e.g., '1|https://example.com')",
		k.navigateTab)
	k.add("browser_screenshot_tab",
		"Take a screenshot of a specific tab by index. Input format: 'tabIndex[,flags]' (e.g., '1,full')",
		k.screenshotTab)
}

func (k *Toolkit) tabList(ctx context.Context, _ string) string {
	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error listing tabs: " + errMessage(err)
	}
	if len(list) == 0 {
		return "No tabs."
	}
	lines := make([]string, len(list))
	for i, t := range list {
		url := t.URL
		if url == "" {
			url = "<blank>"
		}
		lines[i] = fmt.Sprintf("%d: %s", i, url)
	}
	return strings.Join(lines, "\n")
}

func (k *Toolkit) tabNew(ctx context.Context, input string) string {
	created, err := k.deps.Host.CreateTab(ctx, strings.TrimSpace(input), false)
	if err != nil {
		return "Error opening new tab: " + errMessage(err)
	}
	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error opening new tab: " + errMessage(err)
	}

	title := created.Title
	if title == "" {
		title = "New Tab"
	}
	url := created.URL
	if url == "" {
		url = "about:blank"
	}
	k.publish(host.Event{Kind: host.EventTargetCreated, TabID: created.ID, WindowID: created.WindowID, Title: title, URL: url})

	index := "unknown"
	if i := indexOfTab(list, created.ID); i >= 0 {
		index = strconv.Itoa(i)
	}
	return fmt.Sprintf("Opened new tab (#%s) in window %d. To interact with this tab, use browser_tab_select.", index, created.WindowID)
}

func (k *Toolkit) tabSelect(ctx context.Context, input string) string {
	index, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return "Error: input must be a tab index (integer)."
	}
	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error selecting tab: " + errMessage(err)
	}
	if index < 0 || index >= len(list) {
		return fmt.Sprintf("Error: index %d out of range (0-%d).", index, len(list)-1)
	}
	target := list[index]
	var previous host.TabID
	if i := activeIndex(list); i >= 0 {
		previous = list[i].ID
	}

	if err := k.deps.Host.ActivateTab(ctx, target.ID); err != nil {
		return "Error selecting tab: " + errMessage(err)
	}
	// Keeps the session an activation attach may already have built.
	reg := k.deps.Registry
	ref, attachErr := reg.EnsureAttached(ctx, target.ID, target.WindowID)
	if ref != nil || attachErr != nil {
		slog.Debug("tools tab select left tab unattached", "tab_id", target.ID, "refusal", ref, "error", attachErr)
	}
	if b, ok := reg.BridgeFor(target.ID); ok {
		reg.Redirector().Set(b)
	}
	reg.SetCurrentTabID(target.ID)

	k.publish(host.Event{Kind: host.EventActiveTabChanged, TabID: target.ID, OldTabID: previous, WindowID: target.WindowID, Title: target.Title, URL: target.URL})
	k.publish(host.Event{Kind: host.EventTitleChanged, TabID: target.ID, Title: target.Title})

	switch {
	case ref != nil:
		return fmt.Sprintf("Switched to tab %d, but browser tools cannot control it: %s The active tool context was not changed.", index, ref.Reason)
	case attachErr != nil:
		return fmt.Sprintf("Switched to tab %d, but browser tools could not attach to it: %s The active tool context was not changed.", index, errMessage(attachErr))
	}

	title := target.Title
	if title == "" {
		title = "Unknown"
	}
	url := target.URL
	if url == "" {
		url = "about:blank"
	}
	return fmt.Sprintf("Switched to tab %d. Now active: \"%s\" (%s). Use browser_get_active_tab for more details.", index, title, url)
}

func (k *Toolkit) tabClose(ctx context.Context, input string) string {
	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error closing tab: " + errMessage(err)
	}

	index := -1
	if in := strings.TrimSpace(input); in == "" {
		if b, err := k.activeBridge(); err == nil {
			index = indexOfTab(list, b.TabID())
		} else {
			index = activeIndex(list)
		}
	} else if n, err := strconv.Atoi(in); err == nil {
		index = n
	}
	if index < 0 || index >= len(list) {
		return "Error: invalid tab index."
	}

	target := list[index]
	if err := k.deps.Host.RemoveTab(ctx, target.ID); err != nil {
		return "Error closing tab: " + errMessage(err)
	}
	url := target.URL
	if url == "" {
		url = "about:blank"
	}
	k.publish(host.Event{Kind: host.EventTargetDestroyed, TabID: target.ID, WindowID: target.WindowID, URL: url})
	return fmt.Sprintf("Closed tab %d.", index)
}

// activeTabInfo is the answer of browser_get_active_tab.
type activeTabInfo struct {
	ActiveTabIndex int    `json:"activeTabIndex"`
	URL            string `json:"url"`
	Title          string `json:"title"`
	TotalTabs      int    `json:"totalTabs"`
}

func (k *Toolkit) getActiveTab(ctx context.Context, _ string) string {
	return k.withActiveBridge("Error getting active tab", func(b bridge.Bridge) (string, error) {
		list, err := k.windowTabs(ctx)
		if err != nil {
			return "", err
		}
		url, err := b.GetURL(ctx)
		if err != nil {
			return "", err
		}
		title, err := b.GetTitle(ctx)
		if err != nil {
			return "", err
		}

		idx := indexOfTab(list, b.TabID())
		if idx < 0 {
			idx = activeIndex(list)
		}
		if idx >= 0 {
			if list[idx].URL != "" {
				url = list[idx].URL
			}
			if list[idx].Title != "" {
				title = list[idx].Title
			}
		}
		if title != "" {
			k.publish(host.Event{Kind: host.EventTitleChanged, TabID: b.TabID(), Title: title})
		}

		out, err := json.MarshalIndent(activeTabInfo{ActiveTabIndex: idx, URL: url, Title: title, TotalTabs: len(list)}, "", "  ")
		if err != nil {
			return "", err
		}
		return string(out), nil
	})
}

func (k *Toolkit) navigateTab(ctx context.Context, input string) string {
	parts := strings.Split(input, "|")
	if len(parts) != 2 {
		return "Error: Input must be in the format 'tabIndex|url'"
	}
	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "Error: Tab index must be a number"
	}
	url := strings.TrimSpace(parts[1])

	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error: " + errMessage(err)
	}
	if index < 0 || index >= len(list) {
		return fmt.Sprintf("Error: Tab index %d out of range (0-%d)", index, len(list)-1)
	}
	target := list[index]
	if err := k.deps.Host.NavigateTab(ctx, target.ID, url); err != nil {
		return "Error: " + errMessage(err)
	}

	if updated, err := k.deps.Host.GetTab(ctx, target.ID); err != nil {
		slog.Debug("tools navigate tab lookup failed", "tab_id", target.ID, "error", err)
	} else {
		title := updated.Title
		if title == "" {
			title = url
		}
		k.publish(host.Event{Kind: host.EventTitleChanged, TabID: target.ID, Title: title})
		k.publish(host.Event{Kind: host.EventTargetChanged, TabID: target.ID, URL: url})
	}
	return fmt.Sprintf("Successfully navigated tab %d to %s", index, url)
}

func (k *Toolkit) screenshotTab(ctx context.Context, input string) string {
	parts := strings.Split(input, ",")
	index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "Error: First parameter must be a tab index number"
	}
	fullPage := parseFlags(parts[1:])["full"]

	list, err := k.windowTabs(ctx)
	if err != nil {
		return "Error taking tab screenshot: " + errMessage(err)
	}
	if index < 0 || index >= len(list) {
		return fmt.Sprintf("Error: Tab index %d out of range (0-%d)", index, len(list)-1)
	}
	target := list[index]

	if b, ok := k.deps.Registry.BridgeFor(target.ID); ok {
		note := "Screenshot captured (visible area)"
		if fullPage {
			note = "Screenshot captured (full page)"
		}
		ref, err := k.captureAndStore(ctx, b, fullPage, note)
		if err == nil {
			return ref
		}
		slog.Warn("tools tab bridge screenshot failed, falling back to visible capture", "tab_id", target.ID, "error", err)
	}

	if !target.Active {
		return "Error: Target tab is not active and no bridge is available. Use browser_tab_select first, then retry."
	}
	if fullPage {
		return "Error: Full-page capture requires an active bridge. Try browser_tab_select and reattach the agent before retrying with the 'full' flag."
	}

	raw, err := k.deps.Host.CaptureVisible(ctx, target.ID, host.CaptureOptions{Format: bridge.FormatJPEG, Quality: visibleCaptureQuality})
	if err != nil {
		return "Error taking tab screenshot: " + errMessage(err)
	}
	if len(raw) == 0 {
		return "Error: Failed to capture visible tab."
	}
	meta, err := k.deps.Store.Save(screenshot.Meta{
		TabID:   string(target.ID),
		URL:     target.URL,
		Title:   target.Title,
		Format:  bridge.FormatJPEG,
		Quality: visibleCaptureQuality,
		Chars:   base64.StdEncoding.EncodedLen(len(raw)),
	}, raw)
	if err != nil {
		return "Error taking tab screenshot: " + errMessage(err)
	}
	return refJSON(meta.ID, "Screenshot captured (visible area)")
}

// captureAndStore runs the shrinking pipeline against b and stores the
// result, answering with a screenshotRef.
func (k *Toolkit) captureAndStore(ctx context.Context, b bridge.Bridge, fullPage bool, note string) (string, error) {
	shot, err := k.deps.Pipeline.Capture(ctx, b, fullPage)
	if err != nil {
		return "", err
	}
	raw, err := base64.StdEncoding.DecodeString(shot.Base64)
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	meta := screenshot.Meta{
		TabID:    string(b.TabID()),
		Format:   shot.Format,
		Width:    shot.Width,
		Height:   shot.Height,
		Quality:  shot.Quality,
		FullPage: shot.FullPage,
		Resized:  shot.Resized,
		Chars:    len(shot.Base64),
	}
	if tab, err := k.deps.Host.GetTab(ctx, b.TabID()); err == nil {
		meta.URL, meta.Title = tab.URL, tab.Title
	}
	meta, err = k.deps.Store.Save(meta, raw)
	if err != nil {
		return "", err
	}
	slog.Info("tools stored screenshot", "id", meta.ID, "tab_id", meta.TabID, "chars", meta.Chars)
	return refJSON(meta.ID, note), nil
}

func refJSON(id, note string) string {
	out, _ := json.Marshal(screenshotRef{Type: "screenshotRef", ID: id, Note: note})
	return string(out)
}
