package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
)

func (k *Toolkit) registerNavigation() {
	k.add("browser_navigate",
		"Navigate the browser to a specific URL. Input must be a full URL, e.g. https://example.com",
		k.navigate)
	k.add("browser_wait_for_navigation",
		"Wait for navigation to complete. Input: load, domcontentloaded, networkidle or all (default).",
		k.waitForNavigation)
	k.add("browser_navigate_back", "Go back to the previous page (history.back()). No input.",
		func(ctx context.Context, _ string) string {
			return k.withActiveBridge("Error going back", func(b bridge.Bridge) (string, error) {
				if err := b.GoBack(ctx); err != nil {
					return "", err
				}
				return "Navigated back.", nil
			})
		})
	k.add("browser_navigate_forward", "Go forward to the next page (history.forward()). No input.",
		func(ctx context.Context, _ string) string {
			return k.withActiveBridge("Error going forward", func(b bridge.Bridge) (string, error) {
				if err := b.GoForward(ctx); err != nil {
					return "", err
				}
				return "Navigated forward.", nil
			})
		})
}

func (k *Toolkit) navigate(ctx context.Context, url string) string {
	return k.withActiveBridge("Error navigating to "+url, func(b bridge.Bridge) (string, error) {
		if err := b.Navigate(ctx, url); err != nil {
			return "", err
		}
		if title, err := b.GetTitle(ctx); err != nil {
			slog.Debug("tools navigate title lookup failed", "tab_id", b.TabID(), "error", err)
		} else {
			k.publish(host.Event{Kind: host.EventTitleChanged, TabID: b.TabID(), Title: title})
			k.publish(host.Event{Kind: host.EventTargetChanged, TabID: b.TabID(), URL: url})
		}
		return "Successfully navigated to " + url, nil
	})
}

func (k *Toolkit) waitForNavigation(ctx context.Context, input string) string {
	return k.withActiveBridge("Error waiting for navigation", func(b bridge.Bridge) (string, error) {
		strategy := bridge.ParseStrategy(input)
		if err := b.WaitForNavigation(ctx, strategy); err != nil {
			return "", err
		}
		switch strategy {
		case bridge.WaitLoad:
			return "Navigation complete (DOM loaded).", nil
		case bridge.WaitDOMContentLoaded:
			return "Navigation complete (DOM content loaded).", nil
		case bridge.WaitNetworkIdle:
			return "Navigation complete (network idle).", nil
		default:
			return "Navigation complete.", nil
		}
	})
}

// splitPair splits "a|b" at the first separator.
func splitPair(input string) (string, string, bool) {
	a, b, ok := strings.Cut(input, "|")
	return a, b, ok
}
