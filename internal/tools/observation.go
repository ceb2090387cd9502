package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/host"
	"github.com/Berry7028/browserbee/internal/wire"
)

const queryLimit = 10

var digitsOnly = regexp.MustCompile(`^\d+$`)

func (k *Toolkit) registerObservation() {
	k.add("browser_get_title", "Return the current page title.", k.getTitle)
	k.add("browser_snapshot_dom",
		"Capture DOM snapshot of the current page. Options (comma-separated):\n"+
			"  selector=<css_selector>  capture only elements matching this selector\n"+
			"  clean                    remove scripts, styles, and other non-visible elements\n"+
			"  structure                return only element tags, ids, and classes (no content)\n"+
			"  limit=<number>           max character length (default 20000)",
		k.snapshotDOM)
	k.add("browser_query", "Return up to 10 outerHTML snippets for a CSS selector you provide.", k.query)
	k.add("browser_accessible_tree",
		"Return the accessibility tree JSON (default: interesting-only). Input 'all' to dump the full tree.",
		k.accessibleTree)
	k.add("browser_read_text", "Return all visible text on the page, concatenated in DOM order.",
		func(ctx context.Context, _ string) string {
			return k.withActiveBridge("Error extracting text", func(b bridge.Bridge) (string, error) {
				text, err := b.GetVisibleText(ctx)
				if err != nil {
					return "", err
				}
				return truncate(text, wire.MaxDOMReturnChars), nil
			})
		})
	k.add("browser_screenshot",
		"Take a screenshot of the current page. Input flags (comma-separated): none for the viewport "+
			"downscaled to 800px wide, full for the whole page downscaled to 1000px wide.",
		k.screenshot)
}

func (k *Toolkit) getTitle(ctx context.Context, _ string) string {
	return k.withActiveBridge("Error getting title", func(b bridge.Bridge) (string, error) {
		title, err := b.GetTitle(ctx)
		if err != nil {
			return "", err
		}
		k.publish(host.Event{Kind: host.EventTitleChanged, TabID: b.TabID(), Title: title})
		return "Current page title: " + title, nil
	})
}

// parseSnapshotOptions reads "clean,structure,selector=...,limit=N" or a
// bare number, which sets the limit.
func parseSnapshotOptions(input string) wire.SnapshotOptions {
	var opts wire.SnapshotOptions
	in := strings.TrimSpace(input)
	if in == "" {
		return opts
	}
	if digitsOnly.MatchString(in) {
		if n, err := strconv.Atoi(in); err == nil {
			opts.Limit = &n
		}
		return opts
	}
	for _, part := range strings.Split(in, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "clean":
			opts.Clean = true
		case part == "structure":
			opts.Structure = true
		case strings.HasPrefix(part, "selector="):
			opts.Selector = strings.TrimPrefix(part, "selector=")
		case strings.HasPrefix(part, "limit="):
			if n, err := strconv.Atoi(strings.TrimPrefix(part, "limit=")); err == nil {
				opts.Limit = &n
			}
		}
	}
	return opts
}

func (k *Toolkit) snapshotDOM(ctx context.Context, input string) string {
	return k.withActiveBridge("Error capturing DOM snapshot", func(b bridge.Bridge) (string, error) {
		opts := parseSnapshotOptions(input)
		limit := wire.MaxDOMReturnChars
		if opts.Limit != nil {
			limit = *opts.Limit
		}
		opts.Limit = &limit
		// The page truncates to the limit itself.
		return b.GetDomSnapshot(ctx, opts)
	})
}

func (k *Toolkit) query(ctx context.Context, selector string) string {
	return k.withActiveBridge("Error querying '"+selector+"'", func(b bridge.Bridge) (string, error) {
		matches, err := b.QuerySelectorOuterHTML(ctx, selector, queryLimit)
		if err != nil {
			return "", err
		}
		if len(matches) == 0 {
			return "No nodes matched " + selector, nil
		}
		return truncate(strings.Join(matches, "\n\n"), wire.MaxDOMReturnChars), nil
	})
}

func (k *Toolkit) accessibleTree(ctx context.Context, input string) string {
	return k.withActiveBridge("Error creating AX snapshot", func(b bridge.Bridge) (string, error) {
		interestingOnly := strings.ToLower(strings.TrimSpace(input)) != "all"
		tree, err := b.GetAccessibleTree(ctx, interestingOnly)
		if err != nil {
			return "", err
		}
		if len(tree) == 0 {
			tree = json.RawMessage("null")
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, tree, "", "  "); err != nil {
			return "", err
		}
		return truncate(buf.String(), wire.MaxDOMReturnChars), nil
	})
}

// screenshotRef is the answer of the screenshot tools.
type screenshotRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Note string `json:"note"`
}

func parseFlags(parts []string) map[string]bool {
	flags := make(map[string]bool, len(parts))
	for _, p := range parts {
		if f := strings.ToLower(strings.TrimSpace(p)); f != "" {
			flags[f] = true
		}
	}
	return flags
}

func (k *Toolkit) screenshot(ctx context.Context, input string) string {
	return k.withActiveBridge("Error taking screenshot", func(b bridge.Bridge) (string, error) {
		fullPage := parseFlags(strings.Split(input, ","))["full"]
		note := "Screenshot captured (viewport only)"
		if fullPage {
			note = "Screenshot captured (full page)"
		}
		ref, err := k.captureAndStore(ctx, b, fullPage, note)
		if bridge.IsCode(err, bridge.CodeSizeExceeded) {
			return "Error: " + errMessage(err), nil
		}
		return ref, err
	})
}
