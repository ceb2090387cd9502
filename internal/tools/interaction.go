package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Berry7028/browserbee/internal/bridge"
	"github.com/Berry7028/browserbee/internal/wire"
)

// selectorLike matches inputs browser_click treats as selectors rather
// than visible text.
var selectorLike = regexp.MustCompile(`[#.\[\]]`)

func (k *Toolkit) registerInteraction() {
	k.add("browser_click",
		"Click an element. Input may be a CSS selector or literal text to match on the page.",
		k.click)
	k.add("browser_type",
		`Type text. Format: selector|text (e.g. input[name="q"]|hello)`,
		k.typeInto)
	k.add("browser_handle_dialog",
		"Accept or dismiss the most recent alert/confirm/prompt dialog.\n"+
			"Input `accept` or `dismiss`. For prompt dialogs you may append `|text` to supply response text.",
		k.handleDialog)
}

func (k *Toolkit) click(ctx context.Context, input string) string {
	return k.withActiveBridge(fmt.Sprintf("Error clicking '%s'", input), func(b bridge.Bridge) (string, error) {
		target := strings.TrimSpace(input)
		if target == "" {
			return "Error: input is empty. Provide a selector or text.", nil
		}

		if selectorLike.MatchString(target) || strings.HasPrefix(target, "//") {
			before, err := b.InspectSelector(ctx, target)
			if err != nil {
				return "", err
			}
			if !before.Found {
				return fmt.Sprintf("Error: selector '%s' could not be located.", target), nil
			}
			if !before.Visible {
				return fmt.Sprintf("Error: selector '%s' was found but is not visible (%s).", target, describeState(before)), nil
			}
			if err := b.ClickSelector(ctx, target); err != nil {
				return "", err
			}
			after, err := b.InspectSelector(ctx, target)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("Located %s. Click executed. Post-check: %s.", describeState(before), describeState(after)), nil
		}

		before, err := b.InspectByText(ctx, target, false)
		if err != nil {
			return "", err
		}
		if !before.Found {
			return fmt.Sprintf("Error: no element containing \"%s\" was found.", target), nil
		}
		if err := b.ClickByText(ctx, target, false); err != nil {
			return "", err
		}
		after, err := b.InspectByText(ctx, target, false)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Located text match %s. Click executed. Post-check: %s.", describeState(before), describeState(after)), nil
	})
}

func (k *Toolkit) typeInto(ctx context.Context, input string) string {
	return k.withActiveBridge(fmt.Sprintf("Error typing into '%s'", input), func(b bridge.Bridge) (string, error) {
		selector, desired, ok := splitPair(input)
		selector = strings.TrimSpace(selector)
		if !ok || selector == "" || desired == "" {
			return "Error: expected 'selector|text'", nil
		}

		before, err := b.InspectSelector(ctx, selector)
		if err != nil {
			return "", err
		}
		if !before.Found {
			return fmt.Sprintf("Error: selector '%s' could not be located.", selector), nil
		}
		if before.Disabled {
			return fmt.Sprintf("Error: selector '%s' is disabled and cannot receive input (%s).", selector, describeState(before)), nil
		}

		if err := b.FillSelector(ctx, selector, desired); err != nil {
			return "", err
		}
		actual, err := b.GetInputValue(ctx, selector)
		if err != nil {
			return "", err
		}
		verification := "Verification successful: field value matches input."
		if actual == nil || *actual != desired {
			observed := ""
			if actual != nil {
				observed = *actual
			}
			verification = fmt.Sprintf("Warning: expected '%s' but observed '%s'.", desired, observed)
		}

		after, err := b.InspectSelector(ctx, selector)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Located %s. Typed \"%s\". %s Post-check: %s.", describeState(before), desired, verification, describeState(after)), nil
	})
}

func (k *Toolkit) handleDialog(ctx context.Context, input string) string {
	return k.withActiveBridge("Error handling dialog", func(b bridge.Bridge) (string, error) {
		last, err := b.GetLastDialog(ctx)
		if err != nil {
			return "", err
		}
		if last == nil {
			return "Error: no dialog is currently open or was detected.", nil
		}

		rawAction, rawText, hasText := splitPair(input)
		action := strings.ToLower(strings.TrimSpace(rawAction))
		if action != wire.DialogAccept && action != wire.DialogDismiss {
			return "Error: first part must be `accept` or `dismiss`.", nil
		}
		var promptText *string
		if action == wire.DialogAccept && hasText {
			if text := strings.TrimSpace(rawText); text != "" {
				promptText = &text
			}
		}
		res, err := b.HandleDialog(ctx, action, promptText)
		if err != nil {
			return "", err
		}
		return res.Message, nil
	})
}

func (k *Toolkit) registerKeyboardAndMouse() {
	k.add("browser_press_key",
		"Press a single key. Input is the key name (e.g. `Enter`, `ArrowLeft`, `a`).",
		func(ctx context.Context, input string) string {
			key := strings.TrimSpace(input)
			return k.withActiveBridge(fmt.Sprintf("Error pressing key '%s'", input), func(b bridge.Bridge) (string, error) {
				if key == "" {
					return "Error: key name required", nil
				}
				if err := b.PressKey(ctx, key); err != nil {
					return "", err
				}
				return "Pressed key: " + key, nil
			})
		})
	k.add("browser_keyboard_type",
		"Type arbitrary text at the current focus location. Input is the literal text to type.",
		func(ctx context.Context, input string) string {
			return k.withActiveBridge("Error typing text", func(b bridge.Bridge) (string, error) {
				if err := b.TypeText(ctx, input); err != nil {
					return "", err
				}
				return fmt.Sprintf("Typed %d characters", utf8.RuneCountInString(input)), nil
			})
		})

	k.add("browser_move_mouse", "Move the mouse pointer to viewport coordinates. Input: 'x,y'.",
		func(ctx context.Context, input string) string {
			pts, err := parsePoints(input, 1)
			if err != nil {
				return "Error: expected 'x,y' coordinates"
			}
			return k.withActiveBridge("Error moving mouse", func(b bridge.Bridge) (string, error) {
				if err := b.MoveMouse(ctx, pts[0]); err != nil {
					return "", err
				}
				return "Moved mouse to " + formatPoint(pts[0]) + ".", nil
			})
		})
	k.add("browser_click_mouse", "Click at viewport coordinates. Input: 'x,y'.",
		func(ctx context.Context, input string) string {
			pts, err := parsePoints(input, 1)
			if err != nil {
				return "Error: expected 'x,y' coordinates"
			}
			return k.withActiveBridge("Error clicking at "+formatPoint(pts[0]), func(b bridge.Bridge) (string, error) {
				if err := b.ClickMouse(ctx, pts[0]); err != nil {
					return "", err
				}
				return "Clicked at " + formatPoint(pts[0]) + ".", nil
			})
		})
	k.add("browser_drag", "Drag the mouse between two viewport points. Input: 'x1,y1,x2,y2'.",
		func(ctx context.Context, input string) string {
			pts, err := parsePoints(input, 2)
			if err != nil {
				return "Error: expected 'x1,y1,x2,y2' coordinates"
			}
			return k.withActiveBridge("Error dragging", func(b bridge.Bridge) (string, error) {
				if err := b.DragMouse(ctx, pts[0], pts[1]); err != nil {
					return "", err
				}
				return "Dragged from " + formatPoint(pts[0]) + " to " + formatPoint(pts[1]) + ".", nil
			})
		})
}

// parsePoints reads n comma-separated coordinate pairs.
func parsePoints(input string, n int) ([]wire.Point, error) {
	fields := strings.Split(input, ",")
	if len(fields) != 2*n {
		return nil, fmt.Errorf("want %d numbers, got %d", 2*n, len(fields))
	}
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	pts := make([]wire.Point, n)
	for i := range pts {
		pts[i] = wire.Point{X: vals[2*i], Y: vals[2*i+1]}
	}
	return pts, nil
}

func formatPoint(p wire.Point) string {
	return "(" + strconv.FormatFloat(p.X, 'f', -1, 64) + ", " + strconv.FormatFloat(p.Y, 'f', -1, 64) + ")"
}
