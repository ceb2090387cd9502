package pagehandler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Berry7028/browserbee/internal/wire"
)

// Dialogs wraps a window's native dialogs. Every call records the dialog;
// a pending directive answers it instead of the native dialog and is
// cleared, so each directive is consumed exactly once.
type Dialogs struct {
	native NativeDialogs

	mu        sync.Mutex
	last      *wire.DialogState
	directive *wire.DialogDirective
}

// NewDialogs wraps native.
func NewDialogs(native NativeDialogs) *Dialogs {
	return &Dialogs{native: native}
}

// take records the dialog and removes the pending directive.
func (d *Dialogs) take(state wire.DialogState) *wire.DialogDirective {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = &state
	dir := d.directive
	d.directive = nil
	return dir
}

func (d *Dialogs) Alert(message string) {
	if dir := d.take(wire.DialogState{Type: "alert", Message: message}); dir != nil {
		return
	}
	d.native.Alert(message)
}

func (d *Dialogs) Confirm(message string) bool {
	if dir := d.take(wire.DialogState{Type: "confirm", Message: message}); dir != nil {
		return dir.Action == wire.DialogAccept
	}
	return d.native.Confirm(message)
}

func (d *Dialogs) Prompt(message string, defaultValue *string) *string {
	dir := d.take(wire.DialogState{Type: "prompt", Message: message, DefaultValue: defaultValue})
	if dir == nil {
		return d.native.Prompt(message, defaultValue)
	}
	if dir.Action != wire.DialogAccept {
		return nil
	}
	switch {
	case dir.PromptText != nil:
		v := *dir.PromptText
		return &v
	case defaultValue != nil:
		v := *defaultValue
		return &v
	default:
		v := ""
		return &v
	}
}

// Arm sets the directive for the next dialog. A directive still pending is
// replaced; the result message says so.
func (d *Dialogs) Arm(action string, promptText *string) wire.DialogResult {
	if action != wire.DialogAccept && action != wire.DialogDismiss {
		return wire.DialogResult{Success: false, Message: "Unsupported dialog action: " + action}
	}

	d.mu.Lock()
	prev := d.directive
	d.directive = &wire.DialogDirective{Action: action, PromptText: promptText}
	d.mu.Unlock()

	msg := "Next dialog will be accepted automatically."
	if action == wire.DialogDismiss {
		msg = "Next dialog will be dismissed automatically."
	}
	if prev != nil {
		slog.Debug("pagehandler dialog directive replaced", "previous", prev.Action, "next", action)
		msg += fmt.Sprintf(" Replaced a pending %s directive.", prev.Action)
	}
	return wire.DialogResult{Success: true, Message: msg}
}

// Last returns the most recent dialog, or nil.
func (d *Dialogs) Last() *wire.DialogState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	cp := *d.last
	return &cp
}

// Pending reports whether a directive is armed.
func (d *Dialogs) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.directive != nil
}

// Reset clears the recorded dialog and any pending directive.
func (d *Dialogs) Reset() {
	d.mu.Lock()
	d.last = nil
	d.directive = nil
	d.mu.Unlock()
}
