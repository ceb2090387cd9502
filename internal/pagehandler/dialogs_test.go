package pagehandler

import (
	"strings"
	"testing"

	"github.com/Berry7028/browserbee/internal/wire"
)

type recordingNative struct {
	alerts   int
	confirms int
	prompts  int
	answer   *string
}

func (n *recordingNative) Alert(string) { n.alerts++ }
func (n *recordingNative) Confirm(string) bool {
	n.confirms++
	return false
}
func (n *recordingNative) Prompt(string, *string) *string {
	n.prompts++
	return n.answer
}

func strPtr(s string) *string { return &s }

func TestDirectiveConsumedExactlyOnce(t *testing.T) {
	native := &recordingNative{answer: strPtr("native")}
	d := NewDialogs(native)

	res := d.Arm(wire.DialogAccept, strPtr("X"))
	if !res.Success {
		t.Fatalf("Arm() = %+v; want success", res)
	}

	got := d.Prompt("name?", nil)
	if got == nil || *got != "X" {
		t.Fatalf("first Prompt() = %v; want X", got)
	}
	if native.prompts != 0 {
		t.Fatalf("native prompt called %d times; want 0", native.prompts)
	}

	got = d.Prompt("name?", nil)
	if got == nil || *got != "native" {
		t.Fatalf("second Prompt() = %v; want native fallthrough", got)
	}
	if native.prompts != 1 {
		t.Fatalf("native prompt called %d times; want 1", native.prompts)
	}
}

func TestPromptAcceptFallsBackToDefault(t *testing.T) {
	d := NewDialogs(&recordingNative{})
	d.Arm(wire.DialogAccept, nil)
	got := d.Prompt("q", strPtr("dflt"))
	if got == nil || *got != "dflt" {
		t.Fatalf("Prompt() = %v; want dflt", got)
	}

	d.Arm(wire.DialogAccept, nil)
	got = d.Prompt("q", nil)
	if got == nil || *got != "" {
		t.Fatalf("Prompt() = %v; want empty string", got)
	}
}

func TestDismissDirective(t *testing.T) {
	native := &recordingNative{}
	d := NewDialogs(native)

	d.Arm(wire.DialogDismiss, nil)
	if got := d.Prompt("q", strPtr("dflt")); got != nil {
		t.Fatalf("Prompt() = %q; want nil", *got)
	}

	d.Arm(wire.DialogAccept, nil)
	if !d.Confirm("sure?") {
		t.Fatalf("Confirm() = false; want true")
	}
	d.Arm(wire.DialogDismiss, nil)
	if d.Confirm("sure?") {
		t.Fatalf("Confirm() = true; want false")
	}

	d.Arm(wire.DialogAccept, nil)
	d.Alert("hi")
	if native.alerts != 0 {
		t.Fatalf("native alert called %d times; want 0", native.alerts)
	}
	d.Alert("again")
	if native.alerts != 1 {
		t.Fatalf("native alert called %d times; want 1", native.alerts)
	}
}

func TestArmRejectsUnknownAction(t *testing.T) {
	d := NewDialogs(&recordingNative{})
	res := d.Arm("ignore", nil)
	if res.Success {
		t.Fatalf("Arm(ignore) succeeded")
	}
	if res.Message != "Unsupported dialog action: ignore" {
		t.Fatalf("Arm(ignore).Message = %q", res.Message)
	}
	if d.Pending() {
		t.Fatalf("Pending() = true after rejected action")
	}
}

func TestArmLastWriterWinsAndReports(t *testing.T) {
	d := NewDialogs(&recordingNative{})
	d.Arm(wire.DialogDismiss, nil)
	res := d.Arm(wire.DialogAccept, nil)
	if !strings.Contains(res.Message, "Replaced a pending dismiss directive") {
		t.Fatalf("Arm() message = %q; want replacement notice", res.Message)
	}
	if !d.Confirm("ok?") {
		t.Fatalf("Confirm() = false; want the latest directive (accept)")
	}
}

func TestLastDialogAndReset(t *testing.T) {
	d := NewDialogs(&recordingNative{})
	if d.Last() != nil {
		t.Fatalf("Last() before any dialog = %+v; want nil", d.Last())
	}
	d.Prompt("name?", strPtr("bob"))
	last := d.Last()
	if last == nil || last.Type != "prompt" || last.Message != "name?" || last.DefaultValue == nil || *last.DefaultValue != "bob" {
		t.Fatalf("Last() = %+v; want prompt name? bob", last)
	}

	d.Arm(wire.DialogAccept, nil)
	d.Reset()
	if d.Last() != nil || d.Pending() {
		t.Fatalf("Reset() left state: last=%+v pending=%v", d.Last(), d.Pending())
	}
}
