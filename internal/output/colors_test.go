package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestColorSchemes(t *testing.T) {
	scheme := DefaultColorScheme()
	for i, c := range scheme.all() {
		if c == nil {
			t.Fatalf("DefaultColorScheme color %d is nil", i)
		}
	}
	if got := scheme.Success.Sprint("ok"); !strings.Contains(got, "\x1b[") {
		t.Errorf("DefaultColorScheme should emit escape codes, got %q", got)
	}

	plain := NoColorScheme()
	if got := plain.Success.Sprint("ok"); got != "ok" {
		t.Errorf("NoColorScheme should not emit escape codes, got %q", got)
	}
}

func TestIcons(t *testing.T) {
	if SuccessIcon(true) != "✓" {
		t.Error("SuccessIcon(true) should be a plain checkmark")
	}
	if ErrorIcon(true) != "✗" {
		t.Error("ErrorIcon(true) should be a plain cross")
	}
	if WarningIcon(true) != "⚠" {
		t.Error("WarningIcon(true) should be a plain warning sign")
	}
	if !strings.Contains(SuccessIcon(false), "✓") {
		t.Error("SuccessIcon(false) should still contain the checkmark")
	}
}

func TestUseColors(t *testing.T) {
	var buf bytes.Buffer

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "")
	if UseColors(&buf) {
		t.Error("a buffer is not a terminal")
	}

	t.Setenv("FORCE_COLOR", "1")
	if !UseColors(&buf) {
		t.Error("FORCE_COLOR should enable colors")
	}

	t.Setenv("NO_COLOR", "1")
	if UseColors(&buf) {
		t.Error("NO_COLOR should win over FORCE_COLOR")
	}

	if IsTerminal(&buf) {
		t.Error("IsTerminal should be false for a buffer")
	}
}
