package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for different elements of a summary.
type ColorScheme struct {
	Header    *color.Color
	Section   *color.Color
	Metric    *color.Color
	Value     *color.Color
	Dim       *color.Color
	Success   *color.Color
	Warn      *color.Color
	Error     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	s := &ColorScheme{
		Header:    color.New(color.FgCyan),
		Section:   color.New(color.Bold),
		Metric:    color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Success:   color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
	// Forced on; SchemeFor decides per writer.
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Header, s.Section, s.Metric, s.Value, s.Dim, s.Success, s.Warn, s.Error, s.Highlight}
}

// SchemeFor picks a scheme for w. noColor forces colors off.
func SchemeFor(w io.Writer, noColor bool) *ColorScheme {
	if noColor || !UseColors(w) {
		return NoColorScheme()
	}
	return DefaultColorScheme()
}

// UseColors reports whether colored output should be written to w.
// NO_COLOR disables colors, FORCE_COLOR enables them, otherwise w must be
// a terminal with a TERM other than dumb.
func UseColors(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !IsTerminal(w) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// SuccessIcon returns a checkmark symbol with appropriate color.
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return DefaultColorScheme().Success.Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color.
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return DefaultColorScheme().Error.Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color.
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return DefaultColorScheme().Warn.Sprint("⚠")
}
