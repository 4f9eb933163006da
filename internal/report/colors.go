package report

import (
	"io"
	"os"

	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the report
type ColorScheme struct {
	Heading *color.Color
	Label   *color.Color
	URL     *color.Color
	Value   *color.Color
	Good    *color.Color
	Warn    *color.Color
	Error   *color.Color
	Bar     *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Heading: color.New(color.FgMagenta, color.Bold),
		Label:   color.New(color.Bold),
		URL:     color.New(color.FgCyan),
		Value:   color.New(color.FgWhite),
		Good:    color.New(color.FgGreen, color.Bold),
		Warn:    color.New(color.FgYellow, color.Bold),
		Error:   color.New(color.FgRed, color.Bold),
		Bar:     color.New(color.FgBlue),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// forceColor turns colors on regardless of the global fatih/color setting,
// which only looks at stdout.
func (s *ColorScheme) forceColor() *ColorScheme {
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Heading, s.Label, s.URL, s.Value, s.Good, s.Warn, s.Error, s.Bar}
}

// SchemeFor picks colors for w: only terminals get colors, and never when
// noColor is set or NO_COLOR is in the environment.
func SchemeFor(w io.Writer, noColor bool) *ColorScheme {
	if noColor || os.Getenv("NO_COLOR") != "" || !isTerminal(w) {
		return NoColorScheme()
	}
	return DefaultColorScheme().forceColor()
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return checkIsTerminal(f)
	}
	return false
}
