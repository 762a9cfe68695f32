// Package ui styles terminal output for the sqldown commands.
//
// Colors are only used when stdout is a terminal and the environment allows
// them (NO_COLOR, CLICOLOR_FORCE and TERM are honored through termenv).
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	renderer = newRenderer(os.Stdout)

	passStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	failStyle   lipgloss.Style
	accentStyle lipgloss.Style
	mutedStyle  lipgloss.Style
	boldStyle   lipgloss.Style
)

func init() {
	setStyles()
}

func newRenderer(w io.Writer) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if f, ok := w.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

func setStyles() {
	passStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#81C784"})
	warnStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B26A00", Dark: "#FFB74D"})
	failStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#E57373"}).Bold(true)
	accentStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1565C0", Dark: "#64B5F6"})
	mutedStyle = renderer.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9E9E9E"})
	boldStyle = renderer.NewStyle().Bold(true)
}

// SetOutput rebinds the styles to w. Colors are dropped unless w is a
// terminal.
func SetOutput(w io.Writer) {
	renderer = newRenderer(w)
	setStyles()
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders s as a heading accent.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s as secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderBold renders s in bold.
func RenderBold(s string) string { return boldStyle.Render(s) }

// BarWidth is the width of the bar drawn by RenderBudget.
const BarWidth = 30

// RenderBudget draws used out of max as a bar, colored by how close used is
// to max: pass under 90%, warn up to 100%, fail beyond.
func RenderBudget(used, max int) string {
	if max <= 0 {
		return fmt.Sprintf("%d/%d", used, max)
	}
	filled := used * BarWidth / max
	if filled > BarWidth {
		filled = BarWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", BarWidth-filled)
	label := fmt.Sprintf("%s %d/%d (%d%%)", bar, used, max, used*100/max)

	switch {
	case used > max:
		return RenderFail(label)
	case used*10 >= max*9:
		return RenderWarn(label)
	default:
		return RenderPass(label)
	}
}

// KeyValue renders an indented "key: value" line with the key muted.
func KeyValue(key string, value any) string {
	return fmt.Sprintf("   %s %v", RenderMuted(key+":"), value)
}
