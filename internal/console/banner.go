package console

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Banner writes the given lines centred in a double-bordered box.
func Banner(w io.Writer, lines ...string) {
	r := lipgloss.NewRenderer(w)
	box := r.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(lipgloss.Color("10")).
		Foreground(lipgloss.Color("10")).
		Bold(true).
		Padding(0, 2).
		Width(66).
		Align(lipgloss.Center)
	fmt.Fprintln(w, box.Render(lipgloss.JoinVertical(lipgloss.Center, lines...)))
}

// Heading writes a bold section title.
func Heading(w io.Writer, title string) {
	r := lipgloss.NewRenderer(w)
	fmt.Fprintln(w, r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true).Render(title))
}

// KeyValues writes an aligned two-column listing, preserving order.
func KeyValues(w io.Writer, pairs [][2]string) {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	for _, p := range pairs {
		fmt.Fprintf(w, "  %-*s %s\n", width+1, p[0]+":", p[1])
	}
}
