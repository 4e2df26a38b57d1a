// Package ui renders chemlab sessions in the terminal: color swatches and
// step lists for the headless runner, and the interactive player.
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chemlab/internal/color"
	"chemlab/internal/engine"
)

// Semantic colors
var (
	Primary     = lipgloss.Color("#101F38")
	Accent      = lipgloss.Color("#8BC34A")
	Muted       = lipgloss.Color("#6B7280")
	Destructive = lipgloss.Color("#e53935")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
)

// Styles groups the styles used across views.
type Styles struct {
	Header   lipgloss.Style
	Bold     lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
	Active   lipgloss.Style
	Panel    lipgloss.Style
	Selected lipgloss.Style
}

// DefaultStyles returns the standard style set.
func DefaultStyles() Styles {
	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f2f2f2")).Background(Primary).Padding(0, 1),
		Bold:     lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(Muted),
		Success:  lipgloss.NewStyle().Foreground(Accent),
		Error:    lipgloss.NewStyle().Foreground(Destructive),
		Warning:  lipgloss.NewStyle().Foreground(Warning),
		Info:     lipgloss.NewStyle().Foreground(Info),
		Active:   lipgloss.NewStyle().Bold(true).Foreground(Accent),
		Panel:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(Muted).Padding(0, 1),
		Selected: lipgloss.NewStyle().Reverse(true),
	}
}

// Swatch renders a block in c. Transparent renders as an outline.
func Swatch(c color.RGB, width int) string {
	block := strings.Repeat(" ", width)
	if !c.Valid {
		return lipgloss.NewStyle().Foreground(Muted).Render(strings.Repeat("░", width))
	}
	return lipgloss.NewStyle().Background(lipgloss.Color(c.Hex())).Render(block)
}

// StepList renders the step checklist.
func StepList(s Styles, steps []engine.StepView) string {
	var sb strings.Builder
	for i, st := range steps {
		mark := s.Muted.Render("[ ]")
		if st.Completed {
			mark = s.Success.Render("[x]")
		}
		title := st.Title
		if st.Active {
			title = s.Active.Render("> " + title)
		} else {
			title = "  " + title
		}
		fmt.Fprintf(&sb, "%s %d. %s\n", mark, i+1, title)
	}
	return sb.String()
}

// Vessels renders one line per vessel: swatch, hex and contents.
func Vessels(s Styles, vessels []engine.VesselView) string {
	var sb strings.Builder
	for _, v := range vessels {
		fmt.Fprintf(&sb, "%s %-8s %s %s\n",
			Swatch(v.Color, 4), v.ID, s.Muted.Render(v.Color.Hex()), Contents(v.Contents))
	}
	return sb.String()
}

// Contents formats a reagent ledger in stable order.
func Contents(contents map[string]float64) string {
	if len(contents) == 0 {
		return "empty"
	}
	ids := make([]string, 0, len(contents))
	for id := range contents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s %.2f", id, contents[id]))
	}
	return strings.Join(parts, ", ")
}

// NoticeStyle picks the style for a notice kind.
func NoticeStyle(s Styles, kind engine.NoticeKind) lipgloss.Style {
	switch kind {
	case engine.NoticeRejected:
		return s.Error
	case engine.NoticePhase:
		return s.Warning
	case engine.NoticeStep:
		return s.Success
	default:
		return s.Info
	}
}
