package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/jobchat/internal/theme"
)

// Layout manages the terminal frame: header, content and status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the title on the left and the given segments, such
// as the signed-in identity and the notification badge, on the right.
func (l Layout) RenderHeader(title string, right ...string) string {
	titleRendered := theme.HeaderStyle.Render(title)

	var segs []string
	for _, s := range right {
		if s != "" {
			segs = append(segs, s)
		}
	}
	statusRendered := theme.HeaderStyle.Render(strings.Join(segs, "  "))

	gap := max(l.Width-lipgloss.Width(titleRendered)-lipgloss.Width(statusRendered), 0)
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, titleRendered, filler, statusRendered)
}

// RenderStatusBar renders the bottom status bar. A non-empty alert replaces
// the hints so errors stay visible.
func (l Layout) RenderStatusBar(hints, alert string) string {
	rendered := theme.StatusBarStyle.Render(hints)
	if alert != "" {
		rendered = theme.StatusBarStyle.Foreground(theme.ColorRed).Render(alert)
	}

	gap := max(l.Width-lipgloss.Width(rendered), 0)
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.StatusBarStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame joins header, content and status bar, padding the content
// to the available height so the status bar stays at the bottom.
func (l Layout) RenderWithFrame(header, content, statusBar string) string {
	body := lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}
