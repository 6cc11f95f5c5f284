package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/room4-2/ConverseLive/transport"
)

var (
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	agentColor   = lipgloss.Color("#7C3AED")
)

var (
	badgeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("#FFFFFF"))

	agentStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(agentColor)

	userStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// statusBadge renders a connection state as a colored label
func statusBadge(st transport.State) string {
	color := errorColor
	switch st {
	case transport.Connected:
		color = successColor
	case transport.Connecting:
		color = warningColor
	}
	return badgeStyle.Background(color).Render(st.String())
}
