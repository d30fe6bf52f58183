package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every CLI surface.
var (
	ColorAccent = lipgloss.Color("39")  // blue
	ColorPass   = lipgloss.Color("42")  // green
	ColorWarn   = lipgloss.Color("214") // orange
	ColorErr    = lipgloss.Color("196") // red
	ColorMuted  = lipgloss.Color("245") // grey
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorErr)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)
