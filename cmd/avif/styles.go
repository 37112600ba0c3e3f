package main

import "github.com/charmbracelet/lipgloss"

var (
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("#F1FA8C"))
	faint  = lipgloss.NewStyle().Faint(true)
	label  = lipgloss.NewStyle().Bold(true).Width(14)
)
