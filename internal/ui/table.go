package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Padding(0, 1)

	tableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	tableBorderStyle = lipgloss.NewStyle().
				Foreground(ColorMuted)
)

// RenderTable lays out rows under headers with the shared CLI styling.
// When stdout is not a TTY the table degrades to plain tab-separated
// lines so output stays pipeable. Tables wider than the terminal are
// clamped to it.
func RenderTable(headers []string, rows [][]string) string {
	if !IsTerminal() {
		return renderPlain(headers, rows)
	}
	headerStyle := tableHeaderStyle
	borderStyle := tableBorderStyle
	if !ShouldUseColor() {
		headerStyle = headerStyle.UnsetForeground()
		borderStyle = borderStyle.UnsetForeground()
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return tableCellStyle
		})
	out := t.Render()
	if w := Width(); lipgloss.Width(out) > w {
		out = t.Width(w).Render()
	}
	return out
}

func renderPlain(headers []string, rows [][]string) string {
	out := joinTabs(headers)
	for _, row := range rows {
		out += "\n" + joinTabs(row)
	}
	return out
}

func joinTabs(cells []string) string {
	line := ""
	for i, c := range cells {
		if i > 0 {
			line += "\t"
		}
		line += c
	}
	return line
}
