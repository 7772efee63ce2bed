// Package tui renders layouts and live optimization progress in the terminal.
package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/cwbudde/keyanneal/internal/layout"
)

const cellWidth = 3

// fingerColors follows the finger order of layout.Fingers
var fingerColors = []lipgloss.Color{
	"#8E5EA2", "#3E95CD", "#3CBA9F", "#E8C3B9",
	"#C45850", "#C45850",
	"#E8C3B9", "#3CBA9F", "#3E95CD", "#8E5EA2",
}

var (
	keyStyle = lipgloss.NewStyle().
			Width(cellWidth).
			Align(lipgloss.Center).
			Foreground(lipgloss.Color("#101010"))
	fallbackLeftStyle  = keyStyle.Background(lipgloss.Color("#B0B0B0"))
	fallbackRightStyle = keyStyle.Background(lipgloss.Color("#8C8C8C"))
	changedStyle       = lipgloss.NewStyle().Bold(true).Underline(true)
	emptyCell          = strings.Repeat(" ", cellWidth)
)

// fingerStyle colors a key by the finger that types it
func fingerStyle(id layout.FingerID) lipgloss.Style {
	switch {
	case id == layout.FallbackLeft:
		return fallbackLeftStyle
	case id == layout.FallbackRight:
		return fallbackRightStyle
	case int(id) < len(fingerColors):
		return keyStyle.Background(fingerColors[id])
	default:
		return keyStyle
	}
}

// RenderKeyboard draws l as a colored key grid, one line per row.
// Keys listed in changed are emphasized.
func RenderKeyboard(l *layout.Layout, fingers layout.FingerAssignment, changed map[string]bool) string {
	if l == nil || l.Len() == 0 {
		return ""
	}

	ids := fingers.Resolved(l)
	minRow, maxRow, minCol, maxCol := bounds(l)

	cells := make([][]string, maxRow-minRow+1)
	for r := range cells {
		cells[r] = make([]string, maxCol-minCol+1)
		for c := range cells[r] {
			cells[r][c] = emptyCell
		}
	}

	for i := 0; i < l.Len(); i++ {
		key := l.KeyAt(i)
		p := l.PositionAt(i)

		label := string(key)
		if key == ' ' {
			label = "␣"
		}
		style := fingerStyle(ids[i])
		if changed[string(key)] {
			style = style.Inherit(changedStyle)
		}
		cells[p.Row-minRow][p.Col-minCol] = style.Render(label)
	}

	rows := make([]string, len(cells))
	for r, row := range cells {
		rows[r] = lipgloss.JoinHorizontal(lipgloss.Top, row...)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func bounds(l *layout.Layout) (minRow, maxRow, minCol, maxCol int) {
	p := l.PositionAt(0)
	minRow, maxRow, minCol, maxCol = p.Row, p.Row, p.Col, p.Col
	for i := 1; i < l.Len(); i++ {
		p := l.PositionAt(i)
		minRow, maxRow = min(minRow, p.Row), max(maxRow, p.Row)
		minCol, maxCol = min(minCol, p.Col), max(maxCol, p.Col)
	}
	return minRow, maxRow, minCol, maxCol
}

// ChangedKeys returns the keys that moved between two layouts
func ChangedKeys(from, to *layout.Layout) map[string]bool {
	changed := make(map[string]bool)
	if from == nil || to == nil {
		return changed
	}
	for _, mv := range layout.Diff(from, to) {
		changed[mv.Key] = true
	}
	return changed
}
