package tools

import (
	"strings"
	"unicode/utf8"
)

type tableStyle int

const (
	stylePipe   tableStyle = iota // | a | b |
	stylePresto                   //  a | b
)

// renderTable formats rows as a plain-text table.
func renderTable(style tableStyle, cols []string, rows [][]string) string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = utf8.RuneCountInString(c)
	}
	for _, row := range rows {
		for i := range cols {
			if i < len(row) {
				widths[i] = max(widths[i], utf8.RuneCountInString(row[i]))
			}
		}
	}

	pad := func(s string, w int) string {
		return s + strings.Repeat(" ", w-utf8.RuneCountInString(s))
	}
	line := func(cells []string) string {
		parts := make([]string, len(cols))
		for i := range cols {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = pad(cell, widths[i])
		}
		if style == stylePresto {
			return " " + strings.Join(parts, " | ")
		}
		return "| " + strings.Join(parts, " | ") + " |"
	}

	var b strings.Builder
	b.WriteString(line(cols))
	b.WriteByte('\n')

	seps := make([]string, len(cols))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w+2)
	}
	if style == stylePresto {
		b.WriteString(strings.Join(seps, "+"))
	} else {
		b.WriteString("|" + strings.Join(seps, "|") + "|")
	}

	for _, row := range rows {
		b.WriteByte('\n')
		b.WriteString(line(row))
	}
	return b.String()
}
